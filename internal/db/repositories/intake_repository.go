// intake_repository.go implements IntakeRepository, the single write path for
// tool intake records, their category links, and contributor identities.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
)

// IntakeRepository handles database operations for tool intakes
type IntakeRepository struct {
	db *sqlx.DB
}

// NewIntakeRepository creates a new intake repository
func NewIntakeRepository(db *sqlx.DB) *IntakeRepository {
	return &IntakeRepository{db: db}
}

// CreateIntake inserts a new intake together with its category links and
// contributor identities in one transaction. Duplicate package names surface
// as ErrDuplicatePackage via the unique constraint on tool_intakes, so two
// concurrent submissions of the same package cannot both succeed.
func (r *IntakeRepository) CreateIntake(ctx context.Context, intake *models.ToolIntake, categoryIDs []int, contributors []models.Contributor) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO tool_intakes (
			package_name, version, display_name, description, license,
			icon_dark, icon_light, csp_exceptions, repository_url,
			website_url, funding_url, readme_url, icon_url,
			multi_connection, min_api, max_api, tarball_url, tarball_checksum,
			submitted_by, status, validation_warnings
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21
		)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		intake.PackageName, intake.Version, intake.DisplayName, intake.Description, intake.License,
		intake.IconDark, intake.IconLight, intake.CSPExceptions, intake.RepositoryURL,
		intake.WebsiteURL, intake.FundingURL, intake.ReadmeURL, intake.IconURL,
		intake.MultiConnection, intake.MinAPI, intake.MaxAPI, intake.TarballURL, intake.TarballChecksum,
		intake.SubmittedBy, models.IntakeStatusPendingReview, intake.Warnings,
	).Scan(&intake.ID, &intake.CreatedAt, &intake.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicatePackage
		}
		return fmt.Errorf("failed to create intake: %w", err)
	}
	intake.Status = models.IntakeStatusPendingReview

	for _, categoryID := range categoryIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tool_intake_categories (intake_id, category_id) VALUES ($1, $2)`,
			intake.ID, categoryID,
		)
		if err != nil {
			return fmt.Errorf("failed to link category %d: %w", categoryID, err)
		}
	}

	for _, contributor := range contributors {
		contributorID, err := findOrCreateContributor(ctx, tx, contributor.Name, contributor.ProfileURL)
		if err != nil {
			return fmt.Errorf("failed to resolve contributor %q: %w", contributor.Name, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tool_intake_contributors (intake_id, contributor_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			intake.ID, contributorID,
		)
		if err != nil {
			return fmt.Errorf("failed to link contributor %q: %w", contributor.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit intake: %w", err)
	}
	return nil
}

// findOrCreateContributor resolves a contributor identity keyed by
// (name, profile_url) so the same contributor across submissions shares one
// row. The no-op UPDATE in the conflict arm makes RETURNING yield the
// existing id.
func findOrCreateContributor(ctx context.Context, tx *sqlx.Tx, name, profileURL string) (string, error) {
	var id string
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO contributors (name, profile_url) VALUES ($1, $2)
		 ON CONFLICT (name, profile_url) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, profileURL,
	).Scan(&id)
	return id, err
}

// GetIntake retrieves an intake by ID with its categories and contributors
func (r *IntakeRepository) GetIntake(ctx context.Context, id string) (*models.ToolIntake, error) {
	var intake models.ToolIntake
	err := r.db.GetContext(ctx, &intake, `SELECT * FROM tool_intakes WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intake: %w", err)
	}

	err = r.db.SelectContext(ctx, &intake.Categories,
		`SELECT c.id, c.name FROM categories c
		 JOIN tool_intake_categories tic ON tic.category_id = c.id
		 WHERE tic.intake_id = $1
		 ORDER BY c.name`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake categories: %w", err)
	}

	err = r.db.SelectContext(ctx, &intake.Contributors,
		`SELECT co.id, co.name, co.profile_url, co.created_at FROM contributors co
		 JOIN tool_intake_contributors tico ON tico.contributor_id = co.id
		 WHERE tico.intake_id = $1
		 ORDER BY co.name`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake contributors: %w", err)
	}

	return &intake, nil
}

// GetIntakeByPackageName retrieves an intake by its package name
func (r *IntakeRepository) GetIntakeByPackageName(ctx context.Context, packageName string) (*models.ToolIntake, error) {
	var intake models.ToolIntake
	err := r.db.GetContext(ctx, &intake, `SELECT * FROM tool_intakes WHERE package_name = $1`, packageName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intake by package name: %w", err)
	}
	return &intake, nil
}

// ListIntakes returns intakes, optionally filtered by status and submitter
func (r *IntakeRepository) ListIntakes(ctx context.Context, status, submittedBy string, limit, offset int) ([]*models.ToolIntake, error) {
	query := `SELECT * FROM tool_intakes WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if submittedBy != "" {
		args = append(args, submittedBy)
		query += fmt.Sprintf(" AND submitted_by = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	intakes := []*models.ToolIntake{}
	if err := r.db.SelectContext(ctx, &intakes, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list intakes: %w", err)
	}
	return intakes, nil
}

// SetStatus transitions an intake out of pending_review, stamping reviewer
// identity and timestamp. The WHERE guard on the prior status makes the
// transition atomic: if another reviewer won the race, zero rows are affected
// and ErrStatusConflict is returned instead of silently overwriting.
func (r *IntakeRepository) SetStatus(ctx context.Context, id, newStatus string, notes *string, reviewerID string) (*models.ToolIntake, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tool_intakes
		 SET status = $2, reviewer_notes = $3, reviewed_by = $4, reviewed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = $5`,
		id, newStatus, notes, reviewerID, models.IntakeStatusPendingReview,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update intake status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return nil, r.classifyMiss(ctx, id)
	}

	return r.GetIntake(ctx, id)
}

// MarkConverted flips an approved intake to converted_to_tool. The status
// guard means a conversion job that lost a race (or ran against a reviewed
// intake) fails loudly rather than advancing the wrong record.
func (r *IntakeRepository) MarkConverted(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tool_intakes SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, models.IntakeStatusConvertedToTool, models.IntakeStatusApproved,
	)
	if err != nil {
		return fmt.Errorf("failed to mark intake converted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// classifyMiss distinguishes a missing intake from one in the wrong status
// after a guarded update matched no rows
func (r *IntakeRepository) classifyMiss(ctx context.Context, id string) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM tool_intakes WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("failed to check intake existence: %w", err)
	}
	if !exists {
		return ErrIntakeNotFound
	}
	return ErrStatusConflict
}

// GetIntakeCategoryIDs returns the category ids linked to an intake
func (r *IntakeRepository) GetIntakeCategoryIDs(ctx context.Context, id string) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT category_id FROM tool_intake_categories WHERE intake_id = $1 ORDER BY category_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get intake category ids: %w", err)
	}
	return ids, nil
}

// CountPendingOlderThan counts intakes that have been waiting for review
// longer than the given age. Used by the pending-review reminder job.
func (r *IntakeRepository) CountPendingOlderThan(ctx context.Context, age time.Duration) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM tool_intakes WHERE status = $1 AND created_at < now() - $2::interval`,
		models.IntakeStatusPendingReview, fmt.Sprintf("%d seconds", int(age.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending intakes: %w", err)
	}
	return count, nil
}
