// conversion_job_repository.go implements ConversionJobRepository, the state
// store for asynchronous intake-to-tool conversion jobs.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
)

// ConversionJobRepository handles database operations for conversion jobs
type ConversionJobRepository struct {
	db *sqlx.DB
}

// NewConversionJobRepository creates a new conversion job repository
func NewConversionJobRepository(db *sqlx.DB) *ConversionJobRepository {
	return &ConversionJobRepository{db: db}
}

// CreateJob inserts a queued job for an intake. The NOT EXISTS guard rejects
// the insert inside a single statement when a queued or running job for the
// same intake already exists, so two admins cannot start concurrent
// conversions of one intake.
func (r *ConversionJobRepository) CreateJob(ctx context.Context, intakeID, requestedBy string) (*models.ConversionJob, error) {
	var job models.ConversionJob
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO conversion_jobs (intake_id, requested_by, status)
		 SELECT $1, $2, $3
		 WHERE NOT EXISTS (
			SELECT 1 FROM conversion_jobs
			WHERE intake_id = $1 AND status IN ($4, $5)
		 )
		 RETURNING id, intake_id, status, requested_by, created_at`,
		intakeID, requestedBy, models.JobStatusQueued,
		models.JobStatusQueued, models.JobStatusRunning,
	).StructScan(&job)
	if err == sql.ErrNoRows {
		return nil, ErrActiveJobExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion job: %w", err)
	}
	return &job, nil
}

// GetJob retrieves a conversion job by ID
func (r *ConversionJobRepository) GetJob(ctx context.Context, id string) (*models.ConversionJob, error) {
	var job models.ConversionJob
	err := r.db.GetContext(ctx, &job, `SELECT * FROM conversion_jobs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion job: %w", err)
	}
	return &job, nil
}

// ListJobsForIntake returns all conversion jobs for an intake, newest first
func (r *ConversionJobRepository) ListJobsForIntake(ctx context.Context, intakeID string) ([]*models.ConversionJob, error) {
	jobs := []*models.ConversionJob{}
	err := r.db.SelectContext(ctx, &jobs,
		`SELECT * FROM conversion_jobs WHERE intake_id = $1 ORDER BY created_at DESC`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversion jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning transitions a queued job to running and stamps started_at
func (r *ConversionJobRepository) MarkRunning(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET status = $2, started_at = now()
		 WHERE id = $1 AND status = $3`,
		id, models.JobStatusRunning, models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s is not queued", id)
	}
	return nil
}

// FinishJob records a job's terminal status together with the workflow
// conclusion, resolved tool id, outcome report, and error message
func (r *ConversionJobRepository) FinishJob(ctx context.Context, id, status string, conclusion, toolID *string, outcome models.OutcomeReport, jobErr *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversion_jobs
		 SET status = $2, workflow_conclusion = $3, tool_id = $4, outcome = $5, error = $6, finished_at = now()
		 WHERE id = $1`,
		id, status, conclusion, toolID, outcome, jobErr,
	)
	if err != nil {
		return fmt.Errorf("failed to finish conversion job: %w", err)
	}
	return nil
}
