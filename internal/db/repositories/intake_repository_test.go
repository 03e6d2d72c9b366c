package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
)

// newIntakeRepo returns a repository backed by a sqlmock database
func newIntakeRepo(t *testing.T) (*IntakeRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIntakeRepository(sqlx.NewDb(db, "postgres")), mock
}

// intakeColumns matches SELECT * FROM tool_intakes
var intakeColumns = []string{
	"id", "package_name", "version", "display_name", "description", "license",
	"icon_dark", "icon_light", "csp_exceptions", "repository_url",
	"website_url", "funding_url", "readme_url", "icon_url",
	"multi_connection", "min_api", "max_api", "tarball_url", "tarball_checksum",
	"submitted_by", "status", "validation_warnings", "reviewer_notes",
	"reviewed_by", "reviewed_at", "created_at", "updated_at",
}

func intakeRow(id, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(intakeColumns).AddRow(
		id, "pptb-sample-tool", "1.2.3", "Sample Tool", "A sample tool", "MIT",
		"assets/icon-dark.svg", "assets/icon-light.svg", nil, "https://github.com/acme/sample-tool",
		nil, nil, "https://raw.githubusercontent.com/acme/sample-tool/main/README.md", nil,
		nil, nil, nil, "https://registry.npmjs.org/pptb-sample-tool/-/pptb-sample-tool-1.2.3.tgz", nil,
		nil, status, nil, nil,
		nil, nil, now, now,
	)
}

func TestCreateIntake(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	intake := &models.ToolIntake{
		PackageName:   "pptb-sample-tool",
		Version:       "1.2.3",
		DisplayName:   "Sample Tool",
		Description:   "A sample tool",
		License:       "MIT",
		IconDark:      "assets/icon-dark.svg",
		IconLight:     "assets/icon-light.svg",
		RepositoryURL: "https://github.com/acme/sample-tool",
		ReadmeURL:     "https://raw.githubusercontent.com/acme/sample-tool/main/README.md",
		TarballURL:    "https://registry.npmjs.org/pptb-sample-tool/-/pptb-sample-tool-1.2.3.tgz",
	}

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tool_intakes`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("intake-1", now, now))
	mock.ExpectExec(`INSERT INTO tool_intake_categories`).
		WithArgs("intake-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO contributors`).
		WithArgs("Jane Doe", "https://github.com/janedoe").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("contrib-1"))
	mock.ExpectExec(`INSERT INTO tool_intake_contributors`).
		WithArgs("intake-1", "contrib-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.CreateIntake(context.Background(), intake,
		[]int{2},
		[]models.Contributor{{Name: "Jane Doe", ProfileURL: "https://github.com/janedoe"}},
	)
	if err != nil {
		t.Fatalf("CreateIntake returned error: %v", err)
	}

	if intake.ID != "intake-1" {
		t.Errorf("expected intake ID to be populated, got %q", intake.ID)
	}
	if intake.Status != models.IntakeStatusPendingReview {
		t.Errorf("expected status pending_review, got %q", intake.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateIntake_DuplicatePackage(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO tool_intakes`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tool_intakes_package_name_key"})
	mock.ExpectRollback()

	err := repo.CreateIntake(context.Background(), &models.ToolIntake{PackageName: "pptb-sample-tool"}, nil, nil)
	if !errors.Is(err, ErrDuplicatePackage) {
		t.Fatalf("expected ErrDuplicatePackage, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	notes := "Looks good"
	mock.ExpectExec(`UPDATE tool_intakes`).
		WithArgs("intake-1", models.IntakeStatusApproved, "Looks good", "admin-1", models.IntakeStatusPendingReview).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM tool_intakes WHERE id`).
		WithArgs("intake-1").
		WillReturnRows(intakeRow("intake-1", models.IntakeStatusApproved))
	mock.ExpectQuery(`SELECT c.id, c.name FROM categories`).
		WithArgs("intake-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(2, "Development"))
	mock.ExpectQuery(`SELECT co.id, co.name, co.profile_url`).
		WithArgs("intake-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "profile_url", "created_at"}))

	intake, err := repo.SetStatus(context.Background(), "intake-1", models.IntakeStatusApproved, &notes, "admin-1")
	if err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}
	if intake.Status != models.IntakeStatusApproved {
		t.Errorf("expected status approved, got %q", intake.Status)
	}
	if len(intake.Categories) != 1 || intake.Categories[0].Name != "Development" {
		t.Errorf("expected joined category Development, got %+v", intake.Categories)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetStatus_WrongStatus(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectExec(`UPDATE tool_intakes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("intake-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.SetStatus(context.Background(), "intake-1", models.IntakeStatusApproved, nil, "admin-1")
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestSetStatus_NotFound(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectExec(`UPDATE tool_intakes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.SetStatus(context.Background(), "missing", models.IntakeStatusApproved, nil, "admin-1")
	if !errors.Is(err, ErrIntakeNotFound) {
		t.Fatalf("expected ErrIntakeNotFound, got %v", err)
	}
}

func TestMarkConverted(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectExec(`UPDATE tool_intakes SET status`).
		WithArgs("intake-1", models.IntakeStatusConvertedToTool, models.IntakeStatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkConverted(context.Background(), "intake-1"); err != nil {
		t.Fatalf("MarkConverted returned error: %v", err)
	}
}

func TestMarkConverted_NotApproved(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectExec(`UPDATE tool_intakes SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("intake-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.MarkConverted(context.Background(), "intake-1")
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestGetIntake_NotFound(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectQuery(`SELECT \* FROM tool_intakes WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(intakeColumns))

	intake, err := repo.GetIntake(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetIntake returned error: %v", err)
	}
	if intake != nil {
		t.Errorf("expected nil for missing intake, got %+v", intake)
	}
}

func TestListIntakes_StatusFilter(t *testing.T) {
	repo, mock := newIntakeRepo(t)

	mock.ExpectQuery(`SELECT \* FROM tool_intakes WHERE 1=1 AND status`).
		WithArgs(models.IntakeStatusPendingReview, 20, 0).
		WillReturnRows(intakeRow("intake-1", models.IntakeStatusPendingReview))

	intakes, err := repo.ListIntakes(context.Background(), models.IntakeStatusPendingReview, "", 20, 0)
	if err != nil {
		t.Fatalf("ListIntakes returned error: %v", err)
	}
	if len(intakes) != 1 {
		t.Fatalf("expected 1 intake, got %d", len(intakes))
	}
	if intakes[0].PackageName != "pptb-sample-tool" {
		t.Errorf("unexpected package name %q", intakes[0].PackageName)
	}
}
