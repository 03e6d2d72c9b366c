package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// newMockDB returns an sqlx handle backed by sqlmock
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
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

func intakeRow(id, status string, submittedBy any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(intakeColumns).AddRow(
		id, "@contoso/widget", "1.2.3", "Contoso Widget", "A dataverse admin widget", "MIT",
		"assets/icon-dark.svg", "assets/icon-light.svg", nil, "https://github.com/contoso/widget",
		nil, nil, "https://raw.githubusercontent.com/contoso/widget/main/README.md", nil,
		nil, nil, nil, "https://registry.npmjs.org/@contoso/widget/-/widget-1.2.3.tgz", nil,
		submittedBy, status, nil, nil,
		nil, nil, now, now,
	)
}

var userColumns = []string{
	"id", "email", "name", "password_hash", "role", "is_active",
	"created_at", "updated_at", "last_login_at",
}

func userRow(id, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userColumns).AddRow(
		id, email, "Sam Rivera", "x", "user", true, now, now, nil,
	)
}

var toolColumns = []string{
	"id", "package_name", "name", "description", "version",
	"icon_url", "website_url", "created_at", "updated_at",
}

func toolRow(id, packageName string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(toolColumns).AddRow(
		id, packageName, "Contoso Widget", "A dataverse admin widget", "1.2.3",
		nil, nil, now, now,
	)
}

// expectGetIntake queues the three queries GetIntake issues: the row itself
// plus joined categories and contributors
func expectGetIntake(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT \* FROM tool_intakes WHERE id = \$1`).WillReturnRows(rows)
	mock.ExpectQuery(`SELECT c.id, c.name FROM categories`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))
	mock.ExpectQuery(`SELECT co.id, co.name, co.profile_url`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "profile_url", "created_at"}))
}
