// Package models defines the database row types shared by the repositories and
// API handlers. Optional columns are pointers so NULL survives a round trip,
// and JSONB columns use the helper types in jsonb.go.
package models

import "time"

// Intake review lifecycle statuses. pending_review is the initial state;
// rejected and converted_to_tool are terminal. validation_failed is only used
// on the update-existing-tool path.
const (
	IntakeStatusPendingReview    = "pending_review"
	IntakeStatusApproved         = "approved"
	IntakeStatusRejected         = "rejected"
	IntakeStatusNeedsChanges     = "needs_changes"
	IntakeStatusConvertedToTool  = "converted_to_tool"
	IntakeStatusValidationFailed = "validation_failed"
)

// ToolIntake represents a submitted-but-not-yet-published tool awaiting review
type ToolIntake struct {
	ID              string          `db:"id" json:"id"`
	PackageName     string          `db:"package_name" json:"package_name"`
	Version         string          `db:"version" json:"version"`
	DisplayName     string          `db:"display_name" json:"display_name"`
	Description     string          `db:"description" json:"description"`
	License         string          `db:"license" json:"license"`
	IconDark        string          `db:"icon_dark" json:"icon_dark"`
	IconLight       string          `db:"icon_light" json:"icon_light"`
	CSPExceptions   CSPExceptions   `db:"csp_exceptions" json:"csp_exceptions,omitempty"`
	RepositoryURL   string          `db:"repository_url" json:"repository_url"`
	WebsiteURL      *string         `db:"website_url" json:"website_url,omitempty"`
	FundingURL      *string         `db:"funding_url" json:"funding_url,omitempty"`
	ReadmeURL       string          `db:"readme_url" json:"readme_url"`
	IconURL         *string         `db:"icon_url" json:"icon_url,omitempty"`
	MultiConnection *string         `db:"multi_connection" json:"multi_connection,omitempty"`
	MinAPI          *string         `db:"min_api" json:"min_api,omitempty"`
	MaxAPI          *string         `db:"max_api" json:"max_api,omitempty"`
	TarballURL      string          `db:"tarball_url" json:"tarball_url"`
	TarballChecksum *string         `db:"tarball_checksum" json:"tarball_checksum,omitempty"`
	SubmittedBy     *string         `db:"submitted_by" json:"submitted_by,omitempty"`
	Status          string          `db:"status" json:"status"`
	Warnings        JSONStringSlice `db:"validation_warnings" json:"validation_warnings,omitempty"`
	ReviewerNotes   *string         `db:"reviewer_notes" json:"reviewer_notes,omitempty"`
	ReviewedBy      *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	// Joined relations, populated by the repository on Get
	Categories   []Category    `db:"-" json:"categories,omitempty"`
	Contributors []Contributor `db:"-" json:"contributors,omitempty"`
}

// Contributor is a deduplicated identity shared by reference across intakes
// and tools, keyed by (name, profile_url)
type Contributor struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	ProfileURL string    `db:"profile_url" json:"profile_url"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Category is a fixed taxonomy entry; an intake or tool declares 1-3 of them
type Category struct {
	ID   int    `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
