package models

import "time"

// Tool is the published artifact record. The row itself is upserted by the
// external build workflow; this service only verifies its existence after a
// successful build and attaches category links.
type Tool struct {
	ID          string    `db:"id" json:"id"`
	PackageName string    `db:"package_name" json:"package_name"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Version     string    `db:"version" json:"version"`
	IconURL     *string   `db:"icon_url" json:"icon_url,omitempty"`
	WebsiteURL  *string   `db:"website_url" json:"website_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Joined relations, populated by the repository on Get
	Categories []Category `db:"-" json:"categories,omitempty"`
}
