package models

import (
	"time"

	"github.com/lib/pq"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account that can submit intakes or, with the admin role,
// review them
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	Name         string     `db:"name" json:"name"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         string     `db:"role" json:"role"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// APIKey represents a long-lived bearer credential. Only the bcrypt hash is
// stored; the plaintext prefix enables an indexed candidate lookup.
type APIKey struct {
	ID         string         `db:"id" json:"id"`
	UserID     string         `db:"user_id" json:"user_id"`
	Name       string         `db:"name" json:"name"`
	KeyPrefix  string         `db:"key_prefix" json:"key_prefix"`
	KeyHash    string         `db:"key_hash" json:"-"`
	Scopes     pq.StringArray `db:"scopes" json:"scopes"`
	ExpiresAt  *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	IsActive   bool           `db:"is_active" json:"is_active"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
