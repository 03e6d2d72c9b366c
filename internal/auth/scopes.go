// Package auth - scopes.go defines permission scope constants for the intake
// backend and provides HasScope, HasAnyScope, and HasAllScopes helper functions
// for scope checking.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Intake scopes
	ScopeIntakesRead   Scope = "intakes:read"   // View own intake submissions
	ScopeIntakesWrite  Scope = "intakes:write"  // Submit new intakes
	ScopeIntakesReview Scope = "intakes:review" // Review queue, approve/reject/request changes, trigger conversion

	// Published tool scopes
	ScopeToolsRead  Scope = "tools:read"
	ScopeToolsWrite Scope = "tools:write"

	// User management scopes
	ScopeUsersRead  Scope = "users:read"
	ScopeUsersWrite Scope = "users:write"

	// API key management scopes
	ScopeAPIKeysManage Scope = "api_keys:manage"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeIntakesRead,
		ScopeIntakesWrite,
		ScopeIntakesReview,
		ScopeToolsRead,
		ScopeToolsWrite,
		ScopeUsersRead,
		ScopeUsersWrite,
		ScopeAPIKeysManage,
		ScopeAdmin,
	}
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a user has a required scope
// Supports wildcard admin scope
func HasScope(userScopes []string, required Scope) bool {
	requiredStr := string(required)

	for _, scope := range userScopes {
		// Check for exact match
		if scope == requiredStr {
			return true
		}

		// Check for admin wildcard
		if scope == string(ScopeAdmin) {
			return true
		}

		// Write and review permissions imply read
		if required == ScopeIntakesRead && (scope == string(ScopeIntakesWrite) || scope == string(ScopeIntakesReview)) {
			return true
		}
		if required == ScopeToolsRead && scope == string(ScopeToolsWrite) {
			return true
		}
		if required == ScopeUsersRead && scope == string(ScopeUsersWrite) {
			return true
		}
	}

	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}

// GetDefaultScopes returns default scopes for a new API key
func GetDefaultScopes() []string {
	return []string{
		string(ScopeIntakesRead),
		string(ScopeIntakesWrite),
		string(ScopeToolsRead),
	}
}

// GetAdminScopes returns all scopes including admin
func GetAdminScopes() []string {
	scopes := make([]string, 0)
	for _, scope := range AllScopes() {
		scopes = append(scopes, string(scope))
	}
	return scopes
}

// ScopesForRole maps a user's stored role to the scopes granted on login.
// Admins get the wildcard; everyone else gets the submitter defaults.
func ScopesForRole(role string) []string {
	if role == "admin" {
		return []string{string(ScopeAdmin)}
	}
	return GetDefaultScopes()
}

// ValidateScopeString validates a single scope string
func ValidateScopeString(scope string) error {
	validScopes := ValidScopes()
	if !validScopes[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
