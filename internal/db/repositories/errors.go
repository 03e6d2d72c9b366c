// Package repositories implements the database access layer. Repositories
// return (nil, nil) for lookups that find no row; sentinel errors below cover
// the cases callers need to branch on for HTTP status mapping.
package repositories

import "errors"

var (
	// ErrDuplicatePackage is returned when an intake insert violates the
	// unique constraint on package_name. The constraint covers every status,
	// so a package that was rejected or converted still cannot be resubmitted.
	ErrDuplicatePackage = errors.New("an intake for this package already exists")

	// ErrIntakeNotFound is returned by conditional updates when no intake row
	// has the given id.
	ErrIntakeNotFound = errors.New("intake not found")

	// ErrStatusConflict is returned when a conditional status update matches
	// the id but not the expected prior status. This covers both a plainly
	// wrong state and a lost race between two concurrent transitions.
	ErrStatusConflict = errors.New("intake is not in the required status")

	// ErrActiveJobExists is returned when a conversion job is requested for an
	// intake that already has a queued or running job.
	ErrActiveJobExists = errors.New("a conversion job for this intake is already active")
)

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"
