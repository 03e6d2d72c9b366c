// Package validation implements the submission contract checks for tool
// intake packages: metadata validation, tarball structure inspection, and
// semver parsing of version markers.
package validation

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// ValidateSemver checks that a version string parses as semantic versioning
func ValidateSemver(versionStr string) error {
	if versionStr == "" {
		return fmt.Errorf("version cannot be empty")
	}

	if _, err := goversion.NewSemver(versionStr); err != nil {
		return fmt.Errorf("invalid semantic version %q: %w", versionStr, err)
	}

	return nil
}

// SemverOrNil returns the input when it parses as semver, nil otherwise.
// Version markers extracted from inside a tarball are metadata, not admission
// criteria, so unparseable values degrade to nil instead of failing.
func SemverOrNil(versionStr string) *string {
	if ValidateSemver(versionStr) != nil {
		return nil
	}
	return &versionStr
}
