// structure.go downloads and extracts a submitted package's tarball into a
// scoped temporary workspace to verify required files exist and to read the
// version markers embedded in the package. The workspace is removed on every
// exit path.
package validation

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/npm"
)

const (
	// maxExtractBytes caps the total bytes written during extraction
	maxExtractBytes = 500 * 1024 * 1024

	// maxManifestBytes caps how much of a manifest or lockfile is read
	maxManifestBytes = 5 * 1024 * 1024
)

// StructureReport is the outcome of inspecting a package tarball.
// Errors are hard submission gates; the version markers are best-effort and
// stay nil when they cannot be extracted.
type StructureReport struct {
	Errors   []string
	MinAPI   *string
	MaxAPI   *string
	Checksum string
}

// Valid reports whether all structural gates passed
func (r *StructureReport) Valid() bool {
	return len(r.Errors) == 0
}

// InspectStructure downloads the tarball, extracts it into a uniquely named
// temporary directory, checks required file presence, and extracts the
// minAPI/maxAPI version markers. A non-nil error means the tarball could not
// be fetched or unpacked at all; structural rule failures are reported in
// StructureReport.Errors instead.
func InspectStructure(ctx context.Context, client *npm.Client, tarballURL, compatPackage string) (*StructureReport, error) {
	workDir := filepath.Join(os.TempDir(), fmt.Sprintf("intake-inspect-%s", uuid.New().String()))
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create inspection workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	tarballPath := filepath.Join(workDir, "package.tgz")
	sum, err := client.DownloadTarball(ctx, tarballURL, tarballPath)
	if err != nil {
		return nil, fmt.Errorf("failed to download tarball: %w", err)
	}

	extractDir := filepath.Join(workDir, "contents")
	if err := extractTarGz(tarballPath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to extract tarball: %w", err)
	}

	report := &StructureReport{Checksum: sum}

	// Structural gates: lockfile, dist directory, dist entry point
	if !fileExists(filepath.Join(extractDir, "npm-shrinkwrap.json")) {
		report.Errors = append(report.Errors, "npm-shrinkwrap.json is required but not found in the package")
	}
	if !dirExists(filepath.Join(extractDir, "dist")) {
		report.Errors = append(report.Errors, "dist directory is required but not found in the package")
	} else if !fileExists(filepath.Join(extractDir, "dist", "index.html")) {
		report.Errors = append(report.Errors, "dist/index.html is required but not found in the package")
	}

	// Version markers are metadata, not admission criteria: extraction
	// failures log and degrade to nil rather than failing the inspection.
	report.MinAPI = extractMinAPI(extractDir)
	report.MaxAPI = extractMaxAPI(extractDir, compatPackage)

	return report, nil
}

// extractTarGz unpacks a gzipped tarball into dest, guarding against path
// traversal and capping the total extracted size. npm tarballs nest all
// content under a top-level package/ directory, which is stripped.
func extractTarGz(tarballPath, dest string) error {
	f, err := os.Open(tarballPath)
	if err != nil {
		return fmt.Errorf("failed to open tarball: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var totalWritten int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name := stripPackagePrefix(header.Name)
		if name == "" {
			continue
		}
		if err := validateEntryPath(name); err != nil {
			return fmt.Errorf("invalid tar entry %q: %w", header.Name, err)
		}

		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes extraction directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}

			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			written, err := io.Copy(out, io.LimitReader(tr, maxExtractBytes-totalWritten))
			out.Close()
			if err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			totalWritten += written
			if totalWritten >= maxExtractBytes {
				return fmt.Errorf("extracted content exceeds %d bytes", int64(maxExtractBytes))
			}
		}
	}

	return nil
}

// stripPackagePrefix removes the conventional package/ top-level directory
// from an npm tarball entry name
func stripPackagePrefix(name string) string {
	name = strings.TrimPrefix(name, "./")
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return ""
}

// validateEntryPath rejects absolute paths and traversal segments
func validateEntryPath(name string) error {
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("absolute path")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal segment")
		}
	}
	return nil
}

// extractMinAPI reads features.minAPI from the package manifest, validated as
// semver, nil otherwise
func extractMinAPI(extractDir string) *string {
	data, err := readLimited(filepath.Join(extractDir, "package.json"))
	if err != nil {
		slog.Warn("could not read package manifest for minAPI", "error", err)
		return nil
	}

	var manifest struct {
		Features struct {
			MinAPI string `json:"minAPI"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		slog.Warn("could not parse package manifest for minAPI", "error", err)
		return nil
	}

	return SemverOrNil(manifest.Features.MinAPI)
}

// extractMaxAPI reads the exact pinned version of the compatibility package
// from the shrinkwrap lockfile, validated as semver, nil otherwise. Both the
// v1 dependencies map and the v2/v3 packages map are supported.
func extractMaxAPI(extractDir, compatPackage string) *string {
	data, err := readLimited(filepath.Join(extractDir, "npm-shrinkwrap.json"))
	if err != nil {
		slog.Warn("could not read lockfile for maxAPI", "error", err)
		return nil
	}

	var lockfile struct {
		Dependencies map[string]struct {
			Version string `json:"version"`
		} `json:"dependencies"`
		Packages map[string]struct {
			Version string `json:"version"`
		} `json:"packages"`
	}
	if err := json.Unmarshal(data, &lockfile); err != nil {
		slog.Warn("could not parse lockfile for maxAPI", "error", err)
		return nil
	}

	if dep, ok := lockfile.Dependencies[compatPackage]; ok {
		return SemverOrNil(dep.Version)
	}
	if pkg, ok := lockfile.Packages["node_modules/"+compatPackage]; ok {
		return SemverOrNil(pkg.Version)
	}

	return nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxManifestBytes))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
