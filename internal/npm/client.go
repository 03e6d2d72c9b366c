package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/powerplatform-toolbox/toolbox-registry/pkg/checksum"
)

// Client is a read-only npm registry client
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxTarballBytes int64
}

// NewClient creates a registry client for the given base URL
// (e.g. https://registry.npmjs.org)
func NewClient(baseURL string, timeout time.Duration, maxTarballBytes int64) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxTarballBytes: maxTarballBytes,
	}
}

// PackageInfo is the resolved metadata of a package's latest version. The
// product-specific manifest fields (icon, configurations, cspExceptions,
// features, contributors) are kept as raw JSON so the validator can report
// shape problems as itemized validation errors instead of decode failures.
type PackageInfo struct {
	Name           string
	Version        string
	Description    string
	License        string
	DisplayName    string
	Contributors   json.RawMessage
	CSPExceptions  json.RawMessage
	Icon           json.RawMessage
	Configurations json.RawMessage
	Features       json.RawMessage
	TarballURL     string
}

// packageDocument models the registry's package-level JSON document
type packageDocument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// versionMetadata models one version entry inside the package document
type versionMetadata struct {
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	Description    string          `json:"description"`
	License        json.RawMessage `json:"license"`
	DisplayName    json.RawMessage `json:"displayName"`
	Contributors   json.RawMessage `json:"contributors"`
	CSPExceptions  json.RawMessage `json:"cspExceptions"`
	Icon           json.RawMessage `json:"icon"`
	Configurations json.RawMessage `json:"configurations"`
	Features       json.RawMessage `json:"features"`
	Dist           struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// GetPackageInfo fetches the package document, selects the version tagged
// latest, and returns that version's metadata and tarball location
func (c *Client) GetPackageInfo(ctx context.Context, packageName string) (*PackageInfo, error) {
	// Scoped package names contain a slash that must survive as %2F
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(packageName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: "failed to reach registry", Err: fmt.Errorf("%w: %v", ErrTransientFetch, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatusError(resp.StatusCode, fmt.Sprintf("fetching package %s", packageName))
	}

	var doc packageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode package document: %w", err)
	}

	latest, ok := doc.DistTags["latest"]
	if !ok || latest == "" {
		return nil, fmt.Errorf("%w: package %s has no latest dist-tag", ErrRegistryShape, packageName)
	}

	raw, ok := doc.Versions[latest]
	if !ok {
		return nil, fmt.Errorf("%w: package %s has no version entry for %s", ErrRegistryShape, packageName, latest)
	}

	var meta versionMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to decode version %s: %v", ErrRegistryShape, latest, err)
	}

	if meta.Dist.Tarball == "" {
		return nil, fmt.Errorf("%w: version %s has no tarball location", ErrRegistryShape, latest)
	}

	return &PackageInfo{
		Name:           meta.Name,
		Version:        meta.Version,
		Description:    meta.Description,
		License:        rawString(meta.License),
		DisplayName:    rawString(meta.DisplayName),
		Contributors:   meta.Contributors,
		CSPExceptions:  meta.CSPExceptions,
		Icon:           meta.Icon,
		Configurations: meta.Configurations,
		Features:       meta.Features,
		TarballURL:     meta.Dist.Tarball,
	}, nil
}

// DownloadTarball streams the tarball at the given URL into destPath, capped
// at the configured size, and returns the SHA-256 of the written bytes
func (c *Client) DownloadTarball(ctx context.Context, tarballURL, destPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create tarball request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Message: "failed to download tarball", Err: fmt.Errorf("%w: %v", ErrTransientFetch, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", wrapStatusError(resp.StatusCode, "downloading tarball")
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create tarball file: %w", err)
	}
	defer out.Close()

	// Hash in the same pass as the write so the recorded digest is of the
	// exact bytes on disk.
	hasher := checksum.NewSHA256()
	limited := io.LimitReader(resp.Body, c.maxTarballBytes+1)
	written, err := io.Copy(io.MultiWriter(out, hasher), limited)
	if err != nil {
		return "", fmt.Errorf("failed to write tarball: %w", err)
	}
	if written > c.maxTarballBytes {
		return "", fmt.Errorf("tarball exceeds maximum size of %d bytes", c.maxTarballBytes)
	}

	return hasher.HexSum(), nil
}

// rawString decodes a raw JSON value as a string, returning "" for absent or
// non-string values so the validator can report them as contract violations
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
