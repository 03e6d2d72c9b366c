// package.go validates a submitted package's metadata against the ToolBox
// submission contract. Problems are collected exhaustively into hard errors
// (which block submission) and warnings (informational, surfaced to the
// submitter and reviewer) so the submitter can fix everything in one pass.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/npm"
)

// ApprovedLicenses is the fixed allow-list of open-source licenses a
// submitted tool may declare. Anything else is a hard error: open-source
// compliance is a gate, not a suggestion.
var ApprovedLicenses = []string{
	"MIT",
	"Apache-2.0",
	"BSD-2-Clause",
	"BSD-3-Clause",
	"GPL-2.0",
	"GPL-3.0",
	"LGPL-3.0",
	"ISC",
	"AGPL-3.0-only",
}

// Hosts the configuration URL rules key on
const (
	rawContentHost = "raw.githubusercontent.com"
	mainWebHost    = "github.com"
)

// multiConnection enum values
var multiConnectionValues = map[string]bool{
	"allowed":    true,
	"required":   true,
	"disallowed": true,
}

// knownCSPDirectives are the directive names a tool may request exceptions
// for; unrecognized names are warnings, not errors
var knownCSPDirectives = map[string]bool{
	"default-src": true,
	"script-src":  true,
	"style-src":   true,
	"img-src":     true,
	"font-src":    true,
	"connect-src": true,
	"media-src":   true,
	"frame-src":   true,
	"worker-src":  true,
	"object-src":  true,
}

// Probe checks whether a URL responds to a reachability request. It is an
// interface so tests run without network access.
type Probe interface {
	Reachable(ctx context.Context, rawURL string) bool
}

// HTTPProbe probes URLs with a HEAD request, accepting any 2xx/3xx response
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe creates a reachability probe with the given per-request timeout
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		client: &http.Client{
			Timeout: timeout,
			// Redirects count as reachable; stop before following them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Reachable implements Probe
func (p *HTTPProbe) Reachable(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// ContributorRef is a validated contributor entry
type ContributorRef struct {
	Name string
	URL  string
}

// NormalizedPackage is the typed result of a successful validation, ready to
// be persisted as an intake record
type NormalizedPackage struct {
	Name            string
	Version         string
	DisplayName     string
	Description     string
	License         string
	IconDark        string
	IconLight       string
	Contributors    []ContributorRef
	CSPExceptions   map[string][]string
	RepositoryURL   string
	WebsiteURL      *string
	FundingURL      *string
	ReadmeURL       string
	IconURL         *string
	MultiConnection *string
}

// Result is the outcome of validating a package's metadata
type Result struct {
	Valid      bool
	Errors     []string
	Warnings   []string
	Normalized *NormalizedPackage
}

// ValidatePackage checks the resolved package metadata against the submission
// contract. All rules are evaluated; the Result carries the full lists of
// errors and warnings. Normalized is only populated when Valid is true.
func ValidatePackage(ctx context.Context, info *npm.PackageInfo, probe Probe) *Result {
	r := &Result{}
	n := &NormalizedPackage{
		Name:        info.Name,
		Version:     info.Version,
		DisplayName: info.DisplayName,
		Description: info.Description,
		License:     info.License,
	}

	if strings.TrimSpace(info.Name) == "" {
		r.Errors = append(r.Errors, "Package name is required")
	}
	if strings.TrimSpace(info.Version) == "" {
		r.Errors = append(r.Errors, "Package version is required")
	}
	if strings.TrimSpace(info.DisplayName) == "" {
		r.Errors = append(r.Errors, "displayName is required")
	}
	if strings.TrimSpace(info.Description) == "" {
		r.Errors = append(r.Errors, "description is required")
	}

	validateLicense(info.License, r)
	validateIcon(info.Icon, r, n)
	validateContributors(info.Contributors, r, n)
	validateConfigurations(ctx, info.Configurations, probe, r, n)
	validateCSPExceptions(info.CSPExceptions, r, n)
	validateFeatures(info.Features, r, n)

	r.Valid = len(r.Errors) == 0
	if r.Valid {
		r.Normalized = n
	}
	return r
}

func validateLicense(license string, r *Result) {
	if license == "" {
		r.Errors = append(r.Errors, "License is required")
		return
	}
	for _, approved := range ApprovedLicenses {
		if license == approved {
			return
		}
	}
	r.Errors = append(r.Errors, fmt.Sprintf(
		"License %q is not in the approved list of open-source licenses (%s)",
		license, strings.Join(ApprovedLicenses, ", "),
	))
}

func validateIcon(raw json.RawMessage, r *Result, n *NormalizedPackage) {
	if len(raw) == 0 {
		r.Errors = append(r.Errors, "icon is required and must be an object with dark and light members")
		return
	}

	var icon struct {
		Dark  *string `json:"dark"`
		Light *string `json:"light"`
	}
	if err := json.Unmarshal(raw, &icon); err != nil {
		r.Errors = append(r.Errors, "icon must be an object with dark and light members")
		return
	}

	check := func(field string, value *string) string {
		if value == nil {
			r.Errors = append(r.Errors, fmt.Sprintf("icon.%s is required", field))
			return ""
		}
		if err := validateIconPath(*value); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("icon.%s %s", field, err.Error()))
			return ""
		}
		return *value
	}

	n.IconDark = check("dark", icon.Dark)
	n.IconLight = check("light", icon.Light)
}

// validateIconPath enforces that an icon ships inside the published bundle:
// a relative .svg path with no traversal and no remote reference
func validateIconPath(p string) error {
	if p == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("must be a relative path, not start with /")
	}
	if strings.HasPrefix(p, "http") {
		return fmt.Errorf("must be a bundled file, not a remote URL")
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return fmt.Errorf("must not contain .. segments")
		}
	}
	if !strings.HasSuffix(strings.ToLower(p), ".svg") {
		return fmt.Errorf("must end in .svg")
	}
	return nil
}

func validateContributors(raw json.RawMessage, r *Result, n *NormalizedPackage) {
	if len(raw) == 0 {
		r.Errors = append(r.Errors, "contributors must be a non-empty array")
		return
	}

	var contributors []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(raw, &contributors); err != nil {
		r.Errors = append(r.Errors, "contributors must be a non-empty array")
		return
	}
	if len(contributors) == 0 {
		r.Errors = append(r.Errors, "contributors must be a non-empty array")
		return
	}

	for i, contributor := range contributors {
		if strings.TrimSpace(contributor.Name) == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("contributors[%d] is missing a name", i))
			continue
		}
		if contributor.URL != "" && !isValidURL(contributor.URL) {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"contributors[%d] (%s) has an invalid url %q", i, contributor.Name, contributor.URL))
		}
		n.Contributors = append(n.Contributors, ContributorRef{Name: contributor.Name, URL: contributor.URL})
	}
}

func validateConfigurations(ctx context.Context, raw json.RawMessage, probe Probe, r *Result, n *NormalizedPackage) {
	if len(raw) == 0 {
		r.Errors = append(r.Errors, "configurations.repository is required")
		r.Errors = append(r.Errors, "configurations.readmeUrl is required")
		return
	}

	var cfg struct {
		Repository string `json:"repository"`
		Website    string `json:"website"`
		Funding    string `json:"funding"`
		IconURL    string `json:"iconUrl"`
		ReadmeURL  string `json:"readmeUrl"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		r.Errors = append(r.Errors, "configurations must be an object")
		return
	}

	// repository: required, valid, reachable — all hard
	switch {
	case cfg.Repository == "":
		r.Errors = append(r.Errors, "configurations.repository is required")
	case !isValidURL(cfg.Repository):
		r.Errors = append(r.Errors, fmt.Sprintf("configurations.repository %q is not a valid URL", cfg.Repository))
	case !probe.Reachable(ctx, cfg.Repository):
		r.Errors = append(r.Errors, fmt.Sprintf("configurations.repository %q is not reachable", cfg.Repository))
	default:
		n.RepositoryURL = cfg.Repository
	}

	// website and funding: optional, problems are warnings only
	for _, opt := range []struct {
		field string
		value string
		dest  **string
	}{
		{"website", cfg.Website, &n.WebsiteURL},
		{"funding", cfg.Funding, &n.FundingURL},
	} {
		if opt.value == "" {
			continue
		}
		if !isValidURL(opt.value) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("configurations.%s %q is not a valid URL", opt.field, opt.value))
			continue
		}
		if !probe.Reachable(ctx, opt.value) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("configurations.%s %q is not reachable", opt.field, opt.value))
		}
		value := opt.value
		*opt.dest = &value
	}

	// iconUrl: optional, but when present it must live on the raw-content
	// host, be an image, and be reachable. All hard errors.
	if cfg.IconURL != "" {
		iconErrs := validateIconURL(ctx, cfg.IconURL, probe)
		if len(iconErrs) > 0 {
			r.Errors = append(r.Errors, iconErrs...)
		} else {
			value := cfg.IconURL
			n.IconURL = &value
		}
	}

	// readmeUrl: required, must NOT be the main web host, must be reachable
	switch {
	case cfg.ReadmeURL == "":
		r.Errors = append(r.Errors, "configurations.readmeUrl is required")
	case !isValidURL(cfg.ReadmeURL):
		r.Errors = append(r.Errors, fmt.Sprintf("configurations.readmeUrl %q is not a valid URL", cfg.ReadmeURL))
	case isHost(cfg.ReadmeURL, mainWebHost):
		r.Errors = append(r.Errors, fmt.Sprintf(
			"configurations.readmeUrl must point at raw content, not %s; use %s", mainWebHost, rawContentHost))
	case !probe.Reachable(ctx, cfg.ReadmeURL):
		r.Errors = append(r.Errors, fmt.Sprintf("configurations.readmeUrl %q is not reachable", cfg.ReadmeURL))
	default:
		n.ReadmeURL = cfg.ReadmeURL
	}
}

func validateIconURL(ctx context.Context, rawURL string, probe Probe) []string {
	var errs []string
	if !isValidURL(rawURL) {
		return []string{fmt.Sprintf("configurations.iconUrl %q is not a valid URL", rawURL)}
	}
	if !isHost(rawURL, rawContentHost) {
		errs = append(errs, fmt.Sprintf("configurations.iconUrl must be hosted on %s", rawContentHost))
	}
	ext := strings.ToLower(path.Ext(mustParseURL(rawURL).Path))
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
		errs = append(errs, "configurations.iconUrl must end in .png, .jpg, or .jpeg")
	}
	if len(errs) == 0 && !probe.Reachable(ctx, rawURL) {
		errs = append(errs, fmt.Sprintf("configurations.iconUrl %q is not reachable", rawURL))
	}
	return errs
}

func validateCSPExceptions(raw json.RawMessage, r *Result, n *NormalizedPackage) {
	if len(raw) == 0 {
		return
	}

	var directives map[string]json.RawMessage
	if err := json.Unmarshal(raw, &directives); err != nil {
		r.Errors = append(r.Errors, "cspExceptions must be an object mapping directives to origin lists")
		return
	}
	if len(directives) == 0 {
		r.Errors = append(r.Errors, "cspExceptions must not be empty when present")
		return
	}

	n.CSPExceptions = make(map[string][]string, len(directives))
	for directive, value := range directives {
		if !knownCSPDirectives[directive] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("cspExceptions contains unrecognized directive %q", directive))
		}

		var origins []string
		if err := json.Unmarshal(value, &origins); err != nil || len(origins) == 0 {
			r.Errors = append(r.Errors, fmt.Sprintf(
				"cspExceptions.%s must be a non-empty array of origin strings", directive))
			continue
		}
		for _, origin := range origins {
			if strings.TrimSpace(origin) == "" {
				r.Errors = append(r.Errors, fmt.Sprintf(
					"cspExceptions.%s must not contain empty origins", directive))
			}
		}
		n.CSPExceptions[directive] = origins
	}
}

func validateFeatures(raw json.RawMessage, r *Result, n *NormalizedPackage) {
	if len(raw) == 0 {
		return
	}

	var features map[string]json.RawMessage
	if err := json.Unmarshal(raw, &features); err != nil {
		r.Errors = append(r.Errors, "features must be an object")
		return
	}

	for key := range features {
		if key != "multiConnection" {
			r.Errors = append(r.Errors, fmt.Sprintf("features contains invalid property %q", key))
		}
	}

	mc, ok := features["multiConnection"]
	if !ok {
		r.Errors = append(r.Errors, "features requires a multiConnection key when present")
		return
	}

	var value string
	if err := json.Unmarshal(mc, &value); err != nil || !multiConnectionValues[value] {
		r.Errors = append(r.Errors, "features.multiConnection must be one of allowed, required, disallowed")
		return
	}
	n.MultiConnection = &value
}

func isValidURL(rawURL string) bool {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func isHost(rawURL, host string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := strings.ToLower(parsed.Hostname())
	return h == host || h == "www."+host
}

func mustParseURL(rawURL string) *url.URL {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}
