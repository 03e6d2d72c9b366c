// Package services implements the intake pipeline behind the HTTP handlers:
// submission (registry fetch, metadata validation, tarball inspection,
// persistence), admin review decisions, and the async conversion job that
// drives the CI build of an approved intake.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/npm"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/telemetry"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/validation"
)

// Pipeline steps reported in submission failure payloads
const (
	StepNPMCheck            = "npm_check"
	StepValidation          = "validation"
	StepStructureCheck      = "structure_check"
	StepStructureValidation = "structure_validation"
	StepDuplicateCheck      = "duplicate_check"
	StepDatabase            = "database"
)

// MaxCategories bounds how many taxonomy categories a submission may declare
const MaxCategories = 3

// SubmissionFailure reports which pipeline step rejected a submission,
// with the full itemized error and warning lists for that step.
type SubmissionFailure struct {
	Step     string
	Message  string
	Errors   []string
	Warnings []string
	// Cause is set for npm_check and database failures so handlers can map
	// registry 404s and duplicates to the right status codes
	Cause error
}

func (f *SubmissionFailure) Error() string {
	return fmt.Sprintf("submission rejected at %s: %s", f.Step, f.Message)
}

func (f *SubmissionFailure) Unwrap() error {
	return f.Cause
}

// IntakeService runs the submission pipeline.
type IntakeService struct {
	registry      *npm.Client
	probe         validation.Probe
	intakeRepo    *repositories.IntakeRepository
	categoryRepo  *repositories.CategoryRepository
	compatPackage string
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(
	registry *npm.Client,
	probe validation.Probe,
	intakeRepo *repositories.IntakeRepository,
	categoryRepo *repositories.CategoryRepository,
	compatPackage string,
) *IntakeService {
	return &IntakeService{
		registry:      registry,
		probe:         probe,
		intakeRepo:    intakeRepo,
		categoryRepo:  categoryRepo,
		compatPackage: compatPackage,
	}
}

// Submit runs the full pipeline for a package name: registry fetch, metadata
// validation, tarball structure inspection, then persistence. A returned
// *SubmissionFailure identifies the rejecting step; any other error is an
// internal failure.
func (s *IntakeService) Submit(ctx context.Context, packageName string, categoryIDs []int, submittedBy *string) (*models.ToolIntake, error) {
	fail := func(f *SubmissionFailure) (*models.ToolIntake, error) {
		telemetry.IntakeSubmissionsTotal.WithLabelValues("rejected", f.Step).Inc()
		return nil, f
	}

	if strings.TrimSpace(packageName) == "" {
		return fail(&SubmissionFailure{
			Step:    StepValidation,
			Message: "packageName is required",
			Errors:  []string{"packageName is required"},
		})
	}
	if len(categoryIDs) == 0 || len(categoryIDs) > MaxCategories {
		msg := fmt.Sprintf("between 1 and %d category ids are required", MaxCategories)
		return fail(&SubmissionFailure{Step: StepValidation, Message: msg, Errors: []string{msg}})
	}

	found, err := s.categoryRepo.CountByIDs(ctx, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check categories: %w", err)
	}
	if found != len(categoryIDs) {
		msg := "one or more category ids do not exist"
		return fail(&SubmissionFailure{Step: StepValidation, Message: msg, Errors: []string{msg}})
	}

	info, err := s.registry.GetPackageInfo(ctx, packageName)
	if err != nil {
		msg := fmt.Sprintf("failed to resolve package %q from the registry", packageName)
		if errors.Is(err, npm.ErrPackageNotFound) {
			msg = fmt.Sprintf("package %q was not found in the registry", packageName)
		}
		return fail(&SubmissionFailure{Step: StepNPMCheck, Message: msg, Errors: []string{msg}, Cause: err})
	}

	result := validation.ValidatePackage(ctx, info, s.probe)
	if !result.Valid {
		return fail(&SubmissionFailure{
			Step:     StepValidation,
			Message:  "Package validation failed",
			Errors:   result.Errors,
			Warnings: result.Warnings,
		})
	}

	report, err := validation.InspectStructure(ctx, s.registry, info.TarballURL, s.compatPackage)
	if err != nil {
		msg := "failed to download or extract the package tarball"
		return fail(&SubmissionFailure{Step: StepStructureCheck, Message: msg, Errors: []string{msg}, Cause: err})
	}
	if !report.Valid() {
		return fail(&SubmissionFailure{
			Step:     StepStructureValidation,
			Message:  "package structure failed validation",
			Errors:   report.Errors,
			Warnings: result.Warnings,
		})
	}

	intake := buildIntake(info, result, report, submittedBy)
	contributors := make([]models.Contributor, 0, len(result.Normalized.Contributors))
	for _, c := range result.Normalized.Contributors {
		contributors = append(contributors, models.Contributor{Name: c.Name, ProfileURL: c.URL})
	}

	if err := s.intakeRepo.CreateIntake(ctx, intake, categoryIDs, contributors); err != nil {
		if errors.Is(err, repositories.ErrDuplicatePackage) {
			msg := fmt.Sprintf("a tool with package name %q has already been submitted", packageName)
			return fail(&SubmissionFailure{Step: StepDuplicateCheck, Message: msg, Errors: []string{msg}, Cause: err})
		}
		msg := "failed to store the submission"
		return fail(&SubmissionFailure{Step: StepDatabase, Message: msg, Errors: []string{msg}, Cause: err})
	}

	telemetry.IntakeSubmissionsTotal.WithLabelValues("accepted", "").Inc()
	return intake, nil
}

// buildIntake maps validated metadata and the structure report onto a row.
// Validator warnings ride along so submitters and reviewers see them.
func buildIntake(info *npm.PackageInfo, result *validation.Result, report *validation.StructureReport, submittedBy *string) *models.ToolIntake {
	n := result.Normalized
	checksum := report.Checksum
	return &models.ToolIntake{
		PackageName:     n.Name,
		Version:         n.Version,
		DisplayName:     n.DisplayName,
		Description:     n.Description,
		License:         n.License,
		IconDark:        n.IconDark,
		IconLight:       n.IconLight,
		CSPExceptions:   n.CSPExceptions,
		RepositoryURL:   n.RepositoryURL,
		WebsiteURL:      n.WebsiteURL,
		FundingURL:      n.FundingURL,
		ReadmeURL:       n.ReadmeURL,
		IconURL:         n.IconURL,
		MultiConnection: n.MultiConnection,
		MinAPI:          report.MinAPI,
		MaxAPI:          report.MaxAPI,
		TarballURL:      info.TarballURL,
		TarballChecksum: &checksum,
		SubmittedBy:     submittedBy,
		Status:          models.IntakeStatusPendingReview,
		Warnings:        models.JSONStringSlice(result.Warnings),
	}
}

// GetIntake fetches a single intake with joined categories and contributors.
func (s *IntakeService) GetIntake(ctx context.Context, id string) (*models.ToolIntake, error) {
	return s.intakeRepo.GetIntake(ctx, id)
}

// ListIntakes lists intakes filtered by status and submitter.
func (s *IntakeService) ListIntakes(ctx context.Context, status, submittedBy string, limit, offset int) ([]*models.ToolIntake, error) {
	return s.intakeRepo.ListIntakes(ctx, status, submittedBy, limit, offset)
}
