package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/cicd"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/safego"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/telemetry"
)

// ErrNotApproved is returned when conversion is requested for an intake that
// is not in the approved status.
var ErrNotApproved = errors.New("Only approved intakes can be converted.")

// WorkflowBridge dispatches the external build workflow and waits for its
// conclusion. Satisfied by *cicd.Client.
type WorkflowBridge interface {
	DispatchWorkflow(ctx context.Context, inputs map[string]string) error
	WaitForConclusion(ctx context.Context, since time.Time) (string, error)
}

// ConversionService turns approved intakes into published tools through an
// asynchronous job per conversion.
type ConversionService struct {
	intakeRepo *repositories.IntakeRepository
	toolRepo   *repositories.ToolRepository
	jobRepo    *repositories.ConversionJobRepository
	userRepo   *repositories.UserRepository
	workflow   WorkflowBridge
	notifier   ReviewNotifier
	// jobTimeout bounds the whole background job, not just workflow polling
	jobTimeout time.Duration
}

// NewConversionService creates a ConversionService. workflow may be nil when
// the CI bridge is not configured; StartConversion then refuses with
// cicd.ErrNotConfigured.
func NewConversionService(
	intakeRepo *repositories.IntakeRepository,
	toolRepo *repositories.ToolRepository,
	jobRepo *repositories.ConversionJobRepository,
	userRepo *repositories.UserRepository,
	workflow WorkflowBridge,
	notifier ReviewNotifier,
	jobTimeout time.Duration,
) *ConversionService {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &ConversionService{
		intakeRepo: intakeRepo,
		toolRepo:   toolRepo,
		jobRepo:    jobRepo,
		userRepo:   userRepo,
		workflow:   workflow,
		notifier:   notifier,
		jobTimeout: jobTimeout,
	}
}

// StartConversion validates the intake is approved, records a queued job, and
// launches the background worker. The returned job is still queued; callers
// poll GetJob for progress. A queued or running job for the same intake
// surfaces as repositories.ErrActiveJobExists.
func (s *ConversionService) StartConversion(ctx context.Context, intakeID, requestedBy string) (*models.ConversionJob, error) {
	if s.workflow == nil {
		return nil, cicd.ErrNotConfigured
	}

	intake, err := s.intakeRepo.GetIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	if intake == nil {
		return nil, repositories.ErrIntakeNotFound
	}
	if intake.Status != models.IntakeStatusApproved {
		return nil, ErrNotApproved
	}

	job, err := s.jobRepo.CreateJob(ctx, intakeID, requestedBy)
	if err != nil {
		return nil, err
	}

	safego.Go(func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.runJob(jobCtx, job.ID, intake)
	})

	return job, nil
}

// GetJob returns a conversion job with its outcome report, nil when unknown.
func (s *ConversionService) GetJob(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	return s.jobRepo.GetJob(ctx, jobID)
}

// runJob executes the conversion in the background: dispatch the build
// workflow, wait for its conclusion, then publish-side bookkeeping. Every
// sub-step lands in the persisted outcome report; auxiliary failures
// (category links, email) are recorded there without failing the job.
func (s *ConversionService) runJob(ctx context.Context, jobID string, intake *models.ToolIntake) {
	start := time.Now()
	var outcome models.OutcomeReport
	record := func(step string, ok bool, detail string) {
		outcome = append(outcome, models.StepOutcome{Step: step, OK: ok, Detail: detail})
	}

	finish := func(status string, conclusion, toolID *string, jobErr *string) {
		// The job context may already be expired (timeout is the usual failure
		// path here); finalization gets its own deadline so the row never
		// stays running and blocks future conversions of this intake.
		finishCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.jobRepo.FinishJob(finishCtx, jobID, status, conclusion, toolID, outcome, jobErr); err != nil {
			slog.Error("failed to record conversion job result", "job_id", jobID, "error", err)
		}
		telemetry.ConversionJobsTotal.WithLabelValues(status).Inc()
		telemetry.ConversionDuration.Observe(time.Since(start).Seconds())
	}
	failWith := func(msg string) {
		errMsg := msg
		finish(models.JobStatusFailed, nil, nil, &errMsg)
	}

	if err := s.jobRepo.MarkRunning(ctx, jobID); err != nil {
		slog.Error("conversion job could not start", "job_id", jobID, "error", err)
		failWith(fmt.Sprintf("job could not start: %v", err))
		return
	}

	dispatchedAt := time.Now()
	if err := s.workflow.DispatchWorkflow(ctx, workflowInputs(intake)); err != nil {
		record(models.StepDispatch, false, err.Error())
		failWith(fmt.Sprintf("workflow dispatch failed: %v", err))
		return
	}
	record(models.StepDispatch, true, "")

	conclusion, err := s.workflow.WaitForConclusion(ctx, dispatchedAt)
	if err != nil {
		record(models.StepWorkflowWait, false, err.Error())
		failWith(fmt.Sprintf("waiting for workflow conclusion failed: %v", err))
		return
	}
	if conclusion != cicd.ConclusionSuccess {
		record(models.StepWorkflowWait, false, fmt.Sprintf("workflow concluded %s", conclusion))
		errMsg := fmt.Sprintf("build workflow concluded %s", conclusion)
		finish(models.JobStatusFailed, &conclusion, nil, &errMsg)
		return
	}
	record(models.StepWorkflowWait, true, conclusion)

	// The build workflow is responsible for inserting the tool row. Its
	// absence after a successful run is an inconsistency worth failing on.
	tool, err := s.toolRepo.GetToolByPackageName(ctx, intake.PackageName)
	if err != nil || tool == nil {
		detail := fmt.Sprintf("build reported success but no tool exists for package %q", intake.PackageName)
		if err != nil {
			detail = fmt.Sprintf("tool lookup failed: %v", err)
		}
		record(models.StepToolLookup, false, detail)
		errMsg := detail
		finish(models.JobStatusFailed, &conclusion, nil, &errMsg)
		return
	}
	record(models.StepToolLookup, true, tool.ID)

	if categoryIDs, err := s.intakeRepo.GetIntakeCategoryIDs(ctx, intake.ID); err != nil {
		record(models.StepCategoryLinks, false, err.Error())
	} else if err := s.toolRepo.LinkCategories(ctx, tool.ID, categoryIDs); err != nil {
		record(models.StepCategoryLinks, false, err.Error())
	} else {
		record(models.StepCategoryLinks, true, "")
	}

	if err := s.intakeRepo.MarkConverted(ctx, intake.ID); err != nil {
		record(models.StepMarkConverted, false, err.Error())
		errMsg := fmt.Sprintf("could not mark intake converted: %v", err)
		finish(models.JobStatusFailed, &conclusion, &tool.ID, &errMsg)
		return
	}
	record(models.StepMarkConverted, true, "")

	s.emailPublished(ctx, intake, tool.ID, record)

	finish(models.JobStatusSucceeded, &conclusion, &tool.ID, nil)
}

// emailPublished sends the success email to the submitter, recording the
// outcome without ever failing the job
func (s *ConversionService) emailPublished(ctx context.Context, intake *models.ToolIntake, toolID string, record func(string, bool, string)) {
	if intake.SubmittedBy == nil {
		record(models.StepNotifyEmail, false, "intake has no submitter")
		return
	}
	user, err := s.userRepo.GetUserByID(ctx, *intake.SubmittedBy)
	if err != nil || user == nil {
		record(models.StepNotifyEmail, false, "submitter lookup failed")
		return
	}
	if err := s.notifier.NotifyToolPublished(user.Email, intake.PackageName, intake.DisplayName, toolID); err != nil {
		record(models.StepNotifyEmail, false, err.Error())
		return
	}
	record(models.StepNotifyEmail, true, "")
}

// workflowInputs flattens an intake into the string map the build workflow
// accepts as workflow_dispatch inputs
func workflowInputs(intake *models.ToolIntake) map[string]string {
	inputs := map[string]string{
		"package_name": intake.PackageName,
		"version":      intake.Version,
		"display_name": intake.DisplayName,
		"repository":   intake.RepositoryURL,
		"readme_url":   intake.ReadmeURL,
		"license":      intake.License,
	}

	if intake.WebsiteURL != nil {
		inputs["website"] = *intake.WebsiteURL
	}
	if intake.IconURL != nil {
		inputs["icon_url"] = *intake.IconURL
	}
	if intake.MultiConnection != nil {
		inputs["multi_connection"] = *intake.MultiConnection
	}
	if intake.SubmittedBy != nil {
		inputs["submitter"] = *intake.SubmittedBy
	}
	if len(intake.Contributors) > 0 {
		names := make([]string, 0, len(intake.Contributors))
		for _, c := range intake.Contributors {
			names = append(names, c.Name)
		}
		inputs["authors"] = strings.Join(names, ", ")
	}
	if len(intake.CSPExceptions) > 0 {
		if b, err := json.Marshal(intake.CSPExceptions); err == nil {
			inputs["csp_exceptions"] = string(b)
		}
	}

	return inputs
}
