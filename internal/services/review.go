package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/models"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/telemetry"
)

// Review actions accepted by the admin review endpoint
const (
	ActionApprove      = "approve"
	ActionReject       = "reject"
	ActionNeedsChanges = "needs_changes"
)

// actionStatus maps a review action to the resulting intake status
var actionStatus = map[string]string{
	ActionApprove:      models.IntakeStatusApproved,
	ActionReject:       models.IntakeStatusRejected,
	ActionNeedsChanges: models.IntakeStatusNeedsChanges,
}

// ErrInvalidAction is returned for an unrecognized review action.
var ErrInvalidAction = fmt.Errorf("action must be one of %s, %s, %s", ActionApprove, ActionReject, ActionNeedsChanges)

// ReviewNotifier sends the review lifecycle emails. Satisfied by
// *jobs.Notifier.
type ReviewNotifier interface {
	NotifyNeedsChanges(toEmail, packageName, notes string) error
	NotifyToolPublished(toEmail, packageName, displayName, toolID string) error
}

// ReviewService applies admin review decisions to pending intakes.
type ReviewService struct {
	intakeRepo *repositories.IntakeRepository
	userRepo   *repositories.UserRepository
	notifier   ReviewNotifier
}

// NewReviewService creates a ReviewService.
func NewReviewService(
	intakeRepo *repositories.IntakeRepository,
	userRepo *repositories.UserRepository,
	notifier ReviewNotifier,
) *ReviewService {
	return &ReviewService{intakeRepo: intakeRepo, userRepo: userRepo, notifier: notifier}
}

// Review applies an admin decision to a pending_review intake. Only intakes
// in pending_review can transition; a raced or missing intake surfaces as
// repositories.ErrStatusConflict or ErrIntakeNotFound. A needs_changes
// decision emails the submitter with the reviewer notes; email failure is
// logged, never returned.
func (s *ReviewService) Review(ctx context.Context, intakeID, action string, notes *string, reviewerID string) (*models.ToolIntake, error) {
	newStatus, ok := actionStatus[action]
	if !ok {
		return nil, ErrInvalidAction
	}

	intake, err := s.intakeRepo.SetStatus(ctx, intakeID, newStatus, notes, reviewerID)
	if err != nil {
		return nil, err
	}

	telemetry.IntakeReviewsTotal.WithLabelValues(newStatus).Inc()

	if action == ActionNeedsChanges {
		s.emailSubmitter(ctx, intake, notes)
	}

	return intake, nil
}

// emailSubmitter resolves the submitter's address and sends the
// changes-requested email
func (s *ReviewService) emailSubmitter(ctx context.Context, intake *models.ToolIntake, notes *string) {
	if intake.SubmittedBy == nil {
		slog.Warn("needs-changes email skipped, intake has no submitter", "intake_id", intake.ID)
		return
	}

	user, err := s.userRepo.GetUserByID(ctx, *intake.SubmittedBy)
	if err != nil || user == nil {
		slog.Warn("needs-changes email skipped, submitter lookup failed",
			"intake_id", intake.ID, "user_id", *intake.SubmittedBy, "error", err)
		return
	}

	noteText := ""
	if notes != nil {
		noteText = *notes
	}
	if err := s.notifier.NotifyNeedsChanges(user.Email, intake.PackageName, noteText); err != nil {
		slog.Warn("needs-changes email failed",
			"intake_id", intake.ID, "to", user.Email, "error", err)
	}
}
