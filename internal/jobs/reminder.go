// reminder.go implements the PendingReviewReminder background job, which
// periodically counts intakes that have been sitting in pending_review longer
// than the configured age and emails the admin list so submissions do not rot
// in the queue. The job is a no-op when the reminder interval is zero.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

// PendingReviewReminder periodically nudges admins about stale pending intakes.
type PendingReviewReminder struct {
	intakeRepo *repositories.IntakeRepository
	userRepo   *repositories.UserRepository
	notifier   *Notifier
	cfg        *config.NotificationsConfig
	interval   time.Duration
	maxAge     time.Duration
	stopChan   chan struct{}
}

// NewPendingReviewReminder creates a PendingReviewReminder.
func NewPendingReviewReminder(
	intakeRepo *repositories.IntakeRepository,
	userRepo *repositories.UserRepository,
	notifier *Notifier,
	cfg *config.NotificationsConfig,
) *PendingReviewReminder {
	maxAge := cfg.ReminderMaxAge
	if maxAge <= 0 {
		maxAge = 72 * time.Hour
	}
	return &PendingReviewReminder{
		intakeRepo: intakeRepo,
		userRepo:   userRepo,
		notifier:   notifier,
		cfg:        cfg,
		interval:   cfg.ReminderInterval,
		maxAge:     maxAge,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the background reminder loop. It runs an initial check
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (r *PendingReviewReminder) Start(ctx context.Context) {
	if r.interval <= 0 {
		log.Println("pending-review reminder: disabled (notifications.reminder_interval not set)")
		return
	}
	if !r.cfg.Enabled || r.cfg.SMTP.Host == "" {
		log.Println("pending-review reminder: disabled (notifications not configured)")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("pending-review reminder started (interval: %v, max age: %v)", r.interval, r.maxAge)

	r.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			r.runCheck(ctx)
		case <-r.stopChan:
			log.Println("pending-review reminder stopped")
			return
		case <-ctx.Done():
			log.Println("pending-review reminder context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (r *PendingReviewReminder) Stop() {
	close(r.stopChan)
}

// runCheck counts stale pending intakes and emails the admin list.
func (r *PendingReviewReminder) runCheck(ctx context.Context) {
	count, err := r.intakeRepo.CountPendingOlderThan(ctx, r.maxAge)
	if err != nil {
		log.Printf("pending-review reminder: failed to count stale intakes: %v", err)
		return
	}
	if count == 0 {
		return
	}

	recipients := r.cfg.AdminEmails
	if len(recipients) == 0 {
		recipients, err = r.userRepo.GetAdminEmails(ctx)
		if err != nil {
			log.Printf("pending-review reminder: failed to load admin emails: %v", err)
			return
		}
	}
	if len(recipients) == 0 {
		log.Println("pending-review reminder: no admin recipients configured")
		return
	}

	subject := fmt.Sprintf("ToolBox review queue: %d submission(s) waiting over %v", count, r.maxAge)
	body := fmt.Sprintf(
		"There are %d tool submission(s) that have been pending review for more than %v.\n\n"+
			"Please review them in the admin console.\n\n— Power Platform ToolBox\n",
		count, r.maxAge,
	)

	if err := r.notifier.NotifyAdmins(recipients, subject, body); err != nil {
		log.Printf("pending-review reminder: failed to send reminder email: %v", err)
	}
}
