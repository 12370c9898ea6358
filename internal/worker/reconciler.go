package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/internal/obs"
	"github.com/orgkeep/backend/pkg/queue"
)

// UserStore is the part of the credential store that reconciliation repairs.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	AddOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganization(ctx context.Context, userID, orgID string) error
	RemoveOrganizationFromAll(ctx context.Context, orgID string) (int64, error)
}

// OrganizationStore is read to decide the desired membership state.
type OrganizationStore interface {
	GetByID(ctx context.Context, id string) (*models.Organization, error)
}

// JobSource delivers reconciliation jobs.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Reconciler re-applies the user side of partially applied membership changes.
// Every step compares against the organization's current state, so replays are harmless.
type Reconciler struct {
	users       UserStore
	orgs        OrganizationStore
	jobs        JobSource
	pollTimeout time.Duration
	backoff     time.Duration
	logger      *zap.Logger
}

// NewReconciler creates a reconciliation worker.
func NewReconciler(users UserStore, orgs OrganizationStore, jobs JobSource, pollTimeout time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Reconciler{
		users:       users,
		orgs:        orgs,
		jobs:        jobs,
		pollTimeout: pollTimeout,
		backoff:     queue.RetryBackoff,
		logger:      logger,
	}
}

// Process executes one reconciliation job.
func (r *Reconciler) Process(ctx context.Context, job *queue.Job) (err error) {
	if job.Type != queue.JobTypeReconcile {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var p queue.ReconcilePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	defer func() { obs.ReconcileJob(p.Step, err) }()

	switch apperr.Step(p.Step) {
	case apperr.StepLinkUser:
		return r.linkUser(ctx, p)
	case apperr.StepUnlinkUser:
		return r.unlinkUser(ctx, p)
	case apperr.StepUnlinkMembers:
		return r.unlinkMembers(ctx, p)
	default:
		return fmt.Errorf("unknown reconcile step: %q", p.Step)
	}
}

func (r *Reconciler) linkUser(ctx context.Context, p queue.ReconcilePayload) error {
	org, err := r.orgs.GetByID(ctx, p.OrganizationID)
	if errors.Is(err, models.ErrNotFound) {
		r.logger.Info("organization gone, nothing to link", zap.String("org_id", p.OrganizationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	user, err := r.user(ctx, p)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, _, member := org.Member(user.Email); !member {
		r.logger.Info("user left before link was repaired", zap.String("org_id", org.ID), zap.String("user_id", user.ID))
		return nil
	}
	if err := r.users.AddOrganization(ctx, user.ID, org.ID); err != nil {
		return fmt.Errorf("link user: %w", err)
	}
	r.logger.Info("membership link repaired", zap.String("org_id", org.ID), zap.String("user_id", user.ID))
	return nil
}

func (r *Reconciler) unlinkUser(ctx context.Context, p queue.ReconcilePayload) error {
	user, err := r.user(ctx, p)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	org, err := r.orgs.GetByID(ctx, p.OrganizationID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load organization: %w", err)
	default:
		if _, _, member := org.Member(user.Email); member {
			r.logger.Info("user rejoined before unlink was repaired", zap.String("org_id", org.ID), zap.String("user_id", user.ID))
			return nil
		}
	}
	if err := r.users.RemoveOrganization(ctx, user.ID, p.OrganizationID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("unlink user: %w", err)
	}
	r.logger.Info("membership unlink repaired", zap.String("org_id", p.OrganizationID), zap.String("user_id", user.ID))
	return nil
}

func (r *Reconciler) unlinkMembers(ctx context.Context, p queue.ReconcilePayload) error {
	_, err := r.orgs.GetByID(ctx, p.OrganizationID)
	if err == nil {
		r.logger.Warn("organization still exists, skipping member unlink", zap.String("org_id", p.OrganizationID))
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("load organization: %w", err)
	}
	n, err := r.users.RemoveOrganizationFromAll(ctx, p.OrganizationID)
	if err != nil {
		return fmt.Errorf("unlink members: %w", err)
	}
	r.logger.Info("deleted organization unlinked", zap.String("org_id", p.OrganizationID), zap.Int64("users", n))
	return nil
}

func (r *Reconciler) user(ctx context.Context, p queue.ReconcilePayload) (*models.User, error) {
	var (
		u   *models.User
		err error
	)
	if p.UserID != "" {
		u, err = r.users.GetByID(ctx, p.UserID)
	} else {
		u, err = r.users.GetByEmail(ctx, p.Email)
	}
	if errors.Is(err, models.ErrNotFound) {
		r.logger.Info("user gone, nothing to repair", zap.String("user_id", p.UserID))
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconcile worker stopping")
			return
		default:
		}

		job, err := r.jobs.Dequeue(ctx, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := r.Process(ctx, job); err != nil {
			r.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := r.jobs.Retry(ctx, job); reErr != nil {
				r.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			r.sleep(ctx)
		}
	}
}

func (r *Reconciler) sleep(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
