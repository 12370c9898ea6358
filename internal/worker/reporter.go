package worker

import (
	"context"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/pkg/queue"
)

// Enqueuer accepts reconciliation jobs.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, payload queue.ReconcilePayload) error
}

// QueueReporter turns partial failures into reconciliation jobs.
type QueueReporter struct {
	q Enqueuer
}

// NewQueueReporter creates a reporter on q.
func NewQueueReporter(q Enqueuer) *QueueReporter {
	return &QueueReporter{q: q}
}

// ReportPartialFailure enqueues the step that must be re-applied.
func (r *QueueReporter) ReportPartialFailure(ctx context.Context, pf *apperr.PartialFailure) error {
	// The request context may already be cancelled once the response is written.
	return r.q.EnqueueReconcile(context.WithoutCancel(ctx), queue.ReconcilePayload{
		Step:           string(pf.Step),
		OrganizationID: pf.OrganizationID,
		UserID:         pf.UserID,
		Email:          pf.Email,
	})
}
