package notifier

import (
	"context"
	"fmt"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	xhttp "MarketGuard/pkg/http"
	"MarketGuard/pkg/queue"
)

// TypeIncidentNotify is the queue message type for incident delivery.
const TypeIncidentNotify = "incident.notify"

// Queued defers incident delivery to a job queue so webhook outages are
// retried instead of lost.
type Queued struct {
	q queue.Publisher
}

var _ drepo.Notifier = (*Queued)(nil)

func NewQueued(q queue.Publisher) *Queued { return &Queued{q: q} }

func (n *Queued) NotifyIncident(ctx context.Context, inc *models.Incident) error {
	if inc == nil {
		return nil
	}
	if err := n.q.Enqueue(ctx, TypeIncidentNotify, inc); err != nil {
		return fmt.Errorf("enqueue incident %s: %w", inc.ID, err)
	}
	return nil
}

// DeliveryJob is the consumer side of Queued.
type DeliveryJob struct {
	next drepo.Notifier
}

var _ queue.Job = (*DeliveryJob)(nil)

func NewDeliveryJob(next drepo.Notifier) *DeliveryJob { return &DeliveryJob{next: next} }

func (j *DeliveryJob) Name() string { return "incident-delivery" }
func (j *DeliveryJob) Type() string { return TypeIncidentNotify }

func (j *DeliveryJob) Handle(ctx context.Context, payload interface{}) error {
	inc, err := queue.ParsePayload[models.Incident](payload)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := j.next.NotifyIncident(ctx, inc); err != nil {
		if xhttp.IsClientRejection(err) {
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}
