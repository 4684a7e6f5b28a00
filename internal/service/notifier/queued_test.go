package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
	xhttp "MarketGuard/pkg/http"
	"MarketGuard/pkg/queue"
)

type memQueue struct {
	types    []string
	payloads []interface{}
	err      error
}

func (q *memQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.types = append(q.types, msgType)
	q.payloads = append(q.payloads, payload)
	return nil
}

type captureNotifier struct{ got []*models.Incident }

func (c *captureNotifier) NotifyIncident(_ context.Context, inc *models.Incident) error {
	c.got = append(c.got, inc)
	return nil
}

func TestQueuedEnqueuesIncidents(t *testing.T) {
	q := &memQueue{}
	n := NewQueued(q)
	ctx := context.Background()

	require.NoError(t, n.NotifyIncident(ctx, &models.Incident{ID: "i1", Classification: models.ClassCritical}))
	require.NoError(t, n.NotifyIncident(ctx, nil))
	assert.Equal(t, []string{TypeIncidentNotify}, q.types)

	q.err = errors.New("redis down")
	err := n.NotifyIncident(ctx, &models.Incident{ID: "i2"})
	assert.ErrorContains(t, err, "i2")
}

func TestDeliveryJobDecodesQueuedPayload(t *testing.T) {
	inc := &models.Incident{ID: "i9", Classification: models.ClassHighRisk, Severity: 72.25}
	raw, err := json.Marshal(inc)
	require.NoError(t, err)

	next := &captureNotifier{}
	job := NewDeliveryJob(next)
	assert.Equal(t, TypeIncidentNotify, job.Type())

	require.NoError(t, job.Handle(context.Background(), json.RawMessage(raw)))
	require.Len(t, next.got, 1)
	assert.Equal(t, "i9", next.got[0].ID)
	assert.Equal(t, 72.25, next.got[0].Severity)
	assert.Equal(t, models.ClassHighRisk, next.got[0].Classification)

	assert.Error(t, job.Handle(context.Background(), 7))
}

type failingNotifier struct{ err error }

func (f failingNotifier) NotifyIncident(context.Context, *models.Incident) error { return f.err }

func TestDeliveryJobDeadLettersClientRejections(t *testing.T) {
	payload := json.RawMessage(`{"id":"i3"}`)

	job := NewDeliveryJob(failingNotifier{err: &xhttp.StatusError{Method: "POST", URL: "http://hook", Code: 400}})
	assert.True(t, queue.IsPermanent(job.Handle(context.Background(), payload)))

	job = NewDeliveryJob(failingNotifier{err: &xhttp.StatusError{Method: "POST", URL: "http://hook", Code: 503}})
	err := job.Handle(context.Background(), payload)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	assert.True(t, queue.IsPermanent(job.Handle(context.Background(), 7)))
}
