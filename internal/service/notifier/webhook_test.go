package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
)

type recorder struct {
	mu       sync.Mutex
	payloads []Payload
	auth     string
	status   int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var p Payload
	_ = json.NewDecoder(req.Body).Decode(&p)
	r.payloads = append(r.payloads, p)
	r.auth = req.Header.Get("Authorization")
	if r.status != 0 {
		w.WriteHeader(r.status)
	}
}

var now = time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)

func TestWebhookFiltersByClassification(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	w, err := NewWebhook(srv.URL, models.ClassHighRisk, time.Second,
		WithHeader("Authorization", "Bearer t"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.NotifyIncident(ctx, &models.Incident{ID: "e", Classification: models.ClassElevated}))
	require.NoError(t, w.NotifyIncident(ctx, &models.Incident{ID: "h", Classification: models.ClassHighRisk, Tier: models.TierHighVolatility, Severity: 61.5}))
	require.NoError(t, w.NotifyIncident(ctx, &models.Incident{ID: "c", Classification: models.ClassCritical, Tier: models.TierSystemicCrisis}))
	require.NoError(t, w.NotifyIncident(ctx, nil))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.payloads, 2)
	assert.Equal(t, "h", rec.payloads[0].Incident.ID)
	assert.Equal(t, 61.5, rec.payloads[0].Severity)
	assert.Equal(t, models.TierHighVolatility, rec.payloads[0].Tier)
	assert.Equal(t, now, rec.payloads[0].SentAt)
	assert.Equal(t, "c", rec.payloads[1].Incident.ID)
	assert.Equal(t, "Bearer t", rec.auth)
}

func TestWebhookReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(&recorder{status: http.StatusBadGateway})
	defer srv.Close()

	w, err := NewWebhook(srv.URL, "", time.Second)
	require.NoError(t, err)
	err = w.NotifyIncident(context.Background(), &models.Incident{ID: "x", Classification: models.ClassCritical})
	assert.ErrorContains(t, err, "502")
}

func TestNewWebhookValidation(t *testing.T) {
	_, err := NewWebhook("", models.ClassCritical, 0)
	assert.Error(t, err)

	w, err := NewWebhook("http://example.invalid", "", 0)
	require.NoError(t, err)
	assert.False(t, w.Accepts(models.ClassElevated))
	assert.True(t, w.Accepts(models.ClassHighRisk))
	assert.True(t, w.Accepts(models.ClassCritical))
}
