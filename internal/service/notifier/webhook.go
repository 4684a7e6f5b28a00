// Package notifier pushes governance incidents to an external responder.
package notifier

import (
	"context"
	"fmt"
	"time"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	xhttp "MarketGuard/pkg/http"
	applogger "MarketGuard/pkg/logger"
)

// Payload is the JSON body posted for each incident.
type Payload struct {
	Source         string                `json:"source"`
	Classification models.Classification `json:"classification"`
	Severity       float64               `json:"severity"`
	Tier           models.RiskTier       `json:"risk_tier"`
	Action         models.Action         `json:"recommended_action"`
	Summary        string                `json:"summary"`
	Incident       *models.Incident      `json:"incident"`
	SentAt         time.Time             `json:"sent_at"`
}

// Webhook posts incidents at or above a minimum classification.
type Webhook struct {
	url      string
	minClass models.Classification
	headers  map[string]string
	client   *xhttp.Client
	l        *applogger.Logger
	now      func() time.Time
}

var _ drepo.Notifier = (*Webhook)(nil)

type Option func(*Webhook)

func WithHeader(k, v string) Option {
	return func(w *Webhook) { w.headers[k] = v }
}

func WithLogger(l *applogger.Logger) Option {
	return func(w *Webhook) {
		if l != nil {
			w.l = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Webhook) { w.now = now }
}

// NewWebhook builds a notifier. An empty minClass defaults to HIGH_RISK_EVENT.
func NewWebhook(url string, minClass models.Classification, timeout time.Duration, opts ...Option) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if minClass == "" {
		minClass = models.ClassHighRisk
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &Webhook{
		url:      url,
		minClass: minClass,
		headers:  map[string]string{"Content-Type": "application/json"},
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		l:        applogger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Accepts reports whether an incident of class c is delivered.
func (w *Webhook) Accepts(c models.Classification) bool {
	return c.Rank() >= w.minClass.Rank()
}

func (w *Webhook) NotifyIncident(ctx context.Context, inc *models.Incident) error {
	if inc == nil || !w.Accepts(inc.Classification) {
		return nil
	}
	body := Payload{
		Source:         "marketguard",
		Classification: inc.Classification,
		Severity:       inc.Severity,
		Tier:           inc.Tier,
		Action:         inc.Action,
		Summary: fmt.Sprintf("%s: tier %s, severity %.2f, MSI %.2f",
			inc.Classification, inc.Tier, inc.Severity, inc.MSI),
		Incident: inc,
		SentAt:   w.now().UTC(),
	}
	err := w.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     w.url,
		Headers: w.headers,
		Body:    body,
	}, nil)
	if err != nil {
		w.l.Warn("incident webhook failed",
			applogger.String("incident_id", inc.ID),
			applogger.String("classification", string(inc.Classification)),
			applogger.Error(err),
		)
		return fmt.Errorf("notify incident %s: %w", inc.ID, err)
	}
	w.l.Info("incident webhook delivered",
		applogger.String("incident_id", inc.ID),
		applogger.String("classification", string(inc.Classification)),
	)
	return nil
}
