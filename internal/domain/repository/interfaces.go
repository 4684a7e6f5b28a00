package repository

import (
	"context"
	"time"

	"MarketGuard/internal/domain/models"
)

// MarketStream is a live source of primary-feed ticks.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Publisher fans cycle results and incidents out to downstream consumers.
type Publisher interface {
	PublishCycle(ctx context.Context, c *models.CycleResult) error
	PublishIncident(ctx context.Context, inc *models.Incident) error
	Close() error
}

// Storage persists cycle results and incidents for historical queries.
type Storage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreCycle(ctx context.Context, c *models.CycleResult) error
	StoreCycles(ctx context.Context, cs []*models.CycleResult) error
	StoreIncident(ctx context.Context, inc *models.Incident) error
	QueryCycles(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.CycleResult, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// AuditSink is the optional persistence collaborator for incidents and system events.
// The pipeline must work without one.
type AuditSink interface {
	RecordEvent(ctx context.Context, ev models.AuditEvent) error
	RecordIncident(ctx context.Context, inc models.Incident) error
	Close() error
}

// StateCache keeps the latest system state and cycle for fast reads.
type StateCache interface {
	SaveState(ctx context.Context, st *models.SystemState) error
	LoadState(ctx context.Context) (*models.SystemState, error)
	SaveCycle(ctx context.Context, c *models.CycleResult) error
	LoadCycle(ctx context.Context) (*models.CycleResult, error)
}

// Notifier delivers incidents to an external responder.
type Notifier interface {
	NotifyIncident(ctx context.Context, inc *models.Incident) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordCycle(c *models.CycleResult)
	RecordFeedMismatch(symbol string)
	RecordIncident(class models.Classification)
	RecordStress(r *models.StressReport)
}

// CycleAuditor persists per-tick market data, anomalies and trust scores.
type CycleAuditor interface {
	RecordCycle(ctx context.Context, c *models.CycleResult) error
}
