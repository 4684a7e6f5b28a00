package repository

import (
	"context"
	"time"

	cb "github.com/sony/gobreaker"

	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	applogger "MarketGuard/pkg/logger"
)

// BreakerSettings tunes when a sink breaker opens.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	Interval            time.Duration
	OpenTimeout         time.Duration
}

// DefaultBreakerSettings trips after 3 straight failures, or above a 5%
// failure ratio once 20 requests were seen.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
		Interval:            60 * time.Second,
		OpenTimeout:         30 * time.Second,
	}
}

func newBreaker(name string, s BreakerSettings, l *applogger.Logger) *cb.CircuitBreaker {
	st := cb.Settings{Name: name, Interval: s.Interval, Timeout: s.OpenTimeout}
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= s.ConsecutiveFailures {
			return true
		}
		if counts.Requests < s.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > s.FailureRatio
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		l.Warn("sink breaker state change",
			applogger.String("breaker", name),
			applogger.String("from", from.String()),
			applogger.String("to", to.String()),
		)
	}
	return cb.NewCircuitBreaker(st)
}

func run(b *cb.CircuitBreaker, fn func() error) error {
	_, err := b.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

// BreakerStorage guards a Storage so a down ClickHouse fails fast instead of
// stalling every tick. Reads and health checks bypass the breaker.
type BreakerStorage struct {
	next repository.Storage
	cb   *cb.CircuitBreaker
}

func NewBreakerStorage(next repository.Storage, s BreakerSettings, l *applogger.Logger) *BreakerStorage {
	if l == nil {
		l = applogger.Nop()
	}
	return &BreakerStorage{next: next, cb: newBreaker("storage", s, l)}
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerStorage) State() string { return b.cb.State().String() }

func (b *BreakerStorage) Init(ctx context.Context) error { return b.next.Init(ctx) }

func (b *BreakerStorage) StoreCycle(ctx context.Context, c *models.CycleResult) error {
	return run(b.cb, func() error { return b.next.StoreCycle(ctx, c) })
}

func (b *BreakerStorage) StoreCycles(ctx context.Context, cs []*models.CycleResult) error {
	return run(b.cb, func() error { return b.next.StoreCycles(ctx, cs) })
}

func (b *BreakerStorage) StoreIncident(ctx context.Context, inc *models.Incident) error {
	return run(b.cb, func() error { return b.next.StoreIncident(ctx, inc) })
}

func (b *BreakerStorage) QueryCycles(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.CycleResult, error) {
	return b.next.QueryCycles(ctx, symbol, from, to, limit)
}

func (b *BreakerStorage) Health(ctx context.Context) error { return b.next.Health(ctx) }
func (b *BreakerStorage) Close() error                     { return b.next.Close() }

// BreakerPublisher guards a Publisher the same way.
type BreakerPublisher struct {
	next repository.Publisher
	cb   *cb.CircuitBreaker
}

func NewBreakerPublisher(next repository.Publisher, s BreakerSettings, l *applogger.Logger) *BreakerPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &BreakerPublisher{next: next, cb: newBreaker("publisher", s, l)}
}

func (b *BreakerPublisher) State() string { return b.cb.State().String() }

func (b *BreakerPublisher) PublishCycle(ctx context.Context, c *models.CycleResult) error {
	return run(b.cb, func() error { return b.next.PublishCycle(ctx, c) })
}

func (b *BreakerPublisher) PublishIncident(ctx context.Context, inc *models.Incident) error {
	return run(b.cb, func() error { return b.next.PublishIncident(ctx, inc) })
}

func (b *BreakerPublisher) Close() error { return b.next.Close() }
