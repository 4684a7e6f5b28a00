package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
	icache "MarketGuard/internal/service/cache"
	"MarketGuard/internal/usecase"
	pkgcache "MarketGuard/pkg/cache"
	"MarketGuard/pkg/metrics"
)

type stressMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	runs   int
	errors map[string]int
}

func (m *stressMetrics) RecordStress(*models.StressReport) {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
}

func (m *stressMetrics) RecordError(kind string) {
	m.mu.Lock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
	m.mu.Unlock()
}

type eventSink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (s *eventSink) RecordEvent(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
func (s *eventSink) RecordIncident(context.Context, models.Incident) error { return nil }
func (s *eventSink) Close() error                                          { return nil }

type snapFunc func(ctx context.Context) error

func (f snapFunc) SnapshotState(ctx context.Context) error { return f(ctx) }

type failingStress struct{}

func (failingStress) RunStressBattery() ([]models.StressReport, error) {
	return nil, errors.New("no baseline")
}

func newOrchestrator(t *testing.T) *usecase.MasterOrchestrator {
	t.Helper()
	cfg := usecase.DefaultOrchestratorConfig()
	cfg.Symbols = []string{"AAPL", "MSFT", "NVDA"}
	o, err := usecase.NewMasterOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func TestRunStressNowRecordsEveryScenario(t *testing.T) {
	m := &stressMetrics{}
	sink := &eventSink{}
	s := NewScheduler(context.Background(), newOrchestrator(t), snapFunc(func(context.Context) error { return nil }), nil, sink, m, nil)

	require.NoError(t, s.RunStressNow())
	assert.Equal(t, 9, m.runs)
	require.Len(t, sink.events, 1)
	assert.Equal(t, models.EventStressBattery, sink.events[0].Type)
	assert.Equal(t, 9, sink.events[0].Data["scenarios"])
}

func TestRunStressNowSkipsWhileLocked(t *testing.T) {
	locks := icache.NewStateCache(pkgcache.NewMemoryCache(), time.Minute)
	ctx := context.Background()
	ok, err := locks.TryLock(ctx, LockStress, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	m := &stressMetrics{}
	s := NewScheduler(ctx, newOrchestrator(t), snapFunc(func(context.Context) error { return nil }), locks, nil, m, nil)
	require.NoError(t, s.RunStressNow())
	assert.Zero(t, m.runs)

	require.NoError(t, locks.Unlock(ctx, LockStress))
	require.NoError(t, s.RunStressNow())
	assert.Equal(t, 9, m.runs)

	// released after the run
	ok, err = locks.TryLock(ctx, LockStress, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunStressNowCountsFailure(t *testing.T) {
	m := &stressMetrics{}
	s := NewScheduler(context.Background(), failingStress{}, nil, nil, nil, m, nil)
	assert.Error(t, s.RunStressNow())
	assert.Equal(t, 1, m.errors["stress_battery"])
}

func TestSnapshotNow(t *testing.T) {
	calls := 0
	s := NewScheduler(context.Background(), failingStress{}, snapFunc(func(context.Context) error {
		calls++
		return nil
	}), nil, nil, metrics.Nop{}, nil)
	require.NoError(t, s.SnapshotNow())
	assert.Equal(t, 1, calls)
}

func TestRegisterAll(t *testing.T) {
	s := NewScheduler(context.Background(), failingStress{}, nil, nil, nil, metrics.Nop{}, nil)
	require.NoError(t, s.RegisterAll("0 */5 * * * *", "*/30 * * * * *"))
	assert.Len(t, s.Cron.Entries(), 2)

	s2 := NewScheduler(context.Background(), failingStress{}, nil, nil, nil, metrics.Nop{}, nil)
	assert.Error(t, s2.RegisterAll("not a cron", ""))

	s3 := NewScheduler(context.Background(), failingStress{}, nil, nil, nil, metrics.Nop{}, nil)
	require.NoError(t, s3.RegisterAll("", ""))
	assert.Empty(t, s3.Cron.Entries())
}
