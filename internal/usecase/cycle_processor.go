package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	"MarketGuard/pkg/logger"
)

// Backends a processed cycle can be routed to.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendNone       = "none"
)

// CycleProcessor runs ticks through the orchestrator and fans each result
// out to the configured backend, the state cache and the notifier. Fan-out
// failures are logged and counted; they never fail the tick.
type CycleProcessor struct {
	orch     *MasterOrchestrator
	pub      drepo.Publisher
	store    drepo.Storage
	cache    drepo.StateCache
	notifier drepo.Notifier
	auditor  drepo.CycleAuditor
	metrics  drepo.Metrics
	log      *logger.Logger
	backend  string
}

// NewCycleProcessor creates a new CycleProcessor. pub, store, cache and
// notifier may be nil.
func NewCycleProcessor(
	orch *MasterOrchestrator,
	pub drepo.Publisher,
	store drepo.Storage,
	cache drepo.StateCache,
	notifier drepo.Notifier,
	metrics drepo.Metrics,
	log *logger.Logger,
	backend string,
) *CycleProcessor {
	if log == nil {
		log = logger.Nop()
	}
	return &CycleProcessor{
		orch:     orch,
		pub:      pub,
		store:    store,
		cache:    cache,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		backend:  backend,
	}
}

// SetAuditor injects the per-tick audit writer.
func (p *CycleProcessor) SetAuditor(a drepo.CycleAuditor) { p.auditor = a }

// Orchestrator returns the pipeline this processor drives.
func (p *CycleProcessor) Orchestrator() *MasterOrchestrator { return p.orch }

// Process runs a single tick and routes its cycle result.
func (p *CycleProcessor) Process(ctx context.Context, t *models.Tick) (*models.CycleResult, error) {
	if t == nil {
		return nil, fmt.Errorf("tick is nil")
	}
	start := time.Now()

	res, err := p.orch.ProcessTick(ctx, t.Symbol, t.Price, t.Timestamp)
	if err != nil {
		p.metrics.RecordError("process")
		return nil, fmt.Errorf("process tick: %w", err)
	}

	p.metrics.RecordCycle(res)
	p.metrics.RecordLastPrice(t.Symbol, t.Price)
	if res.FeedValidation != nil && res.FeedValidation.MismatchDetected {
		p.metrics.RecordFeedMismatch(t.Symbol)
	}

	p.route(ctx, res)
	if res.Incident != nil {
		p.escalate(ctx, res.Incident)
	}
	p.audit(ctx, res)
	if p.cache != nil {
		if err := p.cache.SaveCycle(ctx, res); err != nil {
			p.fail("cache_cycle", err)
		}
	}

	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return res, nil
}

// ProcessBatch processes ticks in order. ClickHouse receives one batched insert.
func (p *CycleProcessor) ProcessBatch(ctx context.Context, ticks []*models.Tick) ([]*models.CycleResult, error) {
	if len(ticks) == 0 {
		return nil, nil
	}
	start := time.Now()

	out := make([]*models.CycleResult, 0, len(ticks))
	for _, t := range ticks {
		if t == nil {
			p.metrics.RecordError("process_batch")
			continue
		}
		res, err := p.orch.ProcessTick(ctx, t.Symbol, t.Price, t.Timestamp)
		if err != nil {
			p.metrics.RecordError("process_batch")
			p.log.Warn("tick rejected", logger.String("symbol", t.Symbol), logger.Error(err))
			continue
		}
		p.metrics.RecordCycle(res)
		p.metrics.RecordLastPrice(t.Symbol, t.Price)
		if res.Incident != nil {
			p.escalate(ctx, res.Incident)
		}
		p.audit(ctx, res)
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("process batch: all %d ticks rejected", len(ticks))
	}

	switch p.backend {
	case BackendClickHouse:
		if p.store != nil {
			if err := p.store.StoreCycles(ctx, out); err != nil {
				p.fail("store_batch", err)
			}
		}
	default:
		for _, res := range out {
			p.route(ctx, res)
		}
	}
	if p.cache != nil {
		if err := p.cache.SaveCycle(ctx, out[len(out)-1]); err != nil {
			p.fail("cache_cycle", err)
		}
	}

	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return out, nil
}

func (p *CycleProcessor) route(ctx context.Context, res *models.CycleResult) {
	var err error
	switch p.backend {
	case BackendKafka:
		if p.pub != nil {
			err = p.pub.PublishCycle(ctx, res)
		}
	case BackendClickHouse:
		if p.store != nil {
			err = p.store.StoreCycle(ctx, res)
		}
	case BackendNone, "":
		return
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}
	if err != nil {
		p.fail("route_"+p.backend, err)
		return
	}
	p.metrics.RecordMessageSent(p.backend, res.Symbol)
}

func (p *CycleProcessor) escalate(ctx context.Context, inc *models.Incident) {
	p.metrics.RecordIncident(inc.Classification)
	switch p.backend {
	case BackendKafka:
		if p.pub != nil {
			if err := p.pub.PublishIncident(ctx, inc); err != nil {
				p.fail("publish_incident", err)
			}
		}
	case BackendClickHouse:
		if p.store != nil {
			if err := p.store.StoreIncident(ctx, inc); err != nil {
				p.fail("store_incident", err)
			}
		}
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyIncident(ctx, inc); err != nil {
			p.fail("notify_incident", err)
		}
	}
}

func (p *CycleProcessor) audit(ctx context.Context, res *models.CycleResult) {
	if p.auditor == nil {
		return
	}
	if err := p.auditor.RecordCycle(ctx, res); err != nil {
		p.fail("audit_cycle", err)
	}
}

// SnapshotState writes the current system state to the cache.
func (p *CycleProcessor) SnapshotState(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	st := p.orch.SystemState()
	if err := p.cache.SaveState(ctx, &st); err != nil {
		p.metrics.RecordError("cache_state")
		return fmt.Errorf("snapshot state: %w", err)
	}
	return nil
}

func (p *CycleProcessor) fail(kind string, err error) {
	p.metrics.RecordError(kind)
	p.log.Error("cycle fan-out failed", logger.String("kind", kind), logger.Error(err))
}

// Close closes underlying resources if available.
func (p *CycleProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
