package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	domrepo "MarketGuard/internal/domain/repository"
	"MarketGuard/internal/service/ratelimit"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/util"
)

// ErrBufferFull is returned when a tick is dropped because the queue is full.
var ErrBufferFull = errors.New("pipeline buffer full")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) (*models.CycleResult, error)
}

// RealtimePipeline sits between the market stream and the orchestrator.
// It validates and throttles ticks per symbol, then queues them for a single
// worker so a slow pipeline never blocks the stream reader.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	log     *logger.Logger
	maxRPS  float64
	burst   int
	bufSize int
	limiter *ratelimit.Limiter
	bufCh   chan *models.Tick
	stopCh  chan struct{}
	done    sync.WaitGroup
	mu      sync.Mutex
	started bool
	// optional format transform hook
	transform func(*models.Tick) *models.Tick
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per symbol. Zero disables throttling.
func WithMaxRPS(n float64) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBurst sets how many ticks a symbol may send back to back.
func WithBurst(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.burst = n
		}
	}
}

// WithBufferSize sets the queue depth between the stream and the worker.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a transformation hook to modify tick format.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:    proc,
		metrics: metrics,
		log:     logger.Nop(),
		maxRPS:  20, // default throttle per symbol
		burst:   5,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	p.limiter = ratelimit.New(p.maxRPS, p.burst)
	return p
}

// Start launches the worker draining the queue. Until Start is called,
// Process handles ticks synchronously.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.done.Add(1)
	go func() {
		defer p.done.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case t := <-p.bufCh:
				p.handle(ctx, t)
				p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
			}
		}
	}()
}

// Stop stops the worker and waits for the in-flight tick.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.done.Wait()
}

// Depth returns the number of queued ticks.
func (p *RealtimePipeline) Depth() int { return len(p.bufCh) }

// Process validates, throttles and forwards a tick. Throttled ticks are
// dropped silently.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.limiter.Allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	p.mu.Lock()
	async := p.started
	p.mu.Unlock()
	if !async {
		return p.handle(ctx, t)
	}

	select {
	case p.bufCh <- t:
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrBufferFull
	}
}

func (p *RealtimePipeline) handle(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return nil
	}
	start := time.Now()
	if _, err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.log.Warn("tick not processed", logger.String("symbol", t.Symbol), logger.Error(err))
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateTick(t *models.Tick) error {
	const op = "pipeline.validate"
	if t == nil {
		return errs.InvalidInput(op, "tick is nil")
	}
	if t.Symbol == "" {
		return errs.InvalidInput(op, "symbol is empty")
	}
	if t.Timestamp.IsZero() {
		return errs.InvalidInput(op, "timestamp is zero")
	}
	if !util.Finite(t.Price) || t.Price <= 0 || t.Volume < 0 {
		return errs.InvalidInput(op, "invalid price/volume %v/%v", t.Price, t.Volume)
	}
	return nil
}
