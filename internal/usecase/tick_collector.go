package usecase

import (
	"context"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	mid "MarketGuard/internal/middleware"
	"MarketGuard/pkg/logger"
)

// TickCollector reads primary-feed ticks from a market stream and feeds them
// through the realtime pipeline, or straight into the processor when no
// pipeline is configured.
type TickCollector struct {
	stream  drepo.MarketStream
	proc    *CycleProcessor
	metrics drepo.Metrics
	pipe    *mid.RealtimePipeline
	log     *logger.Logger
}

// NewTickCollector creates a new TickCollector instance.
func NewTickCollector(stream drepo.MarketStream, proc *CycleProcessor, metrics drepo.Metrics, pipe *mid.RealtimePipeline, log *logger.Logger) *TickCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &TickCollector{stream: stream, proc: proc, metrics: metrics, pipe: pipe, log: log}
}

// IsConnected returns true if the market stream is connected.
func (c *TickCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	tickCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *TickCollector) consume(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("market stream error, reconnecting", logger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("market stream reconnect failed", logger.Error(rerr))
				}
			}
		case t, ok := <-tickCh:
			if !ok {
				return
			}
			if t == nil {
				continue
			}
			c.handle(ctx, t)
		}
	}
}

func (c *TickCollector) handle(ctx context.Context, t *models.Tick) {
	var err error
	if c.pipe != nil {
		err = c.pipe.Process(ctx, t)
	} else {
		_, err = c.proc.Process(ctx, t)
	}
	if err != nil {
		c.log.Debug("tick dropped", logger.String("symbol", t.Symbol), logger.Error(err))
	}
}

func (c *TickCollector) Stop() error { return c.stream.Close() }

// Processor returns the underlying CycleProcessor for lifecycle management.
func (c *TickCollector) Processor() *CycleProcessor { return c.proc }

// Shutdown stops pipeline and closes stream.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
