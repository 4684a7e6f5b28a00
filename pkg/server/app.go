// Package server owns the process lifecycle: it starts every ingest path,
// the scheduler and the HTTP API, then shuts them down in reverse order.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mid "MarketGuard/internal/middleware"
	"MarketGuard/internal/scheduler"
	"MarketGuard/internal/usecase"
	"MarketGuard/pkg/config"
	xhttp "MarketGuard/pkg/http"
	pkgkafka "MarketGuard/pkg/kafka"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	log       *logger.Logger
	proc      *usecase.CycleProcessor
	pipe      *mid.RealtimePipeline
	http      *xhttp.Server
	collector *usecase.TickCollector
	consumer  *pkgkafka.Consumer
	sched     *scheduler.Scheduler
	incidents *queue.RedisQueue
	closers   []closer
	cancel    context.CancelFunc
}

// New creates an App. The optional ingest paths are attached with setters.
func New(cfg *config.Config, l *logger.Logger, proc *usecase.CycleProcessor, pipe *mid.RealtimePipeline, srv *xhttp.Server) *App {
	if l == nil {
		l = logger.Nop()
	}
	return &App{
		cfg:  cfg,
		log:  l.With(logger.String("component", "app")),
		proc: proc,
		pipe: pipe,
		http: srv,
	}
}

func (a *App) SetCollector(c *usecase.TickCollector)  { a.collector = c }
func (a *App) SetConsumer(c *pkgkafka.Consumer)       { a.consumer = c }
func (a *App) SetScheduler(s *scheduler.Scheduler)    { a.sched = s }
func (a *App) SetIncidentQueue(q *queue.RedisQueue)   { a.incidents = q }
func (a *App) Processor() *usecase.CycleProcessor     { return a.proc }
func (a *App) AddCloser(name string, fn func() error) { a.closers = append(a.closers, closer{name, fn}) }

// Start launches every configured component without blocking.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.pipe.Start(ctx)

	if a.incidents != nil {
		if err := a.incidents.Start(); err != nil {
			return fmt.Errorf("start incident queue: %w", err)
		}
	}

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			return fmt.Errorf("start collector: %w", err)
		}
		a.log.Info("market stream collector started", logger.Strings("symbols", a.cfg.Symbols))
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer stopped", logger.Error(err))
			}
		}()
		a.log.Info("kafka tick consumer started", logger.String("topic", a.cfg.Kafka.TicksTopic))
	}

	if a.sched != nil {
		a.sched.Start()
		a.log.Info("scheduler started",
			logger.String("stress_cron", a.cfg.Scheduler.StressCron),
			logger.String("snapshot_cron", a.cfg.Scheduler.SnapshotCron))
	}

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Info("marketguard started",
		logger.String("backend", a.cfg.Backend.Type),
		logger.Int("port", a.cfg.Server.Port))
	return nil
}

// Run starts the app and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.log.Error("startup failed", logger.Error(err))
		_ = a.Shutdown(context.Background())
		return err
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(sctx)
}

// Shutdown stops intake first, drains the pipeline, snapshots the final
// state and then releases infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	record := func(what string, err error) {
		if err != nil {
			a.log.Warn("shutdown step failed", logger.String("step", what), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	if err := a.http.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		record("http", err)
	}
	if a.collector != nil {
		record("collector", a.collector.Shutdown(ctx))
	}
	if a.consumer != nil {
		record("kafka_consumer", a.consumer.Stop(ctx))
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	a.pipe.Stop()
	if a.cancel != nil {
		a.cancel()
	}

	record("snapshot", a.proc.SnapshotState(ctx))
	if a.incidents != nil {
		record("incident_queue", a.incidents.Stop(ctx))
	}
	a.proc.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		record(a.closers[i].name, a.closers[i].fn())
	}

	a.log.Info("shutdown complete", logger.Int("errors", len(errs)))
	return errors.Join(errs...)
}
