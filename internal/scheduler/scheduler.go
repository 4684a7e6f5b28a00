package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	"MarketGuard/pkg/logger"
)

// Job lock names.
const (
	LockStress   = "stress"
	LockSnapshot = "snapshot"
)

// StressRunner runs the standard scenario battery against live state.
type StressRunner interface {
	RunStressBattery() ([]models.StressReport, error)
}

// Snapshotter persists the current system state.
type Snapshotter interface {
	SnapshotState(ctx context.Context) error
}

// Locker keeps a job from running on two replicas at once.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// Scheduler manages the periodic risk jobs.
type Scheduler struct {
	Cron     *cron.Cron
	stress   StressRunner
	snapshot Snapshotter
	locker   Locker
	sink     drepo.AuditSink
	metrics  drepo.Metrics
	log      *logger.Logger
	ctx      context.Context
	lockTTL  time.Duration
}

// NewScheduler creates a new Scheduler. locker and sink may be nil.
func NewScheduler(ctx context.Context, stress StressRunner, snap Snapshotter, locker Locker, sink drepo.AuditSink, metrics drepo.Metrics, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		stress:   stress,
		snapshot: snap,
		locker:   locker,
		sink:     sink,
		metrics:  metrics,
		log:      log.With(logger.String("component", "scheduler")),
		ctx:      ctx,
		lockTTL:  time.Minute,
	}
}

// RegisterAll registers the stress battery and state snapshot jobs. An
// empty spec disables that job.
func (s *Scheduler) RegisterAll(stressCron, snapshotCron string) error {
	if stressCron != "" {
		if _, err := s.Cron.AddFunc(stressCron, func() { _ = s.RunStressNow() }); err != nil {
			return fmt.Errorf("register stress task: %w", err)
		}
	}
	if snapshotCron != "" {
		if _, err := s.Cron.AddFunc(snapshotCron, func() { _ = s.SnapshotNow() }); err != nil {
			return fmt.Errorf("register snapshot task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunStressNow runs the battery once, records every report and emits one
// audit event. Skipped while another holder owns the lock.
func (s *Scheduler) RunStressNow() error {
	release, ok := s.acquire(LockStress)
	if !ok {
		return nil
	}
	defer release()

	start := time.Now()
	reports, err := s.stress.RunStressBattery()
	if err != nil {
		s.metrics.RecordError("stress_battery")
		s.log.Warn("stress battery skipped", logger.Error(err))
		return fmt.Errorf("stress battery: %w", err)
	}

	worst := models.FragilityRobust
	maxDelta := 0.0
	for i := range reports {
		r := &reports[i]
		s.metrics.RecordStress(r)
		if fragilityRank(r.Fragility) > fragilityRank(worst) {
			worst = r.Fragility
		}
		if r.DeltaMSI > maxDelta {
			maxDelta = r.DeltaMSI
		}
	}
	s.metrics.RecordLatency("stress_battery", time.Since(start).Seconds())

	fields := []logger.Field{
		logger.Int("scenarios", len(reports)),
		logger.String("worst_fragility", string(worst)),
		logger.Float64("max_delta_msi", maxDelta),
	}
	severity := models.SeverityInfo
	if fragilityRank(worst) >= fragilityRank(models.FragilityFragile) {
		severity = models.SeverityWarning
		s.log.Warn("stress battery completed", fields...)
	} else {
		s.log.Info("stress battery completed", fields...)
	}

	if s.sink != nil {
		ev := models.AuditEvent{
			Timestamp: time.Now().UTC(),
			Type:      models.EventStressBattery,
			Severity:  severity,
			Message:   fmt.Sprintf("stress battery: %d scenarios, worst %s", len(reports), worst),
			Data: map[string]any{
				"worst_fragility": string(worst),
				"max_delta_msi":   maxDelta,
				"scenarios":       len(reports),
			},
		}
		if err := s.sink.RecordEvent(s.ctx, ev); err != nil {
			s.metrics.RecordError("audit_event")
			s.log.Error("record stress event", logger.Error(err))
		}
	}
	return nil
}

// SnapshotNow writes the current system state once.
func (s *Scheduler) SnapshotNow() error {
	release, ok := s.acquire(LockSnapshot)
	if !ok {
		return nil
	}
	defer release()
	if err := s.snapshot.SnapshotState(s.ctx); err != nil {
		s.log.Error("state snapshot failed", logger.Error(err))
		return err
	}
	return nil
}

// acquire returns ok=false when the job must be skipped. Lock backend
// errors do not block the job.
func (s *Scheduler) acquire(name string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	ok, err := s.locker.TryLock(s.ctx, name, s.lockTTL)
	if err != nil {
		s.log.Warn("job lock unavailable, running unguarded", logger.String("job", name), logger.Error(err))
		return func() {}, true
	}
	if !ok {
		s.log.Debug("job already running elsewhere", logger.String("job", name))
		return nil, false
	}
	return func() {
		if err := s.locker.Unlock(s.ctx, name); err != nil {
			s.log.Warn("job unlock failed", logger.String("job", name), logger.Error(err))
		}
	}, true
}

func fragilityRank(f models.Fragility) int {
	switch f {
	case models.FragilityCrisis:
		return 3
	case models.FragilityFragile:
		return 2
	case models.FragilityModerate:
		return 1
	default:
		return 0
	}
}
