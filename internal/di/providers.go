package di

import (
	"context"
	"fmt"

	"github.com/google/wire"

	"MarketGuard/internal/domain/models"
	drepo "MarketGuard/internal/domain/repository"
	"MarketGuard/internal/handler/api"
	mid "MarketGuard/internal/middleware"
	"MarketGuard/internal/repository"
	"MarketGuard/internal/scheduler"
	icache "MarketGuard/internal/service/cache"
	"MarketGuard/internal/service/finnhub"
	"MarketGuard/internal/service/notifier"
	"MarketGuard/internal/usecase"
	pkgcache "MarketGuard/pkg/cache"
	pkgch "MarketGuard/pkg/clickhouse"
	"MarketGuard/pkg/config"
	xhttp "MarketGuard/pkg/http"
	pkgkafka "MarketGuard/pkg/kafka"
	"MarketGuard/pkg/logger"
	"MarketGuard/pkg/metrics"
	"MarketGuard/pkg/queue"
	"MarketGuard/pkg/server"
)

// ProviderSet groups every provider used to assemble the service.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideAuditSink,
	ProvideOrchestrator,
	ProvideClickHouseClient,
	ProvideStorage,
	ProvideKafkaProducer,
	ProvidePublisher,
	ProvideRedisCache,
	ProvideCache,
	ProvideStateCache,
	ProvideWebhook,
	ProvideIncidentQueue,
	ProvideNotifier,
	ProvideCycleProcessor,
	ProvidePipeline,
	ProvideMarketStream,
	ProvideTickCollector,
	ProvideKafkaTicksHandler,
	ProvideKafkaConsumer,
	ProvideScheduler,
	ProvideHTTPHandler,
	ProvideHTTPServer,
	ProvideApp,
)

func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Logging.CollectErrors {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logging.FlushInterval,
			CountThreshold: 100,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideAuditSink opens the SQLite audit trail, or returns nil when disabled.
func ProvideAuditSink(cfg *config.Config, l *logger.Logger) (*repository.SQLiteAuditSink, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	s, err := repository.NewSQLiteAuditSink(cfg.Audit.SQLitePath, l)
	if err != nil {
		return nil, fmt.Errorf("init audit sink: %w", err)
	}
	return s, nil
}

// OrchestratorConfig maps the engines section onto the pipeline defaults.
// Zero values keep the default.
func OrchestratorConfig(cfg *config.Config) usecase.OrchestratorConfig {
	oc := usecase.DefaultOrchestratorConfig()
	e := cfg.Engines
	oc.Symbols = cfg.Symbols
	oc.AutoRegister = e.AutoRegister
	setInt(&oc.AnomalyWindow, e.AnomalyWindow)
	setInt(&oc.CycleHistory, e.CycleHistory)
	setInt(&oc.IncidentRetention, e.IncidentRetention)

	setFloat(&oc.Feed.DeviationThreshold, e.Feed.DeviationThreshold)
	setFloat(&oc.Feed.SeverityWeight, e.Feed.SeverityWeight)
	setFloat(&oc.Feed.RecoveryRate, e.Feed.RecoveryRate)
	setInt(&oc.Feed.MinFeeds, e.Feed.MinFeeds)

	setInt(&oc.Contagion.Window, e.Contagion.Window)
	setFloat(&oc.Contagion.CorrelationSpikeThreshold, e.Contagion.CorrelationSpikeThreshold)
	setFloat(&oc.Contagion.VolatilitySyncThreshold, e.Contagion.VolatilitySyncThreshold)

	setFloat(&oc.Policy.StableThreshold, e.Action.StableThreshold)
	setFloat(&oc.Policy.ElevatedThreshold, e.Action.ElevatedThreshold)
	setFloat(&oc.Policy.HighVolatilityThreshold, e.Action.HighVolatilityThreshold)
	setFloat(&oc.Policy.ContagionEscalation, e.Action.ContagionEscalation)
	setFloat(&oc.Policy.FeedMismatchEscalation, e.Action.FeedMismatchEscalation)
	setFloat(&oc.Policy.TrustEscalation, e.Action.TrustEscalation)

	setInt(&oc.Analytics.DetectorWindow, e.Analytics.DetectorWindow)
	setFloat(&oc.Analytics.ZThreshold, e.Analytics.ZThreshold)
	setFloat(&oc.Analytics.TrustRecovery, e.Analytics.TrustRecovery)
	setFloat(&oc.Analytics.DeviationBps, e.Analytics.DeviationBps)
	setFloat(&oc.Analytics.CorruptionProbability, e.Analytics.CorruptionProbability)
	setFloat(&oc.Analytics.CorruptionMagnitudePct, e.Analytics.CorruptionMagnitudePct)
	if e.Analytics.Seed != 0 {
		oc.Analytics.Seed = e.Analytics.Seed
	}
	return oc
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func ProvideOrchestrator(cfg *config.Config, l *logger.Logger, audit *repository.SQLiteAuditSink) (*usecase.MasterOrchestrator, error) {
	opts := []usecase.OrchestratorOption{usecase.WithOrchestratorLogger(l)}
	if audit != nil {
		opts = append(opts, usecase.WithAuditSink(audit))
	}
	o, err := usecase.NewMasterOrchestrator(OrchestratorConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return o, nil
}

// ProvideClickHouseClient connects only for the clickhouse backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != config.BackendClickHouse {
		return nil, nil
	}
	c := cfg.ClickHouse
	return pkgch.NewClient(
		pkgch.WithHost(c.Host),
		pkgch.WithPort(c.Port),
		pkgch.WithDatabase(c.Database),
		pkgch.WithCredentials(c.User, c.Password),
		pkgch.WithTimeouts(c.DialTimeout, c.ReadTimeout),
		pkgch.WithHTTP(c.UseHTTP),
		pkgch.WithAsyncInsert(c.AsyncInsert, c.WaitForAsync),
		pkgch.WithMaxExecutionTime(c.MaxExecutionTime),
	)
}

// ProvideStorage creates the cycle tables and wraps the store in a breaker.
func ProvideStorage(client *pkgch.Client, l *logger.Logger) (drepo.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := repository.NewClickHouseStore(client, l)
	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("init clickhouse schema: %w", err)
	}
	return repository.NewBreakerStorage(store, repository.DefaultBreakerSettings(), l), nil
}

// ProvideKafkaProducer connects for the kafka backend. When a log topic is
// configured the producer also ships aggregated error logs.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return nil, nil
	}
	k := cfg.Kafka
	p, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithBatchSize(k.Producer.BatchSize),
		pkgkafka.WithBatchTimeout(k.Producer.Linger),
		pkgkafka.WithBatchBytes(k.Producer.BatchBytes),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	if cfg.Logging.CollectErrors && cfg.Logging.Topic != "" {
		l.ShipErrors(cfg.Logging.Topic, p)
	}
	return p, nil
}

func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer, l *logger.Logger) drepo.Publisher {
	if producer == nil {
		return nil
	}
	pub := repository.NewKafkaPublisher(producer, cfg.Kafka.CyclesTopic, cfg.Kafka.IncidentsTopic)
	return repository.NewBreakerPublisher(pub, repository.DefaultBreakerSettings(), l)
}

func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	r := cfg.Redis
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(r.Addr),
		pkgcache.WithRedisPassword(r.Password),
		pkgcache.WithRedisDB(r.DB),
		pkgcache.WithRedisPool(r.PoolSize, r.PoolSize/2, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	return rc, nil
}

// ProvideCache layers a short-lived memory cache over Redis, or falls back
// to memory alone.
func ProvideCache(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	if rc == nil {
		return pkgcache.NewMemoryCache()
	}
	return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredMemoryTTL(cfg.Redis.MemoryTTL))
}

func ProvideStateCache(cfg *config.Config, c pkgcache.Service) *icache.StateCache {
	return icache.NewStateCache(c, cfg.Redis.StateTTL)
}

func ProvideWebhook(cfg *config.Config, l *logger.Logger) (*notifier.Webhook, error) {
	n := cfg.Notifier
	if n.WebhookURL == "" {
		return nil, nil
	}
	minClass := models.Classification(n.MinClassification)
	if minClass.Rank() == 0 && minClass != models.ClassNormal {
		return nil, fmt.Errorf("notifier.min_classification %q is not one of %v", n.MinClassification, models.Classifications())
	}
	return notifier.NewWebhook(n.WebhookURL, minClass, n.Timeout, notifier.WithLogger(l))
}

// ProvideIncidentQueue puts a Redis retry queue in front of the webhook when
// both are available.
func ProvideIncidentQueue(cfg *config.Config, rc *pkgcache.RedisCache, wh *notifier.Webhook, l *logger.Logger) *queue.RedisQueue {
	if rc == nil || wh == nil || !cfg.Notifier.Queued {
		return nil
	}
	q := queue.NewRedisQueue(rc.Client(), queue.Config{
		Workers:    cfg.Notifier.Workers,
		RetryLimit: cfg.Notifier.RetryLimit,
		RetryDelay: cfg.Notifier.RetryDelay,
	}, queue.WithQueueLogger(l.With(logger.String("component", "incident_queue"))))
	q.RegisterJob(notifier.NewDeliveryJob(wh))
	return q
}

func ProvideNotifier(wh *notifier.Webhook, q *queue.RedisQueue) drepo.Notifier {
	switch {
	case q != nil:
		return notifier.NewQueued(q)
	case wh != nil:
		return wh
	default:
		return nil
	}
}

func ProvideCycleProcessor(
	cfg *config.Config,
	orch *usecase.MasterOrchestrator,
	pub drepo.Publisher,
	store drepo.Storage,
	state *icache.StateCache,
	n drepo.Notifier,
	audit *repository.SQLiteAuditSink,
	m drepo.Metrics,
	l *logger.Logger,
) *usecase.CycleProcessor {
	p := usecase.NewCycleProcessor(orch, pub, store, state, n, m, l.With(logger.String("component", "processor")), cfg.Backend.Type)
	if audit != nil {
		p.SetAuditor(audit)
	}
	return p
}

func ProvidePipeline(cfg *config.Config, proc *usecase.CycleProcessor, m drepo.Metrics, l *logger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
		mid.WithBurst(cfg.Pipeline.Burst),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithPipelineLogger(l.With(logger.String("component", "pipeline"))),
	)
}

func ProvideMarketStream(cfg *config.Config, l *logger.Logger) drepo.MarketStream {
	f := cfg.Finnhub
	if !f.Enabled {
		return nil
	}
	return finnhub.New(f.APIKey, f.WebSocketURL, cfg.Symbols, f.ReconnectDelay, f.PingInterval,
		l.With(logger.String("component", "finnhub")))
}

func ProvideTickCollector(stream drepo.MarketStream, proc *usecase.CycleProcessor, m drepo.Metrics, pipe *mid.RealtimePipeline, l *logger.Logger) *usecase.TickCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewTickCollector(stream, proc, m, pipe, l.With(logger.String("component", "collector")))
}

func ProvideKafkaTicksHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m drepo.Metrics) *usecase.KafkaTicksHandler {
	if cfg.Kafka.TicksTopic == "" {
		return nil
	}
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, pipe, m)
}

// ProvideKafkaConsumer subscribes the ticks handler when a ticks topic is set.
func ProvideKafkaConsumer(cfg *config.Config, kh *usecase.KafkaTicksHandler, m drepo.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if kh == nil {
		return nil, nil
	}
	k := cfg.Kafka
	c, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l.With(logger.String("component", "kafka_consumer"))),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	c.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.PayloadGuard(64<<10),
		pkgkafka.ErrorCounter(func(topic, code string) { m.RecordError("consumer_" + code) }),
	))
	c.RegisterHandler(kh)
	return c, nil
}

// ProvideScheduler registers the cron jobs, or returns nil when disabled.
func ProvideScheduler(cfg *config.Config, proc *usecase.CycleProcessor, state *icache.StateCache, audit *repository.SQLiteAuditSink, m drepo.Metrics, l *logger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	var sink drepo.AuditSink
	if audit != nil {
		sink = audit
	}
	s := scheduler.NewScheduler(context.Background(), proc.Orchestrator(), proc, state, sink, m, l)
	if err := s.RegisterAll(cfg.Scheduler.StressCron, cfg.Scheduler.SnapshotCron); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	return s, nil
}

func ProvideHTTPHandler(
	cfg *config.Config,
	proc *usecase.CycleProcessor,
	store drepo.Storage,
	state *icache.StateCache,
	audit *repository.SQLiteAuditSink,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
	m drepo.Metrics,
	l *logger.Logger,
) *api.RiskEchoHandler {
	opts := []api.HandlerOption{
		api.WithStateCache(state, cfg.Server.StateFreshness),
		api.WithClientRateLimit(cfg.Server.ClientRPS, cfg.Server.ClientBurst),
		api.WithReadOnly(cfg.Server.ReadOnly),
	}
	if store != nil {
		opts = append(opts, api.WithStorage(store), api.WithHealthCheck("clickhouse", ch.Health))
	}
	if audit != nil {
		opts = append(opts, api.WithEventReader(audit))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Ping(ctx)
		}))
	}
	return api.NewRiskEchoHandler(l, proc, m, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.RiskEchoHandler, l *logger.Logger) *xhttp.Server {
	s := cfg.Server
	return xhttp.NewServer(h,
		xhttp.WithHost(s.Host),
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithSlowThreshold(s.SlowThreshold),
		xhttp.WithMetrics(cfg.Metrics.Enabled),
		xhttp.WithServerLogger(l),
	)
}

func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	proc *usecase.CycleProcessor,
	pipe *mid.RealtimePipeline,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	sched *scheduler.Scheduler,
	q *queue.RedisQueue,
	srv *xhttp.Server,
	audit *repository.SQLiteAuditSink,
	ch *pkgch.Client,
	c pkgcache.Service,
) *server.App {
	app := server.New(cfg, l, proc, pipe, srv)
	if collector != nil {
		app.SetCollector(collector)
	}
	if consumer != nil {
		app.SetConsumer(consumer)
	}
	if sched != nil {
		app.SetScheduler(sched)
	}
	if q != nil {
		app.SetIncidentQueue(q)
	}
	if audit != nil {
		app.AddCloser("audit", audit.Close)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch.Close)
	}
	if cl, ok := c.(interface{ Close() error }); ok {
		app.AddCloser("cache", cl.Close)
	}
	return app
}
