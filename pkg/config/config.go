package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"MarketGuard/pkg/util"
)

// Result backends.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendNone       = "none"
)

type Config struct {
	Environment string   `yaml:"environment"`
	Symbols     []string `yaml:"symbols"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		ReadOnly        bool          `yaml:"read_only"`
		ClientRPS       float64       `yaml:"client_rps" default:"20"`
		ClientBurst     int           `yaml:"client_burst" default:"40"`
		StateFreshness  time.Duration `yaml:"state_freshness" default:"2s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	} `yaml:"server"`
	Logging struct {
		Level         string        `yaml:"level" default:"info"`
		Format        string        `yaml:"format" default:"json"`
		Output        string        `yaml:"output" default:"stdout"`
		CollectErrors bool          `yaml:"collect_errors" default:"true"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		Topic         string        `yaml:"topic"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type" default:"none"`
		BatchSize    int           `yaml:"batch_size" default:"500"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers        []string `yaml:"brokers"`
		TicksTopic     string   `yaml:"ticks_topic"`
		CyclesTopic    string   `yaml:"cycles_topic" default:"marketguard.cycles"`
		IncidentsTopic string   `yaml:"incidents_topic" default:"marketguard.incidents"`
		RequiredAcks   int      `yaml:"required_acks" default:"-1"`
		Compression    string   `yaml:"compression" default:"snappy"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"marketguard"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketguard"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Addr      string        `yaml:"addr" default:"localhost:6379"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		PoolSize  int           `yaml:"pool_size" default:"10"`
		StateTTL  time.Duration `yaml:"state_ttl" default:"30s"`
		MemoryTTL time.Duration `yaml:"memory_ttl" default:"1s"`
	} `yaml:"redis"`
	Audit struct {
		Enabled    bool   `yaml:"enabled" default:"true"`
		SQLitePath string `yaml:"sqlite_path" default:"marketguard_audit.db"`
	} `yaml:"audit"`
	Finnhub struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
	Pipeline struct {
		MaxRPS     float64 `yaml:"max_rps" default:"20"`
		Burst      int     `yaml:"burst" default:"5"`
		BufferSize int     `yaml:"buffer_size" default:"1000"`
	} `yaml:"pipeline"`
	Engines   Engines `yaml:"engines"`
	Scheduler struct {
		Enabled      bool   `yaml:"enabled" default:"true"`
		StressCron   string `yaml:"stress_cron" default:"0 */5 * * * *"`
		SnapshotCron string `yaml:"snapshot_cron" default:"*/10 * * * * *"`
	} `yaml:"scheduler"`
	Notifier struct {
		WebhookURL        string        `yaml:"webhook_url"`
		MinClassification string        `yaml:"min_classification" default:"HIGH_RISK_EVENT"`
		Timeout           time.Duration `yaml:"timeout" default:"5s"`
		Queued            bool          `yaml:"queued" default:"true"`
		RetryLimit        int           `yaml:"retry_limit" default:"5"`
		RetryDelay        time.Duration `yaml:"retry_delay" default:"2s"`
		Workers           int           `yaml:"workers" default:"1"`
	} `yaml:"notifier"`
}

// Engines tunes the risk engines. Zero values mean the engine default.
type Engines struct {
	AutoRegister      bool `yaml:"auto_register"`
	AnomalyWindow     int  `yaml:"anomaly_window"`
	CycleHistory      int  `yaml:"cycle_history"`
	IncidentRetention int  `yaml:"incident_retention"`
	Feed              struct {
		DeviationThreshold float64 `yaml:"deviation_threshold"`
		SeverityWeight     float64 `yaml:"severity_weight"`
		RecoveryRate       float64 `yaml:"recovery_rate"`
		MinFeeds           int     `yaml:"min_feeds"`
	} `yaml:"feed"`
	Contagion struct {
		Window                    int     `yaml:"window"`
		CorrelationSpikeThreshold float64 `yaml:"correlation_spike_threshold"`
		VolatilitySyncThreshold   float64 `yaml:"volatility_sync_threshold"`
	} `yaml:"contagion"`
	Action struct {
		StableThreshold         float64 `yaml:"stable_threshold"`
		ElevatedThreshold       float64 `yaml:"elevated_threshold"`
		HighVolatilityThreshold float64 `yaml:"high_volatility_threshold"`
		ContagionEscalation     float64 `yaml:"contagion_escalation"`
		FeedMismatchEscalation  float64 `yaml:"feed_mismatch_escalation"`
		TrustEscalation         float64 `yaml:"trust_escalation"`
	} `yaml:"action"`
	Analytics struct {
		DetectorWindow         int     `yaml:"detector_window"`
		ZThreshold             float64 `yaml:"z_threshold"`
		TrustRecovery          float64 `yaml:"trust_recovery"`
		DeviationBps           float64 `yaml:"deviation_bps"`
		CorruptionProbability  float64 `yaml:"corruption_probability"`
		CorruptionMagnitudePct float64 `yaml:"corruption_magnitude_pct"`
		Seed                   int64   `yaml:"seed"`
	} `yaml:"analytics"`
}

// Parse applies defaults, then decodes YAML over them so explicit false and
// zero values in the file are kept.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides with environment variables
// and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. getenv is injectable for tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Symbols = util.SplitList(v)
	}
	if v := getenv("BACKEND"); v != "" {
		c.Backend.Type = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("KAFKA_TICKS_TOPIC"); v != "" {
		c.Kafka.TicksTopic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("AUDIT_SQLITE_PATH"); v != "" {
		c.Audit.SQLitePath = v
		c.Audit.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Symbols) == 0 && !c.Engines.AutoRegister {
		return fmt.Errorf("symbols cannot be empty unless engines.auto_register is set")
	}
	switch c.Backend.Type {
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required for the kafka backend")
		}
		if c.Kafka.CyclesTopic == "" || c.Kafka.IncidentsTopic == "" {
			return fmt.Errorf("kafka.cycles_topic and kafka.incidents_topic are required for the kafka backend")
		}
	case BackendClickHouse:
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse backend")
		}
	case BackendNone:
	default:
		return fmt.Errorf("backend.type must be 'kafka', 'clickhouse' or 'none', got '%s'", c.Backend.Type)
	}
	if c.Kafka.TicksTopic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka.ticks_topic is set")
	}
	if c.Finnhub.Enabled && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required when finnhub is enabled")
	}
	if c.Audit.Enabled && c.Audit.SQLitePath == "" {
		return fmt.Errorf("audit.sqlite_path is required when audit is enabled")
	}
	if c.Pipeline.MaxRPS < 0 || c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("pipeline.max_rps must be >= 0 and pipeline.buffer_size > 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	return nil
}
