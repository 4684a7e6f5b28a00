package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
symbols: [AAPL, MSFT]
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, BackendNone, c.Backend.Type)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 10*time.Second, c.Server.ReadTimeout)
	assert.True(t, c.Audit.Enabled)
	assert.True(t, c.Scheduler.Enabled)
	assert.Equal(t, "0 */5 * * * *", c.Scheduler.StressCron)
	assert.Equal(t, "HIGH_RISK_EVENT", c.Notifier.MinClassification)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
}

func TestParseKeepsExplicitFalse(t *testing.T) {
	c, err := Parse([]byte(minimal + `
audit:
  enabled: false
scheduler:
  enabled: false
server:
  port: 9090
  state_freshness: 500ms
`))
	require.NoError(t, err)
	assert.False(t, c.Audit.Enabled)
	assert.False(t, c.Scheduler.Enabled)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 500*time.Millisecond, c.Server.StateFreshness)
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)
	env := map[string]string{
		"SYMBOLS":           "NVDA, AMZN ,",
		"BACKEND":           " Kafka ",
		"KAFKA_BROKERS":     "k1:9092,k2:9092",
		"KAFKA_TICKS_TOPIC": "ticks",
		"REDIS_ADDR":        "redis:6379",
		"AUDIT_SQLITE_PATH": "/tmp/a.db",
		"FINNHUB_API_KEY":   "secret",
	}
	c.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"NVDA", "AMZN"}, c.Symbols)
	assert.Equal(t, BackendKafka, c.Backend.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "ticks", c.Kafka.TicksTopic)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, "/tmp/a.db", c.Audit.SQLitePath)
	assert.Equal(t, "secret", c.Finnhub.APIKey)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing environment", "symbols: [AAPL]"},
		{"no symbols", "environment: x"},
		{"bad backend", minimal + "backend: {type: mongo}"},
		{"kafka without brokers", minimal + "backend: {type: kafka}"},
		{"clickhouse without host", minimal + "backend: {type: clickhouse}"},
		{"finnhub without key", minimal + "finnhub: {enabled: true}"},
		{"ticks topic without brokers", minimal + "kafka: {ticks_topic: t}"},
		{"bad port", minimal + "server: {port: 70000}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			assert.Error(t, c.Validate())
		})
	}

	c, err := Parse([]byte("environment: x\nengines: {auto_register: true}"))
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}

func TestLoadWithEnvReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	t.Setenv("BACKEND", "bogus")
	_, err := LoadWithEnv(path)
	assert.Error(t, err)

	t.Setenv("BACKEND", "none")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
