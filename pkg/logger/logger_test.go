package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func bufferLogger(buf *bytes.Buffer) *Logger {
	return &Logger{zl: zerolog.New(buf), sink: &errorSink{}}
}

func TestFieldsAreTyped(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf).With(String("component", "feed"))
	l.Info("tick", Int("n", 3), Float64("price", 101.5), Bool("ok", true),
		Duration("lag", 1500*time.Millisecond), Strings("symbols", []string{"AAPL", "MSFT"}), Error(errors.New("late")))

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "feed", rec["component"])
	assert.Equal(t, 3.0, rec["n"])
	assert.Equal(t, 101.5, rec["price"])
	assert.Equal(t, true, rec["ok"])
	assert.Equal(t, 1500.0, rec["lag"])
	assert.Equal(t, "AAPL,MSFT", rec["symbols"])
	assert.Equal(t, "late", rec["error"])
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour})
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.AddLog("error", "feed stale", map[string]interface{}{"symbol": "AAPL"}, "a.go:1")
	}
	c.AddLog("error", "feed stale", map[string]interface{}{"symbol": "MSFT"}, "a.go:1")

	rows := c.Recent()
	require.Len(t, rows, 2)
	counts := map[interface{}]int{}
	for _, r := range rows {
		counts[r.Fields["symbol"]] = r.Count
	}
	assert.Equal(t, 3, counts["AAPL"])
	assert.Equal(t, 1, counts["MSFT"])
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "errors", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "errors", pub.topic)
	assert.Len(t, c.Recent(), 2)
}

func TestShipErrorsReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	root := bufferLogger(&buf)
	child := root.With(String("component", "scheduler"))

	pub := &capturePublisher{}
	root.ShipErrors("marketguard.errors", pub)
	defer root.RemoveCollector()

	child.Error("stress battery failed", Error(errors.New("no baseline")))
	rows := root.RecentErrors()
	require.Len(t, rows, 1)
	assert.Equal(t, "stress battery failed", rows[0].Message)
	assert.Equal(t, "no baseline", rows[0].Fields["error"])
	assert.Contains(t, rows[0].Caller, "logger_test.go")

	root.sink.get().Flush()
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "marketguard.errors", pub.topic)
}

func TestWarnIsNotCollected(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour})
	defer l.RemoveCollector()

	l.Warn("slow request")
	assert.Empty(t, l.RecentErrors())
}

func TestNopIsSilent(t *testing.T) {
	l := Nop()
	l.Error("ignored")
	l.ShipErrors("t", &capturePublisher{})
	assert.Nil(t, l.RecentErrors())
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "WARN", Output: "stderr", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l.zl.GetLevel())
}
