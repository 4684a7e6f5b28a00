package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a batch of aggregated records, typically to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, default 30s
	CountThreshold int           // distinct records that force a flush, default 100
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct record with its repeat count.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds identical records together and flushes them on a
// timer or once CountThreshold distinct records are pending.
type LogCollector struct {
	interval  time.Duration
	threshold int

	mu      sync.RWMutex
	topic   string
	pub     Publisher
	pending map[uint64]*AggregatedLogEntry
	recent  []AggregatedLogEntry

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	if cfg == nil {
		cfg = &CollectionConfig{}
	}
	c := &LogCollector{
		interval:  cfg.TimeInterval,
		threshold: cfg.CountThreshold,
		topic:     cfg.Topic,
		pub:       cfg.Publisher,
		pending:   make(map[uint64]*AggregatedLogEntry),
		done:      make(chan struct{}),
	}
	if c.interval <= 0 {
		c.interval = 30 * time.Second
	}
	if c.threshold <= 0 {
		c.threshold = 100
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// SetPublisher changes where future batches go.
func (c *LogCollector) SetPublisher(topic string, p Publisher) {
	c.mu.Lock()
	c.topic, c.pub = topic, p
	c.mu.Unlock()
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := fingerprint(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.pending[key] = &AggregatedLogEntry{
		Level: level, Message: message, Fields: fields, Caller: caller,
		Count: 1, FirstSeen: now, LastSeen: now,
	}
	if len(c.pending) >= c.threshold {
		c.flushLocked()
	}
}

// fingerprint hashes the record identity. json.Marshal sorts map keys so
// equal field sets hash equally.
func fingerprint(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%s\x00", level, message, caller)
	if len(fields) > 0 {
		b, _ := json.Marshal(fields)
		_, _ = h.Write(b)
	}
	return h.Sum64()
}

func (c *LogCollector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Flush()
		case <-c.done:
			c.Flush()
			return
		}
	}
}

// Flush moves pending records into the recent batch and publishes them.
func (c *LogCollector) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *LogCollector) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	batch := make([]AggregatedLogEntry, 0, len(c.pending))
	for _, e := range c.pending {
		batch = append(batch, *e)
	}
	sortByLastSeen(batch)
	c.pending = make(map[uint64]*AggregatedLogEntry)
	c.recent = batch

	if c.pub == nil {
		return
	}
	pub, topic := c.pub, c.topic
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// the logger cannot log its own shipping failure
		if err := pub.PublishMessage(ctx, topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "logger: ship %d records to %s: %v\n", len(batch), topic, err)
		}
	}()
}

// Recent returns the last flushed batch plus pending records, newest first.
func (c *LogCollector) Recent() []AggregatedLogEntry {
	c.mu.RLock()
	out := make([]AggregatedLogEntry, 0, len(c.recent)+len(c.pending))
	out = append(out, c.recent...)
	for _, e := range c.pending {
		out = append(out, *e)
	}
	c.mu.RUnlock()
	sortByLastSeen(out)
	return out
}

// Close stops the flush loop after a final flush. Safe to call twice.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func sortByLastSeen(rows []AggregatedLogEntry) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].LastSeen.After(rows[j].LastSeen) })
}
