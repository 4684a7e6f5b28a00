package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHandler struct {
	topic string
	fails int
	calls int
	panic bool
}

func (h *scriptedHandler) Topic() string { return h.topic }

func (h *scriptedHandler) Handle(_ context.Context, _ []byte) error {
	h.calls++
	if h.panic {
		panic("bad tick")
	}
	if h.calls <= h.fails {
		return errors.New("transient")
	}
	return nil
}

type memFetcher struct {
	mu        sync.Mutex
	committed []int64
}

func (f *memFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *memFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *memFetcher) Close() error { return nil }

func newTestConsumer(t *testing.T, h MessageHandler, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	c.RegisterHandler(h)
	return c
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	h := &scriptedHandler{topic: "ticks", fails: 2}
	c := newTestConsumer(t, h)
	src := &memFetcher{}

	c.process(delivery{src: src, msg: kafka.Message{Topic: "ticks", Offset: 7, Value: []byte(`{}`)}})
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []int64{7}, src.committed)
}

func TestConsumerGivesUpAndReportsFinalError(t *testing.T) {
	h := &scriptedHandler{topic: "ticks", fails: 10}
	c := newTestConsumer(t, h)
	var codes []string
	c.WithConsumerHook(ErrorCounter(func(_, code string) { codes = append(codes, code) }))
	src := &memFetcher{}

	c.process(delivery{src: src, msg: kafka.Message{Topic: "ticks", Offset: 3, Value: []byte(`{}`)}})
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, []string{"ERR_HANDLER"}, codes)
	// without a dead-letter topic a failed message is committed and dropped
	assert.Equal(t, []int64{3}, src.committed)
}

func TestConsumerHookRejectionSkipsHandler(t *testing.T) {
	h := &scriptedHandler{topic: "ticks"}
	c := newTestConsumer(t, h)
	var codes []string
	c.WithConsumerHook(NewHookChain(PayloadGuard(4), ErrorCounter(func(_, code string) { codes = append(codes, code) })))

	c.process(delivery{msg: kafka.Message{Topic: "ticks", Value: []byte("too large")}})
	assert.Zero(t, h.calls)
	assert.Equal(t, []string{"ERR_PAYLOAD"}, codes)
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	h := &scriptedHandler{topic: "ticks", panic: true}
	c := newTestConsumer(t, h, WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	var codes []string
	c.WithConsumerHook(ErrorCounter(func(_, code string) { codes = append(codes, code) }))

	assert.NotPanics(t, func() { c.process(delivery{msg: kafka.Message{Topic: "ticks", Value: []byte(`{}`)}}) })
	assert.Equal(t, []string{"ERR_PANIC"}, codes)
}

type decodeFailHandler struct{ calls int }

func (h *decodeFailHandler) Topic() string { return "ticks" }

func (h *decodeFailHandler) Handle(context.Context, []byte) error {
	h.calls++
	return &HookError{Code: "ERR_DECODE", Err: errors.New("bad json")}
}

func TestConsumerDoesNotRetryHookErrors(t *testing.T) {
	h := &decodeFailHandler{}
	c := newTestConsumer(t, h)
	var codes []string
	c.WithConsumerHook(ErrorCounter(func(_, code string) { codes = append(codes, code) }))
	src := &memFetcher{}

	c.process(delivery{src: src, msg: kafka.Message{Topic: "ticks", Offset: 4, Value: []byte(`{`)}})
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, []string{"ERR_DECODE"}, codes)
	assert.Equal(t, []int64{4}, src.committed)
}

func TestConsumerStopAbandonsRetries(t *testing.T) {
	h := &scriptedHandler{topic: "ticks", fails: 10}
	c := newTestConsumer(t, h, WithConsumerRetry(5, time.Hour, time.Hour))
	src := &memFetcher{}
	c.cancel()

	c.process(delivery{src: src, msg: kafka.Message{Topic: "ticks", Offset: 1, Value: []byte(`{}`)}})
	assert.Equal(t, 1, h.calls)
	assert.Empty(t, src.committed)
}

func TestConsumerLanesAndStop(t *testing.T) {
	c := newTestConsumer(t, &scriptedHandler{topic: "ticks"}, WithConsumerWorkers(4))
	c.startLanes()
	src := &memFetcher{}
	c.readers["ticks"] = src
	c.fetchWG.Add(1)
	go c.fetch("ticks", src)

	lane := c.laneFor("ticks", 2)
	assert.Equal(t, lane, c.laneFor("ticks", 2))
	assert.Less(t, lane, 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestBackoffBounds(t *testing.T) {
	c := &Consumer{cfg: &ConsumerConfig{BackoffMin: 100 * time.Millisecond, BackoffMax: time.Second}}
	for attempt := 1; attempt <= 8; attempt++ {
		d := c.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, c.backoff(1), 100*time.Millisecond)
	assert.Greater(t, c.backoff(1), 50*time.Millisecond)
}

func TestProducerValidation(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "brotli")

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("none"))
	require.NoError(t, err)
	defer p.Close()

	out, size, err := p.encode("cycles", []Message{{Key: []byte("AAPL"), Value: map[string]int{"msi": 80}, Headers: map[string]string{"v": "1"}}, {Value: "raw"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, `{"msi":80}`, string(out[0].Value))
	assert.Equal(t, "cycles", out[1].Topic)
	assert.Equal(t, int64(len(`{"msi":80}`)+3), size)

	_, _, err = p.encode("cycles", []Message{{Value: nil}})
	assert.Error(t, err)
}
