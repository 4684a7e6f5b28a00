package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
	mid "MarketGuard/internal/middleware"
)

type fakeStream struct {
	mu         sync.Mutex
	ticks      chan *models.Tick
	errs       chan error
	connected  bool
	reconnects int
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan *models.Tick, 8), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Read(context.Context) (<-chan *models.Tick, <-chan error) {
	return s.ticks, s.errs
}
func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func TestTickCollectorFeedsProcessor(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	m := newCountingMetrics()
	proc := NewCycleProcessor(o, nil, nil, nil, nil, m, nil, BackendNone)
	stream := newFakeStream()
	c := NewTickCollector(stream, proc, m, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	stream.ticks <- &models.Tick{Symbol: "AAPL", Price: 100, Timestamp: t0}
	stream.ticks <- nil
	stream.ticks <- &models.Tick{Symbol: "MSFT", Price: 200, Timestamp: t0}
	stream.errs <- errors.New("read reset")

	require.Eventually(t, func() bool { return o.SystemState().TickCount == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return stream.reconnectCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, m.errorCount("stream"))

	require.NoError(t, c.Shutdown(ctx))
	assert.True(t, stream.closed)
	assert.Same(t, proc, c.Processor())
}

type sinkFunc func(context.Context, *models.Tick) error

func (f sinkFunc) Process(ctx context.Context, t *models.Tick) error { return f(ctx, t) }

func TestKafkaTicksHandlerDecodes(t *testing.T) {
	var got *models.Tick
	m := newCountingMetrics()
	h := NewKafkaTicksHandler("ticks", sinkFunc(func(_ context.Context, tk *models.Tick) error {
		got = tk
		return nil
	}), m)
	assert.Equal(t, "ticks", h.Topic())

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"AAPL","t":1714998600000,"c":189.5,"v":12}`)))
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 189.5, got.Price)
	assert.Equal(t, 12.0, got.Volume)
	assert.Equal(t, time.Unix(1714998600, 0).UTC(), got.Timestamp)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"symbol":"AAPL","t":1714998600,"c":1}`)))
	assert.Equal(t, time.Unix(1714998600, 0).UTC(), got.Timestamp)

	assert.Error(t, h.Handle(context.Background(), []byte(`{`)))
	assert.Equal(t, 1, m.errorCount("consumer_unmarshal"))
}

func TestKafkaTicksHandlerRetryPolicy(t *testing.T) {
	o := newOrchestrator(t, stubFactory{feed: scaled(1)}, nil)
	m := newCountingMetrics()
	proc := NewCycleProcessor(o, nil, nil, nil, nil, m, nil, BackendNone)
	pipe := mid.NewRealtimePipeline(proc, m, mid.WithMaxRPS(0))
	h := NewKafkaTicksHandler("ticks", pipe, m)
	ctx := context.Background()

	// unknown symbols and bad prices are dropped, not retried
	assert.NoError(t, h.Handle(ctx, []byte(`{"symbol":"ZZZ","t":1714998600,"c":10}`)))
	assert.NoError(t, h.Handle(ctx, []byte(`{"symbol":"AAPL","t":1714998600,"c":-1}`)))
	assert.Equal(t, 2, m.errorCount("consumer_process"))

	transient := errors.New("downstream unavailable")
	h = NewKafkaTicksHandler("ticks", sinkFunc(func(context.Context, *models.Tick) error { return transient }), m)
	assert.ErrorIs(t, h.Handle(ctx, []byte(`{"symbol":"AAPL","t":1714998600,"c":10}`)), transient)
}
