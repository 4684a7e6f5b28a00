package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"MarketGuard/pkg/logger"
)

// MessageHandler consumes one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

// fetcher is the part of *kafka.Reader the consumer uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type delivery struct {
	src fetcher
	msg kafka.Message
}

var errStopping = errors.New("kafka consumer: stopping")

// Consumer reads every registered topic in one consumer group. Messages
// are fetched without auto-commit, handled on a lane chosen by partition
// and committed once handled or dead-lettered.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	hook     ConsumerHook
	handlers map[string]MessageHandler
	readers  map[string]fetcher
	lanes    []chan delivery
	dlq      *kafka.Writer

	ctx      context.Context
	cancel   context.CancelFunc
	fetchWG  sync.WaitGroup
	laneWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, o := range opts {
		o(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	initMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger,
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]fetcher),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}, RequiredAcks: kafka.RequireAll}
	}
	return c, nil
}

// WithConsumerHook installs h around every handler call.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, dup := c.handlers[h.Topic()]; dup {
		c.log.Warn("kafka consumer: duplicate handler ignored", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start opens one reader per topic and returns immediately.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.cfg.GroupID,
			Topic:       topic,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: kafka.FirstOffset,
		})
	}
	c.startLanes()
	for topic, r := range c.readers {
		c.fetchWG.Add(1)
		go c.fetch(topic, r)
	}
	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("lanes", len(c.lanes)),
		logger.String("group", c.cfg.GroupID))
	return nil
}

func (c *Consumer) startLanes() {
	c.lanes = make([]chan delivery, c.cfg.Workers)
	for i := range c.lanes {
		c.lanes[i] = make(chan delivery, c.cfg.BufferSize)
		c.laneWG.Add(1)
		go c.runLane(i, c.lanes[i])
	}
}

// Stop halts fetching, drains the lanes and closes readers. Messages left
// unhandled are not committed and will be redelivered.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.fetchWG.Wait()
		for _, l := range c.lanes {
			close(l)
		}
		err = waitCtx(ctx, &c.laneWG)

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func waitCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kafka consumer: drain lanes: %w", ctx.Err())
	}
}

func (c *Consumer) fetch(topic string, r fetcher) {
	defer c.fetchWG.Done()
	failures := 0
	for {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.log.Warn("kafka consumer: fetch", logger.String("topic", topic), logger.Int("failures", failures), logger.Error(err))
			if !c.sleep(c.backoff(failures)) {
				return
			}
			continue
		}
		failures = 0

		lane := c.laneFor(msg.Topic, msg.Partition)
		select {
		case c.lanes[lane] <- delivery{src: r, msg: msg}:
			laneDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(len(c.lanes[lane])))
		case <-c.ctx.Done():
			return
		}
	}
}

// laneFor pins a partition to one lane so its messages stay ordered.
func (c *Consumer) laneFor(topic string, partition int) int {
	if len(c.lanes) <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte{byte(partition >> 24), byte(partition >> 16), byte(partition >> 8), byte(partition)})
	return int(h.Sum32() % uint32(len(c.lanes)))
}

func (c *Consumer) runLane(id int, in <-chan delivery) {
	defer c.laneWG.Done()
	label := strconv.Itoa(id)
	for d := range in {
		laneDepth.WithLabelValues(label).Set(float64(len(in)))
		c.process(d)
	}
}

func (c *Consumer) process(d delivery) {
	topic := d.msg.Topic
	h, ok := c.handlers[topic]
	if !ok {
		c.log.Error("kafka consumer: no handler", logger.String("topic", topic))
		return
	}

	start := time.Now()
	attempts, err := c.handle(h, d.msg)
	handleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if errors.Is(err, errStopping) {
		return
	}
	if err != nil {
		consumedMsgs.WithLabelValues(topic, "failed").Inc()
		c.hook.OnError(c.ctx, topic, d.msg, d.msg.Value, err)
		c.log.Error("kafka consumer: message failed",
			logger.String("topic", topic),
			logger.Int("partition", d.msg.Partition),
			logger.Int64("offset", d.msg.Offset),
			logger.Int("attempts", attempts),
			logger.Error(err))
		if !c.deadLetter(d.msg, err) {
			return
		}
	} else {
		consumedMsgs.WithLabelValues(topic, "ok").Inc()
	}
	c.commit(d)
}

// handle runs the hook chain and handler, retrying handler errors with
// backoff. Hook rejections and *HookError results are final.
func (c *Consumer) handle(h MessageHandler, km kafka.Message) (int, error) {
	for attempt := 1; ; attempt++ {
		ctx, m, data, err := c.hook.BeforeHandle(context.Background(), km.Topic, km, km.Value)
		if err != nil {
			return attempt, err
		}
		err = safeHandle(ctx, h, data)
		c.hook.AfterHandle(ctx, km.Topic, m, data, err)
		var final *HookError
		if err == nil || attempt > c.cfg.RetryMax || errors.As(err, &final) {
			return attempt, err
		}
		if !c.sleep(c.backoff(attempt)) {
			return attempt, errStopping
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()
	return h.Handle(ctx, data)
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(km kafka.Message, cause error) bool {
	if c.dlq == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	headers := make([]kafka.Header, 0, len(km.Headers)+3)
	headers = append(headers, km.Headers...)
	headers = append(headers,
		kafka.Header{Key: "source_topic", Value: []byte(km.Topic)},
		kafka.Header{Key: "source_offset", Value: []byte(strconv.FormatInt(km.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
	)
	err := c.dlq.WriteMessages(ctx, kafka.Message{Topic: c.cfg.DLQTopic, Key: km.Key, Value: km.Value, Headers: headers})
	if err != nil {
		c.log.Error("kafka consumer: dead-letter write", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	deadLettered.WithLabelValues(km.Topic).Inc()
	return true
}

func (c *Consumer) commit(d delivery) {
	if d.src == nil {
		return
	}
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := d.src.CommitMessages(ctx, d.msg)
		cancel()
		if err == nil {
			return
		}
		c.log.Warn("kafka consumer: commit", logger.String("topic", d.msg.Topic), logger.Int("attempt", attempt), logger.Error(err))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
}

// backoff doubles from BackoffMin up to BackoffMax and subtracts up to
// half as jitter.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffMin
	for i := 1; i < attempt && d < c.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int64N(half))
	}
	return d
}

// sleep returns false if the consumer stopped first.
func (c *Consumer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}
