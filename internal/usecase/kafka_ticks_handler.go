package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"MarketGuard/internal/domain/errs"
	"MarketGuard/internal/domain/models"
	domrepo "MarketGuard/internal/domain/repository"
	pkgkafka "MarketGuard/pkg/kafka"
	"MarketGuard/pkg/util"
)

// TickSink accepts validated ticks. Satisfied by the realtime pipeline.
type TickSink interface {
	Process(ctx context.Context, t *models.Tick) error
}

// KafkaTicksHandler consumes primary-feed ticks from Kafka and runs them
// through the risk pipeline.
type KafkaTicksHandler struct {
	topic   string
	sink    TickSink
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, sink TickSink, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, c, v}; t in unix seconds or milliseconds
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return &pkgkafka.HookError{Code: "ERR_DECODE", Err: fmt.Errorf("decode tick: %w", err)}
	}
	ts := util.EpochToTime(m.T)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	start := time.Now()
	err := h.sink.Process(ctx, &models.Tick{
		Symbol:    m.Symbol,
		Timestamp: ts,
		Price:     m.C,
		Volume:    m.V,
	})
	h.metrics.RecordLatency("consumer_process_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_process")
		// bad ticks are not retried
		if errors.Is(err, errs.ErrInvalidInput) || errors.Is(err, errs.ErrNotRegistered) {
			return nil
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
