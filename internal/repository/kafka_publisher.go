package repository

import (
	"context"

	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	pkgkafka "MarketGuard/pkg/kafka"
)

// KafkaPublisher implements Publisher for Kafka. Cycles are keyed by symbol so
// a symbol's results stay ordered on one partition.
type KafkaPublisher struct {
	producer       *pkgkafka.Producer
	cyclesTopic    string
	incidentsTopic string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, cyclesTopic, incidentsTopic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, cyclesTopic: cyclesTopic, incidentsTopic: incidentsTopic}
}

func (p *KafkaPublisher) PublishCycle(ctx context.Context, c *models.CycleResult) error {
	return p.producer.Publish(ctx, p.cyclesTopic, []byte(c.Symbol), c)
}

// PublishCycles sends a batch in one write.
func (p *KafkaPublisher) PublishCycles(ctx context.Context, cs []*models.CycleResult) error {
	if len(cs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(cs))
	for i, c := range cs {
		msgs[i] = pkgkafka.Message{Key: []byte(c.Symbol), Value: c}
	}
	return p.producer.PublishBatch(ctx, p.cyclesTopic, msgs)
}

func (p *KafkaPublisher) PublishIncident(ctx context.Context, inc *models.Incident) error {
	return p.producer.Publish(ctx, p.incidentsTopic, []byte(inc.ID), inc)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
