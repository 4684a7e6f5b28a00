package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	publishedMsgs  *prometheus.CounterVec
	publishedBytes *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	consumedMsgs   *prometheus.CounterVec
	handleLatency  *prometheus.HistogramVec
	laneDepth      *prometheus.GaugeVec
	deadLettered   *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		publishedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_kafka_published_total",
			Help: "Messages written to Kafka by topic and result.",
		}, []string{"topic", "result"})
		publishedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_kafka_published_bytes_total",
			Help: "Payload bytes written to Kafka.",
		}, []string{"topic"})
		publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketguard_kafka_publish_seconds",
			Help:    "Latency of one Publish or PublishBatch call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		consumedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_kafka_consumed_total",
			Help: "Messages handled by topic and result.",
		}, []string{"topic", "result"})
		handleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketguard_kafka_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
		laneDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketguard_kafka_lane_depth",
			Help: "Messages waiting in a consumer lane.",
		}, []string{"lane"})
		deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketguard_kafka_dead_lettered_total",
			Help: "Messages moved to the dead-letter topic.",
		}, []string{"topic"})
	})
}

func observePublish(topic string, n int, bytes int64, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishedMsgs.WithLabelValues(topic, result).Add(float64(n))
	if err == nil {
		publishedBytes.WithLabelValues(topic).Add(float64(bytes))
	}
	publishLatency.WithLabelValues(topic).Observe(d.Seconds())
}
