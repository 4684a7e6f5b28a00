package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"MarketGuard/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	cycles         *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	trust          *prometheus.GaugeVec
	msi            prometheus.Gauge
	crs            prometheus.Gauge
	mismatchRate   prometheus.Gauge
	tier           prometheus.Gauge
	feedMismatches *prometheus.CounterVec
	incidents      *prometheus.CounterVec
	stressRuns     *prometheus.CounterVec
	stressDelta    prometheus.Histogram
}

// New creates a recorder registered with the default Prometheus registry.
func New() *Recorder { return NewWithRegistry(prometheus.DefaultRegisterer) }

// NewWithRegistry registers every collector with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_messages_sent_total",
				Help: "Total number of cycle results sent to backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketguard_last_price",
				Help: "Last primary-feed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketguard_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_cycles_total",
				Help: "Processed cycles by resulting risk tier",
			},
			[]string{"tier"},
		),
		anomalies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_anomalies_total",
				Help: "Price anomalies detected per symbol",
			},
			[]string{"symbol"},
		),
		trust: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketguard_trust_score",
				Help: "Current data trust score per symbol",
			},
			[]string{"symbol"},
		),
		msi: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketguard_stability_index",
			Help: "Current market stability index (0-100)",
		}),
		crs: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketguard_contagion_risk_score",
			Help: "Current contagion risk score (0-100)",
		}),
		mismatchRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketguard_feed_mismatch_rate",
			Help: "Global cross-feed mismatch rate",
		}),
		tier: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketguard_risk_tier",
			Help: "Current risk tier (0=NORMAL .. 3=SYSTEMIC_CRISIS)",
		}),
		feedMismatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_feed_mismatches_total",
				Help: "Cross-feed mismatches per symbol",
			},
			[]string{"symbol"},
		),
		incidents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_incidents_total",
				Help: "Governance incidents by regulatory classification",
			},
			[]string{"classification"},
		),
		stressRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketguard_stress_simulations_total",
				Help: "Stress simulations by scenario and fragility",
			},
			[]string{"scenario", "fragility"},
		),
		stressDelta: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketguard_stress_delta_msi",
			Help:    "Index drop produced by stress scenarios",
			Buckets: []float64{0, 5, 10, 25, 40, 60, 80, 100},
		}),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordCycle updates the system gauges from one cycle result.
func (r *Recorder) RecordCycle(c *models.CycleResult) {
	if c == nil {
		return
	}
	r.cycles.WithLabelValues(c.RiskTier.String()).Inc()
	if c.IsAnomaly {
		r.anomalies.WithLabelValues(c.Symbol).Inc()
	}
	r.trust.WithLabelValues(c.Symbol).Set(c.TrustScore)
	r.msi.Set(c.MSI)
	r.crs.Set(c.CRS)
	r.mismatchRate.Set(c.FeedMismatchRate)
	r.tier.Set(float64(c.RiskTier))
	if n := len(c.Errors); n > 0 {
		r.errorsTotal.WithLabelValues("layer").Add(float64(n))
	}
	r.latency.WithLabelValues("cycle").Observe(c.ProcessingTimeMs / 1000)
}

func (r *Recorder) RecordFeedMismatch(symbol string) {
	r.feedMismatches.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordIncident(class models.Classification) {
	r.incidents.WithLabelValues(string(class)).Inc()
}

func (r *Recorder) RecordStress(rep *models.StressReport) {
	if rep == nil {
		return
	}
	r.stressRuns.WithLabelValues(string(rep.ScenarioType), string(rep.Fragility)).Inc()
	r.stressDelta.Observe(rep.DeltaMSI)
}
