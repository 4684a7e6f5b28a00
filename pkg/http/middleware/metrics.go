package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "MarketGuard/pkg/logger"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	bytes    *prometheus.HistogramVec
}

var (
	httpOnce sync.Once
	hm       *httpMetrics
)

func loadHTTPMetrics() *httpMetrics {
	httpOnce.Do(func() {
		hm = &httpMetrics{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "marketguard_http_requests_total",
				Help: "HTTP requests by route template, method and status.",
			}, []string{"route", "method", "status"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketguard_http_request_duration_seconds",
				Help:    "HTTP request latency by route template.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"route", "method"}),
			inFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "marketguard_http_in_flight_requests",
				Help: "Requests currently being served.",
			}),
			bytes: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "marketguard_http_response_bytes",
				Help:    "Response body size by route template.",
				Buckets: prometheus.ExponentialBuckets(256, 4, 7),
			}, []string{"route"}),
		}
	})
	return hm
}

// Metrics labels by route template, never the raw path, so ids in URLs do
// not multiply series. Requests at or above slow are logged.
func Metrics(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := loadHTTPMetrics()
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			m.inFlight.Dec()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method, status := c.Request().Method, c.Response().Status
			took := time.Since(start)
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.latency.WithLabelValues(route, method).Observe(took.Seconds())
			m.bytes.WithLabelValues(route).Observe(float64(c.Response().Size))

			if slow > 0 && took >= slow {
				l.Warn("http request slow",
					applogger.String("route", route),
					applogger.String("method", method),
					applogger.Int("status", status),
					applogger.Duration("took", took))
			}
			return nil
		}
	}
}
