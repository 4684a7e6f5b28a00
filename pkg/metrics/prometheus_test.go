package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
)

func TestRecordCycleUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)

	r.RecordCycle(&models.CycleResult{
		Symbol:           "AAPL",
		IsAnomaly:        true,
		TrustScore:       80,
		MSI:              62.5,
		CRS:              40,
		FeedMismatchRate: 0.25,
		RiskTier:         models.TierElevatedRisk,
		Errors:           []string{"FeedIntegrity: x", "SystemicRisk: y"},
	})
	r.RecordCycle(nil)

	assert.Equal(t, 62.5, testutil.ToFloat64(r.msi))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.crs))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.mismatchRate))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tier))
	assert.Equal(t, 80.0, testutil.ToFloat64(r.trust.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.anomalies.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("ELEVATED_RISK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("layer")))
}

func TestRecordIncidentAndStress(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	r.RecordIncident(models.ClassHighRisk)
	r.RecordIncident(models.ClassHighRisk)
	r.RecordFeedMismatch("MSFT")
	r.RecordStress(&models.StressReport{ScenarioType: models.ScenarioVolatility, Fragility: models.FragilityFragile, DeltaMSI: 30})
	r.RecordStress(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.incidents.WithLabelValues(string(models.ClassHighRisk))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.feedMismatches.WithLabelValues("MSFT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stressRuns.WithLabelValues("VOLATILITY_AMPLIFICATION", "FRAGILE")))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	require.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
