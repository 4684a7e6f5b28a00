package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketGuard/internal/domain/models"
)

func openSink(t *testing.T) *SQLiteAuditSink {
	t.Helper()
	s, err := NewSQLiteAuditSink(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteAuditSinkEvents(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC)

	require.NoError(t, s.RecordEvent(ctx, models.AuditEvent{
		Timestamp: ts,
		Type:      models.EventFeedMismatch,
		Severity:  models.SeverityWarning,
		Message:   "AAPL feeds disagree",
		Data:      map[string]any{"symbol": "AAPL", "deviation": 0.4},
	}))
	require.NoError(t, s.RecordEvent(ctx, models.AuditEvent{
		Timestamp: ts.Add(time.Second),
		Type:      models.EventRiskEvaluation,
		Severity:  models.SeverityInfo,
		Message:   "tier NORMAL",
	}))

	all, err := s.Events(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.EventRiskEvaluation, all[0].Type)
	assert.Nil(t, all[0].Data)

	mm, err := s.Events(ctx, models.EventFeedMismatch, 10)
	require.NoError(t, err)
	require.Len(t, mm, 1)
	assert.Equal(t, ts, mm[0].Timestamp)
	assert.Equal(t, "AAPL", mm[0].Data["symbol"])
	assert.Equal(t, 0.4, mm[0].Data["deviation"])
}

func TestSQLiteAuditSinkIncidentsAreIdempotent(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()
	inc := models.Incident{
		ID:                "inc-1",
		Timestamp:         time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC),
		Tier:              models.TierHighVolatility,
		MSI:               55,
		CRS:               40,
		Action:            models.ActionTradeThrottling,
		EscalationReasons: []string{"feed mismatch"},
		Severity:          62.5,
		Classification:    models.ClassHighRisk,
		RootCauseChain:    []string{"tier HIGH_VOLATILITY"},
		Sequence:          1,
	}
	require.NoError(t, s.RecordIncident(ctx, inc))
	require.NoError(t, s.RecordIncident(ctx, inc))
	inc2 := inc
	inc2.ID, inc2.Sequence = "inc-2", 2
	require.NoError(t, s.RecordIncident(ctx, inc2))

	got, err := s.Incidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "inc-2", got[0].ID)
	assert.Equal(t, inc, got[1])
}

func TestSQLiteAuditSinkRecordCycle(t *testing.T) {
	s := openSink(t)
	ctx := context.Background()
	base := models.CycleResult{
		Timestamp:    time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC),
		Symbol:       "AAPL",
		PrimaryPrice: 100,
		TrustScore:   100,
		TrustLevel:   models.TrustSafe,
	}
	require.NoError(t, s.RecordCycle(ctx, &base))
	anomalous := base
	anomalous.IsAnomaly, anomalous.ZScore, anomalous.TrustScore = true, 6.1, 60
	require.NoError(t, s.RecordCycle(ctx, &anomalous))
	require.NoError(t, s.RecordCycle(ctx, nil))

	for table, want := range map[string]int64{"market_data": 2, "anomalies": 1, "trust_scores": 2} {
		n, err := s.Count(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
	_, err := s.Count(ctx, "sqlite_master; DROP TABLE anomalies")
	assert.Error(t, err)
}

func TestNoopAuditSink(t *testing.T) {
	var s NoopAuditSink
	ctx := context.Background()
	assert.NoError(t, s.RecordEvent(ctx, models.AuditEvent{}))
	assert.NoError(t, s.RecordIncident(ctx, models.Incident{}))
	assert.NoError(t, s.RecordCycle(ctx, &models.CycleResult{}))
	assert.NoError(t, s.Close())
}
