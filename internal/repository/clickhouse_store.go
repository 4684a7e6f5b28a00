package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	pkgch "MarketGuard/pkg/clickhouse"
	applogger "MarketGuard/pkg/logger"
)

// Table names used by ClickHouseStore.
const (
	CyclesTable    = "risk_cycles"
	IncidentsTable = "risk_incidents"
)

// ClickHouseSchema returns the idempotent DDL for the cycle and incident tables.
func ClickHouseSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + CyclesTable + ` (
            ts                 DateTime64(3, 'UTC'),
            cycle_id           String,
            tick_number        Int64,
            symbol             LowCardinality(String),
            primary_price      Float64,
            secondary_price    Float64,
            feed_deviation     Float64,
            feed_mismatch_rate Float64,
            is_anomaly         UInt8,
            z_score            Float64,
            trust_score        Float64,
            crs                Float64,
            msi                Float64,
            risk_tier          LowCardinality(String),
            action             LowCardinality(String),
            dominant_factor    LowCardinality(String),
            errors             Array(String),
            processing_ms      Float64
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS ` + IncidentsTable + ` (
            ts                 DateTime64(3, 'UTC'),
            incident_id        String,
            sequence           Int64,
            risk_tier          LowCardinality(String),
            classification     LowCardinality(String),
            severity           Float64,
            msi                Float64,
            crs                Float64,
            feed_mismatch_rate Float64,
            avg_trust          Float64,
            action             LowCardinality(String),
            payload            String
        ) ENGINE = MergeTree
        ORDER BY (ts, incident_id)`,
	}
}

const cycleColumns = "ts, cycle_id, tick_number, symbol, primary_price, secondary_price, feed_deviation, feed_mismatch_rate, is_anomaly, z_score, trust_score, crs, msi, risk_tier, action, dominant_factor, errors, processing_ms"

// ClickHouseStore implements Storage for ClickHouse.
type ClickHouseStore struct {
	db     *sql.DB
	client *pkgch.Client
	l      *applogger.Logger
}

// NewClickHouseStore creates ClickHouse storage on top of a pooled client.
func NewClickHouseStore(ch *pkgch.Client, l *applogger.Logger) repository.Storage {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseStore{db: ch.DB(), client: ch, l: l}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	if err := s.client.InitSchema(ctx, ClickHouseSchema()); err != nil {
		return err
	}
	return s.Health(ctx)
}

func cycleArgs(c *models.CycleResult) []interface{} {
	anomaly := uint8(0)
	if c.IsAnomaly {
		anomaly = 1
	}
	errs := c.Errors
	if errs == nil {
		errs = []string{}
	}
	return []interface{}{
		c.Timestamp,
		c.CycleID,
		c.TickNumber,
		c.Symbol,
		c.PrimaryPrice,
		c.SecondaryPrice,
		c.FeedDeviation,
		c.FeedMismatchRate,
		anomaly,
		c.ZScore,
		c.TrustScore,
		c.CRS,
		c.MSI,
		c.RiskTier.String(),
		string(c.RecommendedAction),
		c.DominantRiskFactor,
		errs,
		c.ProcessingTimeMs,
	}
}

func (s *ClickHouseStore) StoreCycle(ctx context.Context, c *models.CycleResult) error {
	if c == nil {
		return nil
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", CyclesTable, cycleColumns)
	if _, err := s.db.ExecContext(ctx, q, cycleArgs(c)...); err != nil {
		s.l.Error("clickhouse store_cycle error", applogger.String("symbol", c.Symbol), applogger.Error(err))
		return fmt.Errorf("store cycle: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) StoreCycles(ctx context.Context, cs []*models.CycleResult) error {
	if len(cs) == 0 {
		return nil
	}
	// Multi-row VALUES keeps round-trips low.
	const chunkSize = 2000
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", 18), ", ") + ")"
	for start := 0; start < len(cs); start += chunkSize {
		end := start + chunkSize
		if end > len(cs) {
			end = len(cs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*18)
		for _, c := range cs[start:end] {
			if c == nil || c.Symbol == "" {
				continue
			}
			values = append(values, placeholder)
			args = append(args, cycleArgs(c)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", CyclesTable, cycleColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_cycles error", applogger.Int("rows", len(values)), applogger.Error(err))
			return fmt.Errorf("store cycles: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) StoreIncident(ctx context.Context, inc *models.Incident) error {
	if inc == nil {
		return nil
	}
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, incident_id, sequence, risk_tier, classification, severity, msi, crs, feed_mismatch_rate, avg_trust, action, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", IncidentsTable)
	_, err = s.db.ExecContext(ctx, q,
		inc.Timestamp,
		inc.ID,
		inc.Sequence,
		inc.Tier.String(),
		string(inc.Classification),
		inc.Severity,
		inc.MSI,
		inc.CRS,
		inc.FeedMismatchRate,
		inc.AverageTrust,
		string(inc.Action),
		string(payload),
	)
	if err != nil {
		s.l.Error("clickhouse store_incident error", applogger.String("incident_id", inc.ID), applogger.Error(err))
		return fmt.Errorf("store incident: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) QueryCycles(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.CycleResult, error) {
	if limit <= 0 {
		limit = 500
	}
	q := fmt.Sprintf(`SELECT ts, cycle_id, tick_number, symbol, primary_price, secondary_price, feed_deviation,
            feed_mismatch_rate, is_anomaly, z_score, trust_score, crs, msi, risk_tier, action, dominant_factor, errors, processing_ms
        FROM %s
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?`, CyclesTable)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var out []*models.CycleResult
	for rows.Next() {
		var (
			c       models.CycleResult
			anomaly uint8
			tier    string
			action  string
		)
		if err := rows.Scan(&c.Timestamp, &c.CycleID, &c.TickNumber, &c.Symbol, &c.PrimaryPrice, &c.SecondaryPrice,
			&c.FeedDeviation, &c.FeedMismatchRate, &anomaly, &c.ZScore, &c.TrustScore, &c.CRS, &c.MSI,
			&tier, &action, &c.DominantRiskFactor, &c.Errors, &c.ProcessingTimeMs); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		c.IsAnomaly = anomaly == 1
		if t, err := models.ParseRiskTier(tier); err == nil {
			c.RiskTier = t
		}
		c.RecommendedAction = models.Action(action)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}
