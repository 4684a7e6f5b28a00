package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"MarketGuard/internal/domain/models"
	"MarketGuard/internal/domain/repository"
	applogger "MarketGuard/pkg/logger"
)

// SQLiteAuditSink persists system events, incidents and per-tick audit rows
// to a local SQLite database.
type SQLiteAuditSink struct {
	db *sql.DB
	mu sync.Mutex
	l  *applogger.Logger
}

var (
	_ repository.AuditSink    = (*SQLiteAuditSink)(nil)
	_ repository.CycleAuditor = (*SQLiteAuditSink)(nil)
)

// NewSQLiteAuditSink opens (or creates) the database and runs migrations.
func NewSQLiteAuditSink(path string, l *applogger.Logger) (*SQLiteAuditSink, error) {
	if l == nil {
		l = applogger.Nop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; readers share the WAL
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteAuditSink{db: db, l: l}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	l.Info("sqlite audit sink opened", applogger.String("path", path))
	return s, nil
}

func (s *SQLiteAuditSink) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS system_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			severity   TEXT,
			message    TEXT,
			data       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON system_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON system_events(event_type)`,

		`CREATE TABLE IF NOT EXISTS governance_incidents (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id        TEXT NOT NULL UNIQUE,
			timestamp          INTEGER NOT NULL,
			sequence           INTEGER,
			risk_tier          TEXT,
			classification     TEXT,
			severity           REAL,
			msi                REAL,
			crs                REAL,
			feed_mismatch_rate REAL,
			avg_trust          REAL,
			action             TEXT,
			payload            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_ts ON governance_incidents(timestamp)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			primary_price   REAL,
			secondary_price REAL,
			feed_deviation  REAL,
			msi             REAL,
			crs             REAL,
			risk_tier       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_symbol_ts ON market_data(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS anomalies (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			symbol    TEXT NOT NULL,
			price     REAL,
			z_score   REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_symbol_ts ON anomalies(symbol, timestamp)`,

		`CREATE TABLE IF NOT EXISTS trust_scores (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			symbol      TEXT NOT NULL,
			trust_score REAL,
			trust_level TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_symbol_ts ON trust_scores(symbol, timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLiteAuditSink) RecordEvent(ctx context.Context, ev models.AuditEvent) error {
	var data []byte
	if len(ev.Data) > 0 {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO system_events
		(timestamp, event_type, severity, message, data)
		VALUES (?,?,?,?,?)`,
		ev.Timestamp.UnixMilli(), ev.Type, ev.Severity, ev.Message, string(data),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (s *SQLiteAuditSink) RecordIncident(ctx context.Context, inc models.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("marshal incident: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO governance_incidents
		(incident_id, timestamp, sequence, risk_tier, classification, severity,
		 msi, crs, feed_mismatch_rate, avg_trust, action, payload)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.Timestamp.UnixMilli(), inc.Sequence, inc.Tier.String(), string(inc.Classification), inc.Severity,
		inc.MSI, inc.CRS, inc.FeedMismatchRate, inc.AverageTrust, string(inc.Action), string(payload),
	)
	if err != nil {
		return fmt.Errorf("record incident: %w", err)
	}
	return nil
}

// RecordCycle writes the market data row plus anomaly and trust rows for one tick.
func (s *SQLiteAuditSink) RecordCycle(ctx context.Context, c *models.CycleResult) error {
	if c == nil {
		return nil
	}
	ts := c.Timestamp.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT INTO market_data
		(timestamp, symbol, primary_price, secondary_price, feed_deviation, msi, crs, risk_tier)
		VALUES (?,?,?,?,?,?,?,?)`,
		ts, c.Symbol, c.PrimaryPrice, c.SecondaryPrice, c.FeedDeviation, c.MSI, c.CRS, c.RiskTier.String(),
	); err != nil {
		return fmt.Errorf("insert market_data: %w", err)
	}
	if c.IsAnomaly {
		if _, err := tx.ExecContext(ctx, `INSERT INTO anomalies (timestamp, symbol, price, z_score) VALUES (?,?,?,?)`,
			ts, c.Symbol, c.PrimaryPrice, c.ZScore,
		); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trust_scores (timestamp, symbol, trust_score, trust_level) VALUES (?,?,?,?)`,
		ts, c.Symbol, c.TrustScore, string(c.TrustLevel),
	); err != nil {
		return fmt.Errorf("insert trust_score: %w", err)
	}
	return tx.Commit()
}

// Events returns the newest events of the given type; empty type matches all.
func (s *SQLiteAuditSink) Events(ctx context.Context, eventType string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT timestamp, event_type, severity, message, data FROM system_events`
	args := []interface{}{}
	if eventType != "" {
		q += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			ev   models.AuditEvent
			ts   int64
			data sql.NullString
		)
		if err := rows.Scan(&ts, &ev.Type, &ev.Severity, &ev.Message, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				s.l.Warn("sqlite audit sink: bad event data", applogger.Error(err))
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Incidents returns the newest persisted incidents.
func (s *SQLiteAuditSink) Incidents(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM governance_incidents ORDER BY sequence DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		var inc models.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			return nil, fmt.Errorf("decode incident: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Count returns the number of rows in one of the audit tables.
func (s *SQLiteAuditSink) Count(ctx context.Context, table string) (int64, error) {
	switch table {
	case "system_events", "governance_incidents", "market_data", "anomalies", "trust_scores":
	default:
		return 0, fmt.Errorf("unknown audit table %q", table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteAuditSink) Close() error {
	s.l.Info("closing sqlite audit sink")
	return s.db.Close()
}

// NoopAuditSink drops everything. Used when auditing is disabled.
type NoopAuditSink struct{}

func (NoopAuditSink) RecordEvent(context.Context, models.AuditEvent) error   { return nil }
func (NoopAuditSink) RecordIncident(context.Context, models.Incident) error  { return nil }
func (NoopAuditSink) RecordCycle(context.Context, *models.CycleResult) error { return nil }
func (NoopAuditSink) Close() error                                           { return nil }
