package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mati-cloud/ilog/ingest"
)

// Store is the ingestion/query adapter spec'd abstractly: atomic batch
// insert, filtered query, and the active-agent-binding reads the ingest
// path depends on. Grounded on ClusterCockpit-cc-backend's sqlx +
// squirrel usage for all query construction and execution.
type Store struct {
	db *sqlx.DB
}

// OpenStore connects to a Postgres DSN and verifies it with a ping.
func OpenStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %v", ingest.ErrStore, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type logRow struct {
	Time               time.Time       `db:"time"`
	ServiceID          uuid.UUID       `db:"service_id"`
	TraceID            sql.NullString  `db:"trace_id"`
	SpanID             sql.NullString  `db:"span_id"`
	TraceFlags         int             `db:"trace_flags"`
	SeverityText       sql.NullString  `db:"severity_text"`
	SeverityNumber     int             `db:"severity_number"`
	ServiceName        string          `db:"service_name"`
	Body               string          `db:"body"`
	ResourceAttributes json.RawMessage `db:"resource_attributes"`
	LogAttributes      json.RawMessage `db:"log_attributes"`
	ScopeName          sql.NullString  `db:"scope_name"`
	ScopeVersion       sql.NullString  `db:"scope_version"`
	ScopeAttributes    json.RawMessage `db:"scope_attributes"`
}

// InsertLogs persists records atomically: either every row lands in one
// transaction or none do, satisfying the batch-atomicity invariant. Every
// record must already carry the authenticated ServiceID.
func (s *Store) InsertLogs(ctx context.Context, records []ingest.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ingest.ErrStore, err)
	}
	defer tx.Rollback()

	const stmt = `INSERT INTO logs
		(time, service_id, trace_id, span_id, trace_flags, severity_text,
		 severity_number, service_name, body, resource_attributes,
		 log_attributes, scope_name, scope_version, scope_attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	for _, rec := range records {
		ts, err := rec.Timestamp()
		if err != nil {
			return fmt.Errorf("%w: %v", ingest.ErrFormat, err)
		}
		row := toRow(rec, ts)
		if _, err := tx.ExecContext(ctx, stmt,
			row.Time, row.ServiceID, row.TraceID, row.SpanID, row.TraceFlags,
			row.SeverityText, row.SeverityNumber, row.ServiceName, row.Body,
			row.ResourceAttributes, row.LogAttributes, row.ScopeName,
			row.ScopeVersion, row.ScopeAttributes); err != nil {
			return fmt.Errorf("%w: insert: %v", ingest.ErrStore, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ingest.ErrStore, err)
	}
	return nil
}

func toRow(rec ingest.Record, ts time.Time) logRow {
	return logRow{
		Time:               ts,
		ServiceID:          rec.ServiceID,
		TraceID:            nullString(rec.TraceID),
		SpanID:             nullString(rec.SpanID),
		TraceFlags:         rec.TraceFlags,
		SeverityText:       nullString(rec.SeverityText),
		SeverityNumber:     rec.SeverityNumber,
		ServiceName:        rec.ServiceName,
		Body:               rec.Body,
		ResourceAttributes: rec.ResourceAttributes,
		LogAttributes:      rec.LogAttributes,
		ScopeName:          nullString(rec.ScopeName),
		ScopeVersion:       nullString(rec.ScopeVersion),
		ScopeAttributes:    rec.ScopeAttributes,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// QueryFilter mirrors the abstract `filter` spec for query_logs. Zero
// values mean "unset": a zero StartTime defaults to 24 hours before the
// query and a zero EndTime to the time of the query. Limit is the
// exception; the caller should default it to 100 and cap it at 1000
// before calling Query.
type QueryFilter struct {
	ServiceID     *uuid.UUID
	ServiceName   string
	MinSeverity   int
	TraceID       string
	BodySubstring string
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

// Query returns records newest-first within [StartTime, EndTime] matching
// the optional filters, built with squirrel so each predicate is added
// only when its filter field is set.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]ingest.Record, error) {
	now := time.Now()
	if f.StartTime.IsZero() {
		f.StartTime = now.Add(-24 * time.Hour)
	}
	if f.EndTime.IsZero() {
		f.EndTime = now
	}
	b := sq.Select(
		"time", "service_id", "trace_id", "span_id", "trace_flags",
		"severity_text", "severity_number", "service_name", "body",
		"resource_attributes", "log_attributes", "scope_name",
		"scope_version", "scope_attributes",
	).From("logs").PlaceholderFormat(sq.Dollar).
		Where(sq.GtOrEq{"time": f.StartTime}).
		Where(sq.LtOrEq{"time": f.EndTime}).
		OrderBy("time DESC").
		Limit(uint64(f.Limit))

	if f.ServiceID != nil {
		b = b.Where(sq.Eq{"service_id": *f.ServiceID})
	}
	if f.ServiceName != "" {
		b = b.Where(sq.Eq{"service_name": f.ServiceName})
	}
	if f.MinSeverity > 0 {
		b = b.Where(sq.GtOrEq{"severity_number": f.MinSeverity})
	}
	if f.TraceID != "" {
		b = b.Where(sq.Eq{"trace_id": f.TraceID})
	}
	if f.BodySubstring != "" {
		b = b.Where(sq.Like{"body": "%" + f.BodySubstring + "%"})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: building query: %v", ingest.ErrStore, err)
	}

	var rows []logRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: query: %v", ingest.ErrStore, err)
	}

	out := make([]ingest.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, ingest.Record{
			TimeUnixNano:       ingest.TimeUnixNanoFromTime(row.Time),
			ServiceID:          row.ServiceID,
			ServiceName:        row.ServiceName,
			Body:               row.Body,
			SeverityText:       row.SeverityText.String,
			SeverityNumber:     row.SeverityNumber,
			TraceID:            row.TraceID.String,
			SpanID:             row.SpanID.String,
			TraceFlags:         row.TraceFlags,
			ResourceAttributes: row.ResourceAttributes,
			LogAttributes:      row.LogAttributes,
			ScopeAttributes:    row.ScopeAttributes,
			ScopeName:          row.ScopeName.String,
			ScopeVersion:       row.ScopeVersion.String,
		})
	}
	return out, nil
}

// ListActiveAgents returns every binding whose expiry has not passed.
func (s *Store) ListActiveAgents(ctx context.Context) ([]AgentBinding, error) {
	const q = `SELECT agent_id, service_id, token, expires_at FROM agents
		WHERE expires_at IS NULL OR expires_at > NOW()`
	type row struct {
		AgentID   uuid.UUID  `db:"agent_id"`
		ServiceID uuid.UUID  `db:"service_id"`
		Token     string     `db:"token"`
		ExpiresAt *time.Time `db:"expires_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("%w: listing agents: %v", ingest.ErrStore, err)
	}
	out := make([]AgentBinding, 0, len(rows))
	for _, r := range rows {
		out = append(out, AgentBinding{AgentID: r.AgentID, ServiceID: r.ServiceID, Token: r.Token, ExpiresAt: r.ExpiresAt})
	}
	return out, nil
}

// TouchAgentLastUsed updates last_used_at best-effort; callers should log
// failures rather than fail the ingest path over it.
func (s *Store) TouchAgentLastUsed(ctx context.Context, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE agents SET last_used_at = NOW() WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("%w: touching agent %s: %v", ingest.ErrStore, agentID, err)
	}
	return nil
}
