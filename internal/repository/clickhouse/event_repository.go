package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/client"
	"event-pipeline/internal/events"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/util"
)

var ErrInvalidTableName = errors.New("invalid table name")

// Conn is the subset of client.ClickHouseClient the repository needs.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (client.Rows, error)
	BatchInsert(ctx context.Context, query string, data [][]any) error
}

type column struct {
	name   string
	chType string
}

// columns is the single source of column order for DDL, inserts and selects.
var columns = []column{
	{"id", "UUID"},
	{"timestamp", "DateTime64(3, 'UTC')"},
	{"sourceIp", "String"},
	{"userId", "String"},
	{"type", "LowCardinality(String)"},
	{"action", "Nullable(String)"},
	{"success", "Nullable(Bool)"},
	{"failureReason", "Nullable(String)"},
	{"userAgent", "Nullable(String)"},
	{"geoCountry", "Nullable(String)"},
	{"geoCity", "Nullable(String)"},
	{"geoLatitude", "Nullable(Float64)"},
	{"geoLongitude", "Nullable(Float64)"},
	{"method", "Nullable(String)"},
	{"path", "Nullable(String)"},
	{"statusCode", "Nullable(Int64)"},
	{"responseTimeMs", "Nullable(Int64)"},
	{"requestSize", "Nullable(Int64)"},
	{"responseSize", "Nullable(Int64)"},
	{"recipientEmail", "Nullable(String)"},
	{"templateId", "Nullable(String)"},
	{"messageId", "Nullable(String)"},
	{"bounceType", "Nullable(String)"},
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RowFilter narrows a streamed read. Zero fields do not filter.
type RowFilter struct {
	Since time.Time
	Type  events.Type
	Users []string
}

// EventCount is the per-type total for a window.
type EventCount struct {
	Type  events.Type `json:"type"`
	Count int64       `json:"count"`
}

// EventRepository is the analytical store for normalized rows. The table is
// append-only; duplicates by id are kept and measured by the data-quality rollup.
type EventRepository struct {
	conn  Conn
	table string
}

func NewEventRepository(conn Conn, table string) (*EventRepository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return &EventRepository{conn: conn, table: table}, nil
}

func (r *EventRepository) Table() string {
	return r.table
}

// EnsureSchema creates the events table if it does not exist.
func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.conn.Exec(ctx, r.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.table, err)
	}
	util.Info("ClickHouse schema ensured", zap.String("table", r.table))
	return nil
}

func (r *EventRepository) createTableSQL() string {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("    %s %s", c.name, c.chType))
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
%s
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(timestamp)
ORDER BY (type, timestamp, userId)
TTL toDateTime(timestamp) + INTERVAL 30 DAY`, r.table, strings.Join(defs, ",\n"))
}

func columnList() string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.name)
	}
	return strings.Join(names, ", ")
}

// InsertRows appends rows in a single block.
func (r *EventRepository) InsertRows(ctx context.Context, rows []normalize.Row) error {
	if len(rows) == 0 {
		return nil
	}
	data := make([][]any, 0, len(rows))
	for _, row := range rows {
		values, err := rowValues(row)
		if err != nil {
			return err
		}
		data = append(data, values)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s)", r.table, columnList())
	if err := r.conn.BatchInsert(ctx, query, data); err != nil {
		return fmt.Errorf("failed to insert %d rows into %s: %w", len(rows), r.table, err)
	}
	util.Debug("Inserted rows", zap.String("table", r.table), zap.Int("count", len(rows)))
	return nil
}

func rowValues(row normalize.Row) ([]any, error) {
	ts, err := row.Time()
	if err != nil {
		return nil, err
	}
	return []any{
		row.ID,
		ts,
		row.SourceIP,
		row.UserID,
		string(row.Type),
		row.Action,
		row.Success,
		row.FailureReason,
		row.UserAgent,
		row.GeoCountry,
		row.GeoCity,
		row.GeoLatitude,
		row.GeoLongitude,
		row.Method,
		row.Path,
		row.StatusCode,
		row.ResponseTimeMs,
		row.RequestSize,
		row.ResponseSize,
		row.RecipientEmail,
		row.TemplateID,
		row.MessageID,
		row.BounceType,
	}, nil
}

func (r *EventRepository) selectSQL(f RowFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if len(f.Users) > 0 {
		where = append(where, "has(?, userId)")
		args = append(args, f.Users)
	}

	query := fmt.Sprintf("SELECT toString(id), %s FROM %s", strings.TrimPrefix(columnList(), "id, "), r.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	return query, args
}

// StreamRows reads matching rows in timestamp order and hands each to fn
// without buffering the result set. An error from fn stops the scan.
func (r *EventRepository) StreamRows(ctx context.Context, f RowFilter, fn func(normalize.Row) error) error {
	query, args := r.selectSQL(f)
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row normalize.Row
			ts  time.Time
			typ string
		)
		if err := rows.Scan(
			&row.ID,
			&ts,
			&row.SourceIP,
			&row.UserID,
			&typ,
			&row.Action,
			&row.Success,
			&row.FailureReason,
			&row.UserAgent,
			&row.GeoCountry,
			&row.GeoCity,
			&row.GeoLatitude,
			&row.GeoLongitude,
			&row.Method,
			&row.Path,
			&row.StatusCode,
			&row.ResponseTimeMs,
			&row.RequestSize,
			&row.ResponseSize,
			&row.RecipientEmail,
			&row.TemplateID,
			&row.MessageID,
			&row.BounceType,
		); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		row.Timestamp = normalize.FormatRowTimestamp(ts)
		row.Type = events.Type(typ)
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EventCounts totals events per type since the given time.
func (r *EventRepository) EventCounts(ctx context.Context, since time.Time) ([]EventCount, error) {
	query := fmt.Sprintf("SELECT type, count() AS count FROM %s WHERE timestamp >= ? GROUP BY type ORDER BY type", r.table)
	rows, err := r.conn.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var (
			typ   string
			count uint64
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		out = append(out, EventCount{Type: events.Type(typ), Count: int64(count)})
	}
	return out, rows.Err()
}
