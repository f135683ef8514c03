package hotstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

const insertLogSQL = `INSERT INTO logs (
	id, timestamp, level, message, attributes,
	trace_id, span_id, session_id, project_id, user_id, service
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING`

const selectLogColumns = `id, timestamp, level, message, attributes,
	trace_id, span_id, session_id, project_id, user_id, service`

// InsertLogs bulk-inserts one flushed batch. The whole batch is queued on a
// single pgx.Batch so a failure leaves the batch retryable as a unit.
func (s *Store) InsertLogs(ctx context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range entries {
		attributes, err := marshalAttributes(entry.Attributes)
		if err != nil {
			return err
		}
		batch.Queue(insertLogSQL,
			entry.Id,
			entry.Timestamp,
			string(entry.Level),
			entry.Message,
			attributes,
			entry.Envelope.TraceID,
			entry.Envelope.SpanID,
			entry.Envelope.SessionID,
			entry.Envelope.ProjectID,
			entry.Envelope.UserID,
			entry.Envelope.Service,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert log batch: %w", err)
		}
	}
	return nil
}

// SearchLogs applies the filter and returns up to limit rows ordered by
// timestamp ascending.
func (s *Store) SearchLogs(ctx context.Context, filter model.LogFilter, limit int) ([]model.LogEntry, error) {
	where, args := buildLogPredicate(filter)
	query := fmt.Sprintf(
		`SELECT %s FROM logs WHERE %s ORDER BY timestamp ASC LIMIT $%d`,
		selectLogColumns, where, len(args)+1,
	)
	args = append(args, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search logs: %w", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

// LogsForSession returns all hot log rows for one session id in the range.
func (s *Store) LogsForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.LogEntry, error) {
	return s.SearchLogs(ctx, model.LogFilter{SessionID: sessionID, Range: timeRange}, sessionQueryLimit)
}

// SelectLogsBefore returns rotation candidates: rows older than cutoff,
// oldest first, capped at limit.
func (s *Store) SelectLogsBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.LogEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM logs WHERE timestamp < $1 ORDER BY timestamp ASC LIMIT $2`,
		selectLogColumns,
	)
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select rotation candidate logs: %w", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

func (s *Store) DeleteLogs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM logs WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete rotated logs: %w", err)
	}
	return nil
}

// CountLogs is the scalar source for log-filter alert rules.
func (s *Store) CountLogs(ctx context.Context, filter model.LogFilter) (int64, error) {
	where, args := buildLogPredicate(filter)
	var count int64
	err := s.pool.QueryRow(
		ctx, fmt.Sprintf(`SELECT COUNT(*) FROM logs WHERE %s`, where), args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return count, nil
}

const sessionQueryLimit = 10000

func buildLogPredicate(filter model.LogFilter) (string, []any) {
	clauses := []string{"timestamp >= $1", "timestamp <= $2"}
	args := []any{filter.Range.Start, filter.Range.End}
	addClause := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	addClause("project_id", filter.ProjectID)
	addClause("session_id", filter.SessionID)
	addClause("trace_id", filter.TraceID)
	addClause("level", string(filter.Level))
	addClause("service", filter.Service)
	if filter.Contains != "" {
		args = append(args, "%"+escapeLike(filter.Contains)+"%")
		clauses = append(clauses, fmt.Sprintf("message ILIKE $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

func scanLogs(rows pgx.Rows) ([]model.LogEntry, error) {
	var entries []model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		var level string
		var attributes []byte
		err := rows.Scan(
			&entry.Id,
			&entry.Timestamp,
			&level,
			&entry.Message,
			&attributes,
			&entry.Envelope.TraceID,
			&entry.Envelope.SpanID,
			&entry.Envelope.SessionID,
			&entry.Envelope.ProjectID,
			&entry.Envelope.UserID,
			&entry.Envelope.Service,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		entry.Level = model.Level(level)
		entry.Attributes, err = unmarshalAttributes(attributes)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log rows: %w", err)
	}
	return entries, nil
}
