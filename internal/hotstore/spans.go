package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

const insertSpanSQL = `INSERT INTO spans (
	id, trace_id, span_id, parent_span_id, operation,
	start_time, end_time, status, attributes, events,
	session_id, project_id, user_id, service
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING`

const selectSpanColumns = `id, trace_id, span_id, parent_span_id, operation,
	start_time, end_time, status, attributes, events,
	session_id, project_id, user_id, service`

func (s *Store) InsertSpans(ctx context.Context, spans []model.Span) error {
	if len(spans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, span := range spans {
		attributes, err := marshalAttributes(span.Attributes)
		if err != nil {
			return err
		}
		events, err := marshalSpanEvents(span.Events)
		if err != nil {
			return err
		}
		batch.Queue(insertSpanSQL,
			span.Id,
			span.TraceID,
			span.SpanID,
			span.ParentSpanID,
			span.Operation,
			span.StartTime,
			span.EndTime,
			string(span.Status),
			attributes,
			events,
			span.Envelope.SessionID,
			span.Envelope.ProjectID,
			span.Envelope.UserID,
			span.Envelope.Service,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range spans {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert span batch: %w", err)
		}
	}
	return nil
}

// SpansForTrace returns every hot span of one trace, ordered by start time.
func (s *Store) SpansForTrace(ctx context.Context, traceID string) ([]model.Span, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM spans WHERE trace_id = $1 ORDER BY start_time ASC`,
		selectSpanColumns,
	)
	rows, err := s.pool.Query(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans for trace: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

// SearchSpans applies the trace filter and returns matching spans ordered by
// start time; the engine groups them into trace summaries.
func (s *Store) SearchSpans(ctx context.Context, filter model.TraceFilter, limit int) ([]model.Span, error) {
	clauses := []string{"start_time >= $1", "start_time <= $2"}
	args := []any{filter.Range.Start, filter.Range.End}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Service != "" {
		args = append(args, filter.Service)
		clauses = append(clauses, fmt.Sprintf("service = $%d", len(args)))
	}
	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT %s FROM spans WHERE %s ORDER BY start_time ASC LIMIT $%d`,
		selectSpanColumns, strings.Join(clauses, " AND "), len(args),
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search spans: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

func (s *Store) SpansForSession(ctx context.Context, sessionID string, timeRange model.TimeRange) ([]model.Span, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM spans
		WHERE session_id = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time ASC LIMIT $4`,
		selectSpanColumns,
	)
	rows, err := s.pool.Query(ctx, query, sessionID, timeRange.Start, timeRange.End, sessionQueryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans for session: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

func (s *Store) SelectSpansBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Span, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM spans WHERE start_time < $1 ORDER BY start_time ASC LIMIT $2`,
		selectSpanColumns,
	)
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select rotation candidate spans: %w", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

func (s *Store) DeleteSpans(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM spans WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete rotated spans: %w", err)
	}
	return nil
}

func marshalSpanEvents(events []model.SpanEvent) ([]byte, error) {
	if len(events) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal span events: %w", err)
	}
	return data, nil
}

func unmarshalSpanEvents(data []byte) ([]model.SpanEvent, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var events []model.SpanEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal span events: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

func scanSpans(rows pgx.Rows) ([]model.Span, error) {
	var spans []model.Span
	for rows.Next() {
		var span model.Span
		var status string
		var attributes, events []byte
		err := rows.Scan(
			&span.Id,
			&span.TraceID,
			&span.SpanID,
			&span.ParentSpanID,
			&span.Operation,
			&span.StartTime,
			&span.EndTime,
			&status,
			&attributes,
			&events,
			&span.Envelope.SessionID,
			&span.Envelope.ProjectID,
			&span.Envelope.UserID,
			&span.Envelope.Service,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan span row: %w", err)
		}
		span.Status = model.SpanStatus(status)
		span.Envelope.TraceID = span.TraceID
		span.Envelope.SpanID = span.SpanID
		span.Attributes, err = unmarshalAttributes(attributes)
		if err != nil {
			return nil, err
		}
		span.Events, err = unmarshalSpanEvents(events)
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read span rows: %w", err)
	}
	return spans, nil
}
