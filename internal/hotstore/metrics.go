package hotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// ErrSeriesNotFound is returned when a metric query names a series that has
// never been ingested.
var ErrSeriesNotFound = errors.New("metric series not found")

const upsertSeriesSQL = `INSERT INTO metric_series (name, labels, series_key)
VALUES ($1, $2, $3)
ON CONFLICT (series_key) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

// UpsertSeries resolves the identity of a (name, label set) pair, creating
// the series on first sight. Uniqueness is enforced by the canonical series
// key.
func (s *Store) UpsertSeries(ctx context.Context, name string, labels map[string]string) (int64, error) {
	labelData, err := marshalAttributes(labels)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.pool.QueryRow(ctx, upsertSeriesSQL, name, labelData, model.SeriesKey(name, labels)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert metric series: %w", err)
	}
	return id, nil
}

// FindSeries resolves an exact (name, label set) identity.
func (s *Store) FindSeries(ctx context.Context, name string, labels map[string]string) (model.MetricSeries, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, labels FROM metric_series WHERE series_key = $1`,
		model.SeriesKey(name, labels),
	)
	series, err := scanSeries(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MetricSeries{}, ErrSeriesNotFound
	}
	return series, err
}

// ListSeries enumerates distinct series, optionally restricted to one name.
func (s *Store) ListSeries(ctx context.Context, name string) ([]model.MetricSeries, error) {
	query := `SELECT id, name, labels FROM metric_series ORDER BY name, series_key`
	args := []any{}
	if name != "" {
		query = `SELECT id, name, labels FROM metric_series WHERE name = $1 ORDER BY series_key`
		args = append(args, name)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric series: %w", err)
	}
	defer rows.Close()
	var result []model.MetricSeries
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, series)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read metric series rows: %w", err)
	}
	return result, nil
}

const insertSampleSQL = `INSERT INTO metric_samples (
	series_id, timestamp, value, project_id, service
) VALUES ($1,$2,$3,$4,$5)`

func (s *Store) InsertSamples(ctx context.Context, samples []model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(insertSampleSQL,
			sample.SeriesId,
			sample.Timestamp,
			sample.Value,
			sample.Envelope.ProjectID,
			sample.Envelope.Service,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range samples {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert sample batch: %w", err)
		}
	}
	return nil
}

// SamplesForSeries returns the series' samples inside the range, ascending.
func (s *Store) SamplesForSeries(ctx context.Context, seriesID int64, timeRange model.TimeRange) ([]model.MetricSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, series_id, timestamp, value, project_id, service
		FROM metric_samples
		WHERE series_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`,
		seriesID, timeRange.Start, timeRange.End,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (s *Store) SelectSamplesBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.MetricSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, series_id, timestamp, value, project_id, service
		FROM metric_samples WHERE timestamp < $1
		ORDER BY timestamp ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select rotation candidate samples: %w", err)
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (s *Store) DeleteSamples(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM metric_samples WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("failed to delete rotated samples: %w", err)
	}
	return nil
}

func scanSeries(row pgx.Row) (model.MetricSeries, error) {
	var series model.MetricSeries
	var labels []byte
	if err := row.Scan(&series.Id, &series.Name, &labels); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MetricSeries{}, err
		}
		return model.MetricSeries{}, fmt.Errorf("failed to scan metric series: %w", err)
	}
	var err error
	series.Labels, err = unmarshalAttributes(labels)
	if err != nil {
		return model.MetricSeries{}, err
	}
	return series, nil
}

func scanSamples(rows pgx.Rows) ([]model.MetricSample, error) {
	var samples []model.MetricSample
	for rows.Next() {
		var sample model.MetricSample
		err := rows.Scan(
			&sample.Id,
			&sample.SeriesId,
			&sample.Timestamp,
			&sample.Value,
			&sample.Envelope.ProjectID,
			&sample.Envelope.Service,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sample rows: %w", err)
	}
	return samples, nil
}
