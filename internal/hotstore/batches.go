package hotstore

import (
	"context"
	"fmt"

	"github.com/pharos-dev/pharos/internal/telemetry/model"
)

// InsertRotationBatch links a durably written cold batch from the hot store.
// The rotator calls this after the object write is confirmed and before it
// deletes the migrated rows.
func (s *Store) InsertRotationBatch(ctx context.Context, batch model.RotationBatch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rotation_batches (
			id, signal, start_time, end_time, object_path, record_count, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		batch.Id,
		string(batch.Signal),
		batch.Start,
		batch.End,
		batch.ObjectPath,
		batch.RecordCount,
		batch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rotation batch: %w", err)
	}
	return nil
}

// BatchesInRange lists cold batches of one signal whose coverage intersects
// the requested range.
func (s *Store) BatchesInRange(ctx context.Context, signal model.Signal, timeRange model.TimeRange) ([]model.RotationBatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, signal, start_time, end_time, object_path, record_count, created_at
		FROM rotation_batches
		WHERE signal = $1 AND start_time <= $2 AND end_time >= $3
		ORDER BY start_time ASC`,
		string(signal), timeRange.End, timeRange.Start,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotation batches: %w", err)
	}
	defer rows.Close()

	var batches []model.RotationBatch
	for rows.Next() {
		var batch model.RotationBatch
		var signalText string
		err := rows.Scan(
			&batch.Id,
			&signalText,
			&batch.Start,
			&batch.End,
			&batch.ObjectPath,
			&batch.RecordCount,
			&batch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rotation batch row: %w", err)
		}
		batch.Signal = model.Signal(signalText)
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rotation batch rows: %w", err)
	}
	return batches, nil
}
