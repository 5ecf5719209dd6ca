package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DurableStore implements durable.Store on the durable_entries table.
type DurableStore struct {
	pool *pgxpool.Pool
}

// NewDurableStore creates a DurableStore backed by the given connection pool.
func NewDurableStore(pool *pgxpool.Pool) *DurableStore {
	return &DurableStore{pool: pool}
}

// Read returns the committed value for key.
func (s *DurableStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM durable_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

// Write upserts value under key. The statement commits before returning.
func (s *DurableStore) Write(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO durable_entries (key, value, written_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, written_at = EXCLUDED.written_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *DurableStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM durable_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CountByStage returns how many current application snapshots sit in each stage.
func (s *DurableStore) CountByStage(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT convert_from(value, 'UTF8')::jsonb -> 'j' ->> 'stage' AS stage, count(*)
		 FROM durable_entries
		 WHERE key LIKE 'application/%' AND key NOT LIKE 'application/%/runs/%'
		 GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count by stage: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			stage *string
			n     int64
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		if stage != nil {
			out[*stage] = n
		}
	}
	return out, rows.Err()
}
