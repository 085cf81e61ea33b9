package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetAdapterState returns the persisted bookkeeping for one adapter, or a
// zero-valued state when the adapter has never run.
func (s *Store) GetAdapterState(ctx context.Context, sourceName string) (*AdapterState, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT source_name, cursor, window_start, request_count, backoff_until, backoff_ms, updated_at
		FROM adapter_state WHERE source_name = ?`, sourceName)

	var st AdapterState
	err := row.Scan(&st.SourceName, &st.Cursor, &st.WindowStart,
		&st.RequestCount, &st.BackoffUntil, &st.BackoffMs, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &AdapterState{SourceName: sourceName}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adapter state %s: %w", sourceName, err)
	}
	return &st, nil
}

// PutAdapterState persists the adapter's bookkeeping between runs so a
// throttled or partially paginated source resumes where it stopped.
func (s *Store) PutAdapterState(ctx context.Context, st *AdapterState) error {
	st.UpdatedAt = time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO adapter_state (source_name, cursor, window_start, request_count, backoff_until, backoff_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			cursor = excluded.cursor,
			window_start = excluded.window_start,
			request_count = excluded.request_count,
			backoff_until = excluded.backoff_until,
			backoff_ms = excluded.backoff_ms,
			updated_at = excluded.updated_at`,
		st.SourceName, st.Cursor, st.WindowStart, st.RequestCount,
		st.BackoffUntil, st.BackoffMs, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put adapter state %s: %w", st.SourceName, err)
	}
	return nil
}
