package store

import (
	"context"
	"fmt"
	"time"
)

// StartRun records a new run in "running" state.
func (s *Store) StartRun(ctx context.Context, id, cadence string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, cadence, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, cadence, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the finalized counters. status is "completed" or "failed".
func (s *Store) FinishRun(ctx context.Context, run *RunRecord) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?,
			total_candidates = ?, total_new = ?, total_refreshed = ?,
			total_rejected = ?, total_deferred = ?, total_errors = ?,
			per_source_json = ?, per_stage_json = ?
		WHERE id = ?`,
		run.Status, now,
		run.TotalCandidates, run.TotalNew, run.TotalRefreshed,
		run.TotalRejected, run.TotalDeferred, run.TotalErrors,
		run.PerSourceJSON, run.PerStageJSON, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, cadence, status, started_at, finished_at,
			total_candidates, total_new, total_refreshed,
			total_rejected, total_deferred, total_errors,
			per_source_json, per_stage_json
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Cadence, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.TotalCandidates, &r.TotalNew, &r.TotalRefreshed,
			&r.TotalRejected, &r.TotalDeferred, &r.TotalErrors,
			&r.PerSourceJSON, &r.PerStageJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// InsertRejection durably logs one pipeline rejection.
func (s *Store) InsertRejection(ctx context.Context, rej *Rejection) error {
	if rej.RejectedAt == 0 {
		rej.RejectedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rejections (id, run_id, identity_url, source_name, stage, reason, rejected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rej.ID, rej.RunID, rej.IdentityURL, rej.SourceName, rej.Stage, rej.Reason, rej.RejectedAt)
	if err != nil {
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

// RecentRejections returns the latest rejections, newest first.
func (s *Store) RecentRejections(ctx context.Context, limit int) ([]*Rejection, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, identity_url, source_name, stage, reason, rejected_at
		FROM rejections ORDER BY rejected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rejections []*Rejection
	for rows.Next() {
		var r Rejection
		if err := rows.Scan(&r.ID, &r.RunID, &r.IdentityURL, &r.SourceName,
			&r.Stage, &r.Reason, &r.RejectedAt); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		rejections = append(rejections, &r)
	}
	return rejections, rows.Err()
}
