// Package pending persists deferred discovery candidates in SQLite.
//
// A candidate whose validation failed transiently is parked here with a
// visibility deadline. Claimed entries turn invisible for a grace period, so
// a crash mid-validation puts them back automatically. One entry per
// identity URL: re-deferring the same URL moves its deadline instead of
// queueing a duplicate.
package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelarsco/sneaklink/dbopen"
	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
)

// Entry is a parked candidate.
type Entry struct {
	Candidate dedup.Candidate
	VisibleAt time.Time
	Attempts  int
}

// Config configures the queue.
type Config struct {
	// Visibility is how long a claimed entry stays invisible. Default: 10m.
	Visibility time.Duration `yaml:"visibility"`
	// MaxAttempts discards an entry after this many claims. Default: 5.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c *Config) defaults() {
	if c.Visibility <= 0 {
		c.Visibility = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Queue is the handle. Call EnsureTable once at startup.
type Queue struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

// New creates a queue handle.
func New(db *sql.DB, cfg Config, logger *slog.Logger) *Queue {
	cfg.defaults()
	return &Queue{db: db, cfg: cfg, logger: logger.With("component", "pending")}
}

// EnsureTable creates the backing table and index if missing.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_candidates (
			identity_url TEXT PRIMARY KEY,
			payload      BLOB NOT NULL,
			visible_at   INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			attempts     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_pending_visible ON pending_candidates (visible_at);
	`)
	return err
}

// Defer parks a candidate. The first park makes it visible at now+base; a
// candidate already parked keeps its attempt count, its delay grows to
// base*(attempts+1) capped at ceiling, and the deadline moves to the later
// of old and new.
func (q *Queue) Defer(ctx context.Context, c dedup.Candidate, base, ceiling time.Duration) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("pending: marshal %s: %w", c.IdentityURL, err)
	}
	now := time.Now().UnixMilli()
	baseMs := base.Milliseconds()
	ceilMs := ceiling.Milliseconds()
	if ceilMs < baseMs {
		ceilMs = baseMs
	}
	_, err = dbopen.Exec(ctx, q.db, `
		INSERT INTO pending_candidates (identity_url, payload, visible_at, created_at)
		VALUES (?, ?, ? + ?, ?)
		ON CONFLICT(identity_url) DO UPDATE SET
			visible_at = MAX(pending_candidates.visible_at,
			                 ? + MIN(? * (pending_candidates.attempts + 1), ?))`,
		c.IdentityURL, payload, now, baseMs, now, now, baseMs, ceilMs)
	if err != nil {
		return fmt.Errorf("pending: defer %s: %w", c.IdentityURL, err)
	}
	return nil
}

// ClaimDue atomically claims up to limit due entries, making them invisible
// for the configured grace period. Entries past MaxAttempts are discarded
// instead of returned.
func (q *Queue) ClaimDue(ctx context.Context, limit int) ([]Entry, error) {
	now := time.Now()
	hideUntil := now.Add(q.cfg.Visibility).UnixMilli()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE pending_candidates
		SET visible_at = ?, attempts = attempts + 1
		WHERE identity_url IN (
			SELECT identity_url FROM pending_candidates
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT ?
		)
		RETURNING identity_url, payload, visible_at, attempts`,
		hideUntil, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("pending: claim: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var exhausted []string
	for rows.Next() {
		var url string
		var payload []byte
		var visAt int64
		var e Entry
		if err := rows.Scan(&url, &payload, &visAt, &e.Attempts); err != nil {
			return nil, err
		}
		if e.Attempts > q.cfg.MaxAttempts {
			exhausted = append(exhausted, url)
			continue
		}
		if err := json.Unmarshal(payload, &e.Candidate); err != nil {
			q.logger.Warn("dropping corrupt entry", "url", url, "error", err)
			exhausted = append(exhausted, url)
			continue
		}
		e.VisibleAt = time.UnixMilli(visAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, url := range exhausted {
		q.logger.Warn("discarding after max attempts", "url", url)
		if err := q.Ack(ctx, url); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Ack removes a processed entry.
func (q *Queue) Ack(ctx context.Context, identityURL string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM pending_candidates WHERE identity_url = ?`, identityURL)
	return err
}

// Release pushes a claimed entry's deadline to now+delay so a later run
// retries it. The attempt count sticks.
func (q *Queue) Release(ctx context.Context, identityURL string, delay time.Duration) error {
	visibleAt := time.Now().Add(delay).UnixMilli()
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE pending_candidates SET visible_at = ? WHERE identity_url = ?`,
		visibleAt, identityURL)
	return err
}

// Len counts all parked entries, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_candidates`).Scan(&n)
	return n, err
}
