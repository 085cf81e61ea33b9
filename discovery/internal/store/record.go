package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelarsco/sneaklink/dbopen"
)

// existsBatchSize bounds the IN(...) list of a single existence query.
const existsBatchSize = 200

// Upsert inserts or refreshes a storefront record keyed on identity_url and
// reports whether a new row was created. The single INSERT .. ON CONFLICT
// statement makes a concurrent creation race indistinguishable from a
// refresh: the loser's attempt lands as an update, never as an error.
// Operator-locked classification fields (tags_locked=1) are never
// overwritten; a successful validation clears the retry schedule. The
// reclassification counter survives refreshes while the record stays
// unclassified, so the attempt bound holds across runs; a successful
// classification resets it.
func (s *Store) Upsert(ctx context.Context, rec *StoreRecord) (created bool, err error) {
	if rec.IdentityURL == "" {
		return false, fmt.Errorf("upsert: empty identity_url")
	}
	now := time.Now().UnixMilli()
	if rec.FirstSeenAt == 0 {
		rec.FirstSeenAt = now
	}
	if rec.LastValidatedAt == 0 {
		rec.LastValidatedAt = now
	}
	if rec.BusinessModel == "" {
		rec.BusinessModel = "unclassified"
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return false, fmt.Errorf("upsert: marshal tags: %w", err)
	}
	if rec.Tags == nil {
		tags = []byte("[]")
	}

	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO stores (id, identity_url, display_name, country, theme,
			business_model, business_model_confidence, tags, product_count,
			is_active, source_name, first_seen_at, last_validated_at,
			retry_count, next_retry_at, tags_locked, reclassify_count, revisions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, 0)
		ON CONFLICT(identity_url) DO UPDATE SET
			display_name              = excluded.display_name,
			country                   = excluded.country,
			theme                     = excluded.theme,
			business_model            = CASE WHEN stores.tags_locked = 1 THEN stores.business_model ELSE excluded.business_model END,
			business_model_confidence = CASE WHEN stores.tags_locked = 1 THEN stores.business_model_confidence ELSE excluded.business_model_confidence END,
			tags                      = CASE WHEN stores.tags_locked = 1 THEN stores.tags ELSE excluded.tags END,
			reclassify_count          = CASE
				WHEN stores.tags_locked = 1 THEN stores.reclassify_count
				WHEN excluded.business_model = 'unclassified' THEN stores.reclassify_count
				ELSE 0 END,
			product_count             = excluded.product_count,
			is_active                 = excluded.is_active,
			last_validated_at         = excluded.last_validated_at,
			retry_count               = 0,
			next_retry_at             = NULL,
			revisions                 = stores.revisions + 1
		RETURNING id, revisions`,
		rec.ID, rec.IdentityURL, rec.DisplayName, rec.Country, rec.Theme,
		rec.BusinessModel, rec.BusinessModelConfidence, string(tags), rec.ProductCount,
		rec.IsActive, rec.SourceName, rec.FirstSeenAt, rec.LastValidatedAt,
		rec.ReclassifyCount,
	)

	var revisions int
	if err := row.Scan(&rec.ID, &revisions); err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.IdentityURL, err)
	}
	rec.Revisions = revisions
	return revisions == 0, nil
}

// GetByIdentityURL returns the record for a normalized URL, or nil.
func (s *Store) GetByIdentityURL(ctx context.Context, url string) (*StoreRecord, error) {
	row := s.DB.QueryRowContext(ctx, selectRecord+` WHERE identity_url = ?`, url)
	return scanRecord(row.Scan)
}

// ExistsBatch reports which of the given identity URLs are already known.
// The IN list is chunked so one oversized run cannot produce an unbounded
// query.
func (s *Store) ExistsBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	known := make(map[string]bool, len(urls))
	for start := 0; start < len(urls); start += existsBatchSize {
		end := min(start+existsBatchSize, len(urls))
		chunk := urls[start:end]

		query := `SELECT identity_url FROM stores WHERE identity_url IN (` +
			placeholders(len(chunk)) + `)`
		rows, err := s.DB.QueryContext(ctx, query, toAny(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("exists batch: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, err
			}
			known[u] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return known, nil
}

// RefreshDueBatch reports which of the given known URLs are due for
// re-validation: retry deadline passed, or last validation older than the
// staleness threshold. Chunked like ExistsBatch.
func (s *Store) RefreshDueBatch(ctx context.Context, urls []string, staleness time.Duration) (map[string]bool, error) {
	now := time.Now().UnixMilli()
	staleBefore := now - staleness.Milliseconds()

	due := make(map[string]bool, len(urls))
	for start := 0; start < len(urls); start += existsBatchSize {
		end := min(start+existsBatchSize, len(urls))
		chunk := urls[start:end]

		query := `SELECT identity_url FROM stores
			WHERE identity_url IN (` + placeholders(len(chunk)) + `)
			  AND ((next_retry_at IS NOT NULL AND next_retry_at <= ?)
			    OR last_validated_at <= ?)`
		args := append(toAny(chunk), now, staleBefore)
		rows, err := s.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("refresh due batch: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return nil, err
			}
			due[u] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return due, nil
}

// DueForRetry returns up to limit records whose retry deadline has passed or
// whose last validation exceeds the staleness threshold, oldest first.
func (s *Store) DueForRetry(ctx context.Context, limit int, staleness time.Duration) ([]*StoreRecord, error) {
	now := time.Now().UnixMilli()
	staleBefore := now - staleness.Milliseconds()

	rows, err := s.DB.QueryContext(ctx, selectRecord+`
		WHERE (next_retry_at IS NOT NULL AND next_retry_at <= ?)
		   OR last_validated_at <= ?
		ORDER BY last_validated_at ASC
		LIMIT ?`, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("due for retry: %w", err)
	}
	defer rows.Close()

	var records []*StoreRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ScheduleRetry increments retry_count and pushes next_retry_at forward by
// base*retry_count, capped at ceiling. Both moves are monotonic.
func (s *Store) ScheduleRetry(ctx context.Context, identityURL string, base, ceiling time.Duration) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		UPDATE stores
		SET retry_count   = retry_count + 1,
		    next_retry_at = ? + MIN(? * (retry_count + 1), ?)
		WHERE identity_url = ?`,
		now, base.Milliseconds(), ceiling.Milliseconds(), identityURL)
	if err != nil {
		return fmt.Errorf("schedule retry %s: %w", identityURL, err)
	}
	return nil
}

// ScheduleReclassify marks a record for delayed reclassification unless the
// bounded attempt count is exhausted. Returns false once the limit is hit.
func (s *Store) ScheduleReclassify(ctx context.Context, identityURL string, delay time.Duration, maxAttempts int) (bool, error) {
	at := time.Now().Add(delay).UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE stores
		SET reclassify_count = reclassify_count + 1,
		    next_retry_at    = ?
		WHERE identity_url = ? AND tags_locked = 0 AND reclassify_count < ?`,
		at, identityURL, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("schedule reclassify %s: %w", identityURL, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Deactivate clears is_active after a refresh finds the storefront gone or
// gated. The record itself stays; deletion is an administrative action.
func (s *Store) Deactivate(ctx context.Context, identityURL string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE stores SET is_active = 0 WHERE identity_url = ?`, identityURL)
	return err
}

// SetTagsLocked flips the operator lock on classification fields.
// The pipeline never calls this; it exists for the administrative surface.
func (s *Store) SetTagsLocked(ctx context.Context, identityURL string, locked bool) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE stores SET tags_locked = ? WHERE identity_url = ?`,
		locked, identityURL)
	return err
}

// ListRecent returns the most recently validated records.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*StoreRecord, error) {
	rows, err := s.DB.QueryContext(ctx, selectRecord+`
		ORDER BY last_validated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*StoreRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats returns aggregate counters for the status surface.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_active), 0),
		       COALESCE(SUM(business_model = 'unclassified'), 0)
		FROM stores`).Scan(&st.Stores, &st.ActiveStores, &st.Unclassified)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&st.Runs); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rejections`).Scan(&st.Rejections); err != nil {
		return nil, err
	}
	var last sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(started_at) FROM runs`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		st.LastRunAt = &last.Int64
	}
	return st, nil
}

const selectRecord = `SELECT id, identity_url, display_name, country, theme,
	business_model, business_model_confidence, tags, product_count, is_active,
	source_name, first_seen_at, last_validated_at, retry_count, next_retry_at,
	tags_locked, reclassify_count, revisions
	FROM stores`

func scanRecord(scan func(...any) error) (*StoreRecord, error) {
	var rec StoreRecord
	var tags string
	var active, locked int
	err := scan(
		&rec.ID, &rec.IdentityURL, &rec.DisplayName, &rec.Country, &rec.Theme,
		&rec.BusinessModel, &rec.BusinessModelConfidence, &tags, &rec.ProductCount,
		&active, &rec.SourceName, &rec.FirstSeenAt, &rec.LastValidatedAt,
		&rec.RetryCount, &rec.NextRetryAt, &locked, &rec.ReclassifyCount, &rec.Revisions,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.IsActive = active != 0
	rec.TagsLocked = locked != 0
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	return &rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
