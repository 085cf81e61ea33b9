package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// ArchiveConfig configures the web archive snapshot adapter.
type ArchiveConfig struct {
	// Endpoint is a CDX-compatible query API.
	Endpoint string `yaml:"endpoint"`
	// PageSize bounds one page of snapshot rows. Default: 500.
	PageSize int `yaml:"page_size"`
	// MinDelay between requests. Default: 5s.
	MinDelay time.Duration `yaml:"min_delay"`
}

// ArchiveAdapter walks web archive snapshot indexes for captures under the
// hosted suffix. Free tier. Pagination is offset-based; the offset is the
// adapter's cursor and survives across runs.
type ArchiveAdapter struct {
	cfg     ArchiveConfig
	suffix  string
	fetcher *fetch.Fetcher
	pacer   *Pacer
	logger  *slog.Logger
}

// NewArchiveAdapter creates the archive adapter.
func NewArchiveAdapter(cfg ArchiveConfig, hostedSuffix string, f *fetch.Fetcher, logger *slog.Logger) *ArchiveAdapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 5 * time.Second
	}
	return &ArchiveAdapter{
		cfg:     cfg,
		suffix:  hostedSuffix,
		fetcher: f,
		pacer:   NewPacer(cfg.MinDelay),
		logger:  logger.With("adapter", "archive"),
	}
}

func (a *ArchiveAdapter) Name() string  { return "archive" }
func (a *ArchiveAdapter) Tier() Tier    { return TierFree }
func (a *ArchiveAdapter) Pacer() *Pacer { return a.pacer }

// Fetch retrieves one CDX page. The response is a JSON array of rows, first
// row being the field header; rows that don't parse are skipped and counted.
func (a *ArchiveAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	offset, _ := strconv.Atoi(cursor)

	q := url.Values{}
	q.Set("url", "*."+a.suffix)
	q.Set("matchType", "domain")
	q.Set("output", "json")
	q.Set("fl", "original,timestamp")
	q.Set("collapse", "urlkey")
	q.Set("limit", strconv.Itoa(a.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))

	res, err := a.fetcher.Get(ctx, a.cfg.Endpoint+"?"+q.Encode(), nil)
	if errors.Is(err, fetch.ErrThrottled) {
		a.pacer.Throttle(res.RetryAfter)
		return &Page{NextCursor: cursor, Throttled: true, RetryAfter: res.RetryAfter}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	a.pacer.Success()

	var rows [][]string
	if err := json.Unmarshal(res.Body, &rows); err != nil {
		return nil, fmt.Errorf("archive: decode response: %w", err)
	}

	page := &Page{}
	now := time.Now()
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "original" {
			continue // header row
		}
		if len(row) < 1 || row[0] == "" {
			page.DataErrors++
			continue
		}
		cand := Candidate{
			RawURL:       row[0],
			SourceName:   a.Name(),
			DiscoveredAt: now,
		}
		if len(row) > 1 {
			cand.Metadata = map[string]string{"snapshot_ts": row[1]}
		}
		page.Candidates = append(page.Candidates, cand)
	}

	consumed := len(rows)
	if consumed > 0 && len(rows[0]) > 0 && rows[0][0] == "original" {
		consumed-- // header doesn't count against the page
	}
	if consumed < a.cfg.PageSize {
		page.Exhausted = true
		page.NextCursor = ""
	} else {
		page.NextCursor = strconv.Itoa(offset + consumed)
	}

	a.logger.Debug("fetched", "rows", consumed, "offset", offset,
		"candidates", len(page.Candidates), "data_errors", page.DataErrors)
	return page, nil
}
