package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// SerpConfig configures the search-engine results adapter.
type SerpConfig struct {
	// Endpoint is a JSON search API ("?q=...&page=N" convention).
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates requests; metered quota.
	APIKey string `yaml:"api_key"`
	// Queries are the search expressions run in order, e.g.
	// `site:mystorefront.shop "powered by"`. Defaults to a single
	// site:<suffix> query.
	Queries []string `yaml:"queries"`
	// MaxPages bounds pagination per query. Default: 5.
	MaxPages int `yaml:"max_pages"`
	// MinDelay between requests. Default: 2s.
	MinDelay time.Duration `yaml:"min_delay"`
}

// SerpAdapter discovers shops through a metered search engine API. The
// cursor encodes "queryIndex:page" so a quota-interrupted crawl resumes on
// the exact query and page it stopped at.
type SerpAdapter struct {
	cfg     SerpConfig
	suffix  string
	fetcher *fetch.Fetcher
	pacer   *Pacer
	logger  *slog.Logger
}

type serpResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// NewSerpAdapter creates the search-engine adapter.
func NewSerpAdapter(cfg SerpConfig, hostedSuffix string, f *fetch.Fetcher, logger *slog.Logger) *SerpAdapter {
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"site:" + hostedSuffix}
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 2 * time.Second
	}
	return &SerpAdapter{
		cfg:     cfg,
		suffix:  hostedSuffix,
		fetcher: f,
		pacer:   NewPacer(cfg.MinDelay),
		logger:  logger.With("adapter", "serp"),
	}
}

func (a *SerpAdapter) Name() string  { return "serp" }
func (a *SerpAdapter) Tier() Tier    { return TierMetered }
func (a *SerpAdapter) Pacer() *Pacer { return a.pacer }

// Fetch runs one query page. Result URLs are taken directly; snippets are
// additionally scanned for hosted hostnames mentioned in prose.
func (a *SerpAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	qi, pageNo := a.parseCursor(cursor)
	if qi >= len(a.cfg.Queries) {
		return &Page{Exhausted: true}, nil
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", a.cfg.Queries[qi])
	q.Set("page", strconv.Itoa(pageNo))
	q.Set("api_key", a.cfg.APIKey)

	res, err := a.fetcher.Get(ctx, a.cfg.Endpoint+"?"+q.Encode(), nil)
	if errors.Is(err, fetch.ErrThrottled) {
		a.pacer.Throttle(res.RetryAfter)
		return &Page{NextCursor: cursor, Throttled: true, RetryAfter: res.RetryAfter}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("serp: %w", err)
	}
	a.pacer.Success()

	var sr serpResponse
	if err := json.Unmarshal(res.Body, &sr); err != nil {
		return nil, fmt.Errorf("serp: decode response: %w", err)
	}

	page := &Page{}
	now := time.Now()
	for _, r := range sr.Results {
		urls := []string{}
		if r.URL != "" {
			urls = append(urls, r.URL)
		} else {
			page.DataErrors++
		}
		urls = append(urls, ScanText(r.Snippet, a.suffix)...)
		for _, u := range urls {
			page.Candidates = append(page.Candidates, Candidate{
				RawURL:     u,
				SourceName: a.Name(),
				Metadata: map[string]string{
					"query": a.cfg.Queries[qi],
					"title": r.Title,
				},
				DiscoveredAt: now,
			})
		}
	}

	// Advance: next page while results keep coming, else next query.
	if len(sr.Results) == 0 || pageNo >= a.cfg.MaxPages {
		qi++
		pageNo = 1
	} else {
		pageNo++
	}
	if qi >= len(a.cfg.Queries) {
		page.Exhausted = true
	} else {
		page.NextCursor = fmt.Sprintf("%d:%d", qi, pageNo)
	}

	a.logger.Debug("fetched", "query", qi, "page", pageNo,
		"candidates", len(page.Candidates), "data_errors", page.DataErrors)
	return page, nil
}

func (a *SerpAdapter) parseCursor(cursor string) (queryIndex, page int) {
	page = 1
	if cursor == "" {
		return 0, 1
	}
	parts := strings.SplitN(cursor, ":", 2)
	queryIndex, _ = strconv.Atoi(parts[0])
	if len(parts) == 2 {
		if p, err := strconv.Atoi(parts[1]); err == nil && p > 0 {
			page = p
		}
	}
	return queryIndex, page
}
