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

// AdLibraryConfig configures the ad library search adapter.
type AdLibraryConfig struct {
	// Endpoint is the ad archive search API.
	Endpoint string `yaml:"endpoint"`
	// AccessToken authenticates requests; strict quota.
	AccessToken string `yaml:"access_token"`
	// Terms are the search terms run in order (brand phrases shops
	// advertise with). Defaults to the hosted suffix itself.
	Terms []string `yaml:"terms"`
	// MinDelay between requests. Default: 15s; this quota is the
	// scarcest of all sources.
	MinDelay time.Duration `yaml:"min_delay"`
}

// AdLibraryAdapter discovers shops that run paid ads, via a public ad
// archive search. Paid tier: runs last. The cursor is "termIndex|after"
// where after is the upstream's own paging token.
type AdLibraryAdapter struct {
	cfg     AdLibraryConfig
	suffix  string
	fetcher *fetch.Fetcher
	pacer   *Pacer
	logger  *slog.Logger
}

type adLibraryResponse struct {
	Data []struct {
		PageName     string   `json:"page_name"`
		LinkURL      string   `json:"link_url"`
		CreativeText string   `json:"ad_creative_body"`
		LandingPages []string `json:"landing_pages"`
	} `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

// NewAdLibraryAdapter creates the ad library adapter.
func NewAdLibraryAdapter(cfg AdLibraryConfig, hostedSuffix string, f *fetch.Fetcher, logger *slog.Logger) *AdLibraryAdapter {
	if len(cfg.Terms) == 0 {
		cfg.Terms = []string{hostedSuffix}
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 15 * time.Second
	}
	return &AdLibraryAdapter{
		cfg:     cfg,
		suffix:  hostedSuffix,
		fetcher: f,
		pacer:   NewPacer(cfg.MinDelay),
		logger:  logger.With("adapter", "adlibrary"),
	}
}

func (a *AdLibraryAdapter) Name() string  { return "adlibrary" }
func (a *AdLibraryAdapter) Tier() Tier    { return TierPaid }
func (a *AdLibraryAdapter) Pacer() *Pacer { return a.pacer }

// Fetch runs one ad archive page for the current term. Link URLs, landing
// pages and ad copy are all scanned; one malformed ad entry is skipped and
// counted.
func (a *AdLibraryAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	ti, after := a.parseCursor(cursor)
	if ti >= len(a.cfg.Terms) {
		return &Page{Exhausted: true}, nil
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("search_terms", a.cfg.Terms[ti])
	q.Set("access_token", a.cfg.AccessToken)
	if after != "" {
		q.Set("after", after)
	}

	res, err := a.fetcher.Get(ctx, a.cfg.Endpoint+"?"+q.Encode(), nil)
	if errors.Is(err, fetch.ErrThrottled) {
		a.pacer.Throttle(res.RetryAfter)
		return &Page{NextCursor: cursor, Throttled: true, RetryAfter: res.RetryAfter}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("adlibrary: %w", err)
	}
	a.pacer.Success()

	var ar adLibraryResponse
	if err := json.Unmarshal(res.Body, &ar); err != nil {
		return nil, fmt.Errorf("adlibrary: decode response: %w", err)
	}

	page := &Page{}
	now := time.Now()
	for _, ad := range ar.Data {
		var text strings.Builder
		text.WriteString(ad.LinkURL)
		text.WriteByte(' ')
		text.WriteString(ad.CreativeText)
		for _, lp := range ad.LandingPages {
			text.WriteByte(' ')
			text.WriteString(lp)
		}
		urls := ScanText(text.String(), a.suffix)
		if len(urls) == 0 {
			page.DataErrors++
			continue
		}
		for _, u := range urls {
			page.Candidates = append(page.Candidates, Candidate{
				RawURL:     u,
				SourceName: a.Name(),
				Metadata: map[string]string{
					"ad_page": ad.PageName,
					"term":    a.cfg.Terms[ti],
				},
				DiscoveredAt: now,
			})
		}
	}

	next := ar.Paging.Cursors.After
	if next == "" || len(ar.Data) == 0 {
		ti++
		next = ""
	}
	if ti >= len(a.cfg.Terms) {
		page.Exhausted = true
	} else {
		page.NextCursor = strconv.Itoa(ti) + "|" + next
	}

	a.logger.Debug("fetched", "term", ti, "ads", len(ar.Data),
		"candidates", len(page.Candidates), "data_errors", page.DataErrors)
	return page, nil
}

func (a *AdLibraryAdapter) parseCursor(cursor string) (termIndex int, after string) {
	if cursor == "" {
		return 0, ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	termIndex, _ = strconv.Atoi(parts[0])
	if len(parts) == 2 {
		after = parts[1]
	}
	return termIndex, after
}
