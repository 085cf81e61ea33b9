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

// CertLogConfig configures the certificate transparency adapter.
type CertLogConfig struct {
	// Endpoint is the CT search API base (crt.sh-compatible JSON output).
	Endpoint string `yaml:"endpoint"`
	// MinDelay between requests. Default: 10s; CT frontends are shared
	// community infrastructure.
	MinDelay time.Duration `yaml:"min_delay"`
}

// CertLogAdapter discovers hosted shops from newly issued TLS certificates
// covering the platform's hosted suffix. Free tier: no credentials, but
// heavily shared upstream, so pacing is conservative.
type CertLogAdapter struct {
	cfg     CertLogConfig
	suffix  string
	fetcher *fetch.Fetcher
	pacer   *Pacer
	logger  *slog.Logger
}

// certEntry is the subset of a CT log search row the adapter reads.
type certEntry struct {
	ID        int64  `json:"id"`
	NameValue string `json:"name_value"`
	NotBefore string `json:"not_before"`
}

// NewCertLogAdapter creates the CT log adapter.
func NewCertLogAdapter(cfg CertLogConfig, hostedSuffix string, f *fetch.Fetcher, logger *slog.Logger) *CertLogAdapter {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 10 * time.Second
	}
	return &CertLogAdapter{
		cfg:     cfg,
		suffix:  hostedSuffix,
		fetcher: f,
		pacer:   NewPacer(cfg.MinDelay),
		logger:  logger.With("adapter", "certlog"),
	}
}

func (a *CertLogAdapter) Name() string { return "certlog" }
func (a *CertLogAdapter) Tier() Tier   { return TierFree }

// Pacer exposes the adapter's pacing state to the run driver.
func (a *CertLogAdapter) Pacer() *Pacer { return a.pacer }

// Fetch queries certificates for %.<suffix> issued after the cursor's log
// entry ID, so successive runs only see new issuances. One malformed entry
// is skipped and counted, never fatal.
func (a *CertLogAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	sinceID, _ := strconv.ParseInt(cursor, 10, 64)

	q := url.Values{}
	q.Set("q", "%."+a.suffix)
	q.Set("output", "json")
	res, err := a.fetcher.Get(ctx, a.cfg.Endpoint+"?"+q.Encode(), nil)
	if errors.Is(err, fetch.ErrThrottled) {
		a.pacer.Throttle(res.RetryAfter)
		return &Page{NextCursor: cursor, Throttled: true, RetryAfter: res.RetryAfter}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certlog: %w", err)
	}
	a.pacer.Success()

	var raw []json.RawMessage
	if err := json.Unmarshal(res.Body, &raw); err != nil {
		return nil, fmt.Errorf("certlog: decode response: %w", err)
	}

	page := &Page{Exhausted: true}
	maxID := sinceID
	now := time.Now()
	for _, entry := range raw {
		var e certEntry
		if err := json.Unmarshal(entry, &e); err != nil || e.NameValue == "" {
			page.DataErrors++
			continue
		}
		if e.ID <= sinceID {
			continue // already seen in a previous run
		}
		if e.ID > maxID {
			maxID = e.ID
		}
		for _, u := range ScanText(e.NameValue, a.suffix) {
			page.Candidates = append(page.Candidates, Candidate{
				RawURL:     u,
				SourceName: a.Name(),
				Metadata: map[string]string{
					"cert_id":    strconv.FormatInt(e.ID, 10),
					"not_before": e.NotBefore,
				},
				DiscoveredAt: now,
			})
		}
	}
	if maxID > sinceID {
		page.NextCursor = strconv.FormatInt(maxID, 10)
	} else {
		page.NextCursor = cursor
	}

	a.logger.Debug("fetched", "entries", len(raw), "candidates", len(page.Candidates),
		"data_errors", page.DataErrors)
	return page, nil
}
