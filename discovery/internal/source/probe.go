package source

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// ProbeConfig configures the direct fingerprint probe adapter.
type ProbeConfig struct {
	// Wordlist holds shop-name labels to try under the hosted suffix
	// (brand terms, dictionary words, permutations prepared offline).
	Wordlist []string `yaml:"wordlist"`
	// BatchSize bounds probes per Fetch call. Default: 25.
	BatchSize int `yaml:"batch_size"`
	// MinDelay between probes. Default: 3s; these hit the platform
	// itself, where politeness matters most.
	MinDelay time.Duration `yaml:"min_delay"`
}

// ProbeAdapter enumerates likely shop hostnames under the hosted suffix and
// emits the ones that answer at all. It deliberately does NOT validate
// platform membership; that is the pipeline's first stage. The probe only
// filters out hostnames that don't resolve or respond.
type ProbeAdapter struct {
	cfg     ProbeConfig
	suffix  string
	fetcher *fetch.Fetcher
	pacer   *Pacer
	logger  *slog.Logger

	targetURL func(word string) string // test seam
}

// NewProbeAdapter creates the fingerprint probe adapter.
func NewProbeAdapter(cfg ProbeConfig, hostedSuffix string, f *fetch.Fetcher, logger *slog.Logger) *ProbeAdapter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 3 * time.Second
	}
	return &ProbeAdapter{
		cfg:     cfg,
		suffix:  hostedSuffix,
		fetcher: f,
		pacer:   NewPacer(cfg.MinDelay),
		logger:  logger.With("adapter", "probe"),
	}
}

func (a *ProbeAdapter) Name() string  { return "probe" }
func (a *ProbeAdapter) Tier() Tier    { return TierFree }
func (a *ProbeAdapter) Pacer() *Pacer { return a.pacer }

// Fetch probes the next BatchSize wordlist entries. The cursor is the
// wordlist index; when the list is exhausted the cursor resets so the next
// comprehensive run starts over (new shops appear on old names too).
func (a *ProbeAdapter) Fetch(ctx context.Context, cursor string) (*Page, error) {
	start, _ := strconv.Atoi(cursor)
	if start >= len(a.cfg.Wordlist) {
		return &Page{Exhausted: true}, nil
	}
	end := min(start+a.cfg.BatchSize, len(a.cfg.Wordlist))

	page := &Page{}
	now := time.Now()
	for i, word := range a.cfg.Wordlist[start:end] {
		if err := a.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		target := "https://" + word + "." + a.suffix
		probeAt := target
		if a.targetURL != nil {
			probeAt = a.targetURL(word)
		}
		res, err := a.fetcher.Head(ctx, probeAt, nil)
		if errors.Is(err, fetch.ErrThrottled) {
			// The platform is pushing back on the probe itself; keep what
			// we have and resume from this word next run.
			a.pacer.Throttle(res.RetryAfter)
			page.NextCursor = strconv.Itoa(start + i)
			page.Throttled = true
			page.RetryAfter = res.RetryAfter
			return page, nil
		}
		if err != nil {
			// Unresolvable or dead hostnames are the expected common
			// case for a wordlist probe, not data errors.
			continue
		}
		a.pacer.Success()
		if res.StatusCode >= 500 {
			continue
		}
		page.Candidates = append(page.Candidates, Candidate{
			RawURL:       target,
			SourceName:   a.Name(),
			Metadata:     map[string]string{"probe_status": strconv.Itoa(res.StatusCode)},
			DiscoveredAt: now,
		})
	}

	if end >= len(a.cfg.Wordlist) {
		page.Exhausted = true
		page.NextCursor = ""
	} else {
		page.NextCursor = strconv.Itoa(end)
	}

	a.logger.Debug("probed", "from", start, "to", end, "hits", len(page.Candidates))
	return page, nil
}
