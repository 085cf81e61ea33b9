// Package source defines the adapter contract for external discovery
// mechanisms and the concrete adapters wrapping each upstream: certificate
// transparency logs, web archive snapshots, search engine results, ad
// library search, and direct platform-fingerprint probes.
//
// Adapters share one capability, Fetch(cursor), and otherwise own their
// pagination, quota and backoff bookkeeping exclusively. No adapter state is
// shared, so none of it is locked.
package source

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// Candidate is a URL discovered by an adapter, not yet validated.
// Ephemeral: it exists only within a run.
type Candidate struct {
	RawURL       string            `json:"raw_url"`
	SourceName   string            `json:"source_name"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// Tier orders adapters by cost: free sources run before quota-limited ones.
type Tier int

const (
	TierFree    Tier = iota // no credentials, no meaningful quota
	TierMetered             // credentialed, generous quota
	TierPaid                // expensive or strictly quota-limited
)

// Page is one fetch result. A throttled call returns whatever partial
// candidates it gathered with Throttled set, never an error, so progress
// is kept and the pacer can widen its window.
type Page struct {
	Candidates []Candidate
	NextCursor string
	Exhausted  bool
	Throttled  bool
	RetryAfter time.Duration
	DataErrors int // malformed upstream records skipped, not fatal
}

// Adapter wraps one external discovery mechanism.
//
// Fetch returns an error only for transport-level failures (network,
// timeout); a single malformed upstream record is skipped and counted in
// Page.DataErrors, and a throttle signal is reported via Page.Throttled.
type Adapter interface {
	Name() string
	Tier() Tier
	Fetch(ctx context.Context, cursor string) (*Page, error)
}

// Paced exposes an adapter's pacer so the run driver can persist and
// restore backoff state across runs. Every built-in adapter implements it.
type Paced interface {
	Pacer() *Pacer
}

// Config carries per-adapter endpoints, credentials and the enable map,
// injected by the hosting application's configuration layer.
type Config struct {
	// HostedSuffix is the platform's hosted shop domain suffix
	// (e.g. "mystorefront.shop"); adapters use it to recognise shop hosts.
	HostedSuffix string `yaml:"hosted_suffix"`

	// Enabled maps adapter name to on/off. Missing names default to on.
	Enabled map[string]bool `yaml:"enabled"`

	CertLog   CertLogConfig   `yaml:"certlog"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Serp      SerpConfig      `yaml:"serp"`
	AdLibrary AdLibraryConfig `yaml:"adlibrary"`
	Probe     ProbeConfig     `yaml:"probe"`
}

// enabled reports whether the named adapter should run.
func (c *Config) enabled(name string) bool {
	if c.Enabled == nil {
		return true
	}
	on, ok := c.Enabled[name]
	return !ok || on
}

// BuildRegistry constructs all enabled adapters in priority order: free
// tiers first, then by name for a stable sequence. This is the static
// dispatch table the scheduler consults; adding a source means adding a
// constructor here, not a string switch anywhere else.
func BuildRegistry(cfg Config, f *fetch.Fetcher, logger *slog.Logger) []Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	all := []Adapter{
		NewCertLogAdapter(cfg.CertLog, cfg.HostedSuffix, f, logger),
		NewArchiveAdapter(cfg.Archive, cfg.HostedSuffix, f, logger),
		NewProbeAdapter(cfg.Probe, cfg.HostedSuffix, f, logger),
		NewSerpAdapter(cfg.Serp, cfg.HostedSuffix, f, logger),
		NewAdLibraryAdapter(cfg.AdLibrary, cfg.HostedSuffix, f, logger),
	}

	var adapters []Adapter
	for _, a := range all {
		if cfg.enabled(a.Name()) {
			adapters = append(adapters, a)
		}
	}
	sort.SliceStable(adapters, func(i, j int) bool {
		if adapters[i].Tier() != adapters[j].Tier() {
			return adapters[i].Tier() < adapters[j].Tier()
		}
		return adapters[i].Name() < adapters[j].Name()
	})
	return adapters
}
