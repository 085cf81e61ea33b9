// Package scheduler drives discovery runs on fixed cadences and on demand.
// At most one run is in flight at a time: ticks and triggers that land
// mid-run coalesce instead of queueing.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Cadence names. Each cadence widens the source set and the candidate
// budget of a run.
const (
	CadenceFast          = "fast"
	CadenceDeep          = "deep"
	CadenceComprehensive = "comprehensive"
)

// CadenceConfig sets one cadence's interval and per-run candidate budget.
type CadenceConfig struct {
	Every time.Duration `yaml:"every"`
	Quota int           `yaml:"quota"`
}

// Config configures all cadences.
type Config struct {
	Fast          CadenceConfig `yaml:"fast"`
	Deep          CadenceConfig `yaml:"deep"`
	Comprehensive CadenceConfig `yaml:"comprehensive"`
}

func (c *Config) defaults() {
	if c.Fast.Every <= 0 {
		c.Fast.Every = time.Hour
	}
	if c.Fast.Quota <= 0 {
		c.Fast.Quota = 200
	}
	if c.Deep.Every <= 0 {
		c.Deep.Every = 24 * time.Hour
	}
	if c.Deep.Quota <= 0 {
		c.Deep.Quota = 1000
	}
	if c.Comprehensive.Every <= 0 {
		c.Comprehensive.Every = 7 * 24 * time.Hour
	}
	if c.Comprehensive.Quota <= 0 {
		c.Comprehensive.Quota = 5000
	}
}

// QuotaFor returns the candidate budget for a cadence name.
func (c *Config) QuotaFor(cadence string) int {
	switch cadence {
	case CadenceDeep:
		return c.Deep.Quota
	case CadenceComprehensive:
		return c.Comprehensive.Quota
	default:
		return c.Fast.Quota
	}
}

// Valid reports whether the name is a known cadence.
func Valid(cadence string) bool {
	switch cadence {
	case CadenceFast, CadenceDeep, CadenceComprehensive:
		return true
	}
	return false
}

// RunFunc executes one discovery run for a cadence.
type RunFunc func(ctx context.Context, cadence string) error

// Scheduler owns the cadence tickers and the manual trigger channel.
type Scheduler struct {
	cfg     Config
	run     RunFunc
	trigger chan string
	logger  *slog.Logger
}

// New creates a Scheduler around a run function.
func New(cfg Config, run RunFunc, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg: cfg,
		run: run,
		// Capacity 1: a trigger during a run is remembered once, repeats
		// coalesce.
		trigger: make(chan string, 1),
		logger:  logger.With("component", "scheduler"),
	}
}

// Config returns the effective cadence configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Trigger requests a manual run for the given cadence. It never blocks;
// false means a trigger is already queued and this one coalesced into it.
func (s *Scheduler) Trigger(cadence string) bool {
	select {
	case s.trigger <- cadence:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is cancelled, executing runs serially. A ticker that
// fires while a run is executing delivers at most one pending tick; further
// ticks drop, which keeps a slow run from building a backlog.
func (s *Scheduler) Run(ctx context.Context) error {
	fast := time.NewTicker(s.cfg.Fast.Every)
	defer fast.Stop()
	deep := time.NewTicker(s.cfg.Deep.Every)
	defer deep.Stop()
	comprehensive := time.NewTicker(s.cfg.Comprehensive.Every)
	defer comprehensive.Stop()

	s.logger.Info("started",
		"fast", s.cfg.Fast.Every, "deep", s.cfg.Deep.Every,
		"comprehensive", s.cfg.Comprehensive.Every)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case cadence := <-s.trigger:
			s.execute(ctx, cadence, true)
		case <-fast.C:
			s.execute(ctx, CadenceFast, false)
		case <-deep.C:
			s.execute(ctx, CadenceDeep, false)
		case <-comprehensive.C:
			s.execute(ctx, CadenceComprehensive, false)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, cadence string, manual bool) {
	if !Valid(cadence) {
		s.logger.Warn("unknown cadence", "cadence", cadence)
		return
	}
	start := time.Now()
	if err := s.run(ctx, cadence); err != nil {
		s.logger.Error("run failed", "cadence", cadence, "manual", manual, "error", err)
		return
	}
	s.logger.Info("run finished", "cadence", cadence, "manual", manual,
		"elapsed", time.Since(start).Round(time.Millisecond))
}
