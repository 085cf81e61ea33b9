package discovery

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
	"github.com/kelarsco/sneaklink/discovery/internal/pending"
	"github.com/kelarsco/sneaklink/discovery/internal/pipeline"
	"github.com/kelarsco/sneaklink/discovery/internal/scheduler"
	"github.com/kelarsco/sneaklink/discovery/internal/source"
)

// Config configures the discovery service.
type Config struct {
	Fetch     fetch.Config     `yaml:"fetch"`
	Sources   source.Config    `yaml:"sources"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Pending   pending.Config   `yaml:"pending"`

	// SourceConfigPath, when set, is a YAML file re-read at the start of
	// every run so source enablement and credentials can change without a
	// restart. The snapshot is immutable for the duration of the run.
	SourceConfigPath string `yaml:"source_config_path"`

	// StalenessThreshold is the validation age past which a rediscovered
	// record is refreshed. Default: 30 days.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	// RetryBase scales the transient-failure backoff: the Nth failure
	// pushes the next attempt out by N*RetryBase. Default: 1h.
	RetryBase time.Duration `yaml:"retry_base"`
	// RetryCeiling caps the backoff. Default: 24h.
	RetryCeiling time.Duration `yaml:"retry_ceiling"`
	// ReclassifyDelay schedules the re-run for low-confidence
	// classifications. Default: 12h.
	ReclassifyDelay time.Duration `yaml:"reclassify_delay"`
	// MaxReclassifyAttempts bounds reclassification; past it a record stays
	// unclassified until an operator steps in. Default: 5.
	MaxReclassifyAttempts int `yaml:"max_reclassify_attempts"`
	// InterAdapterDelay spaces out consecutive adapters within a run so
	// sources sharing upstream infrastructure are not hit in a burst.
	// Default: 2s.
	InterAdapterDelay time.Duration `yaml:"inter_adapter_delay"`
}

func (c *Config) defaults() {
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = 30 * 24 * time.Hour
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Hour
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = 24 * time.Hour
	}
	if c.ReclassifyDelay <= 0 {
		c.ReclassifyDelay = 12 * time.Hour
	}
	if c.MaxReclassifyAttempts <= 0 {
		c.MaxReclassifyAttempts = 5
	}
	if c.InterAdapterDelay <= 0 {
		c.InterAdapterDelay = 2 * time.Second
	}
	if c.Pipeline.HostedSuffix == "" {
		c.Pipeline.HostedSuffix = c.Sources.HostedSuffix
	}
}

// LoadSourceConfig reads the per-adapter enablement and credentials file.
func LoadSourceConfig(path string) (source.Config, error) {
	var cfg source.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("source config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("source config %s: %w", path, err)
	}
	return cfg, nil
}
