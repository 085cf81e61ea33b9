// Package pipeline validates discovery candidates in five stages: platform
// fingerprint, access check, metadata extraction, classification, and the
// product gate. Each stage can short-circuit with a verdict; only candidates
// that clear every stage produce a store record.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
	"github.com/kelarsco/sneaklink/discovery/internal/store"
)

// Outcome is a pipeline verdict.
type Outcome int

const (
	// OutcomeAccepted means every stage passed; Result.Record is set.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected is permanent: the URL is not a live storefront and is
	// not worth revisiting on its own.
	OutcomeRejected
	// OutcomeDeferred is transient: the check could not complete, revisit
	// later with backoff.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeDeferred:
		return "deferred"
	default:
		return "accepted"
	}
}

// Stage names, used in rejection records and run reports.
const (
	StageFingerprint = "fingerprint"
	StageAccess      = "access"
	StageMetadata    = "metadata"
	StageClassify    = "classify"
	StageGate        = "gate"
)

// Result is the verdict for one task.
type Result struct {
	Task    dedup.Task
	Outcome Outcome
	Stage   string // deciding stage; empty on acceptance
	Reason  string
	Record  *store.StoreRecord // set on acceptance only
	// NeedsReclassify is set when classification fell below the confidence
	// threshold and the record was accepted as unclassified.
	NeedsReclassify bool
}

// Config configures the pipeline.
type Config struct {
	// Workers bounds concurrent validations. Default: 8.
	Workers int `yaml:"workers"`
	// HostedSuffix is the platform's hosted domain suffix. Hosts under it
	// skip the fingerprint fetch.
	HostedSuffix string `yaml:"hosted_suffix"`
	// PlatformHeader is the response header the platform stamps on every
	// storefront. Default: X-Storefront-Id.
	PlatformHeader string `yaml:"platform_header"`
	// PlatformMarkers are substrings in storefront HTML that prove platform
	// membership on custom domains.
	PlatformMarkers []string `yaml:"platform_markers"`
	// ProductsPath is the catalog endpoint probed for the product count.
	// Default: /products.json.
	ProductsPath string `yaml:"products_path"`
	// PasswordPath marks the gated-storefront redirect target.
	// Default: /password.
	PasswordPath string `yaml:"password_path"`
	// MinConfidence is the classification acceptance threshold.
	// Default: 0.4.
	MinConfidence float64 `yaml:"min_confidence"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PlatformHeader == "" {
		c.PlatformHeader = "X-Storefront-Id"
	}
	if c.ProductsPath == "" {
		c.ProductsPath = "/products.json"
	}
	if c.PasswordPath == "" {
		c.PasswordPath = "/password"
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.4
	}
}

// Pipeline validates tasks. Safe for concurrent use.
type Pipeline struct {
	cfg        Config
	fetcher    *fetch.Fetcher
	classifier Classifier
	logger     *slog.Logger
}

// New creates a Pipeline. A nil classifier gets the keyword classifier.
func New(cfg Config, f *fetch.Fetcher, cl Classifier, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if cl == nil {
		cl = NewKeywordClassifier()
	}
	return &Pipeline{cfg: cfg, fetcher: f, classifier: cl, logger: logger.With("component", "pipeline")}
}

// probeState carries fetched material between stages so the storefront is
// hit at most once for the homepage.
type probeState struct {
	home *fetch.Result
}

// Run validates all tasks on a bounded worker pool and returns one Result
// per task. Order is not preserved.
func (p *Pipeline) Run(ctx context.Context, tasks []dedup.Task) []Result {
	jobs := make(chan dedup.Task)
	verdicts := make(chan Result)

	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				verdicts <- p.Process(ctx, t)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(verdicts)
	}()

	results := make([]Result, 0, len(tasks))
	for r := range verdicts {
		results = append(results, r)
	}
	return results
}

// Process runs one task through all stages.
func (p *Pipeline) Process(ctx context.Context, task dedup.Task) Result {
	state := &probeState{}

	if r := p.fingerprint(ctx, task, state); r != nil {
		return p.logged(*r)
	}
	if r := p.access(ctx, task, state); r != nil {
		return p.logged(*r)
	}

	meta := p.extractMetadata(ctx, task, state)
	cls := p.classifier.Classify(Signals{
		Title:        meta.displayName,
		Text:         meta.text,
		MetaKeywords: meta.keywords,
		ProductCount: meta.productCount,
	})

	needsReclassify := false
	if cls.Confidence < p.cfg.MinConfidence {
		// Never guess a catch-all model; unclassified records are retried
		// on a schedule instead.
		cls.BusinessModel = "unclassified"
		cls.Tags = nil
		needsReclassify = true
	}

	if meta.productCount <= 0 {
		reason := "no products"
		if meta.productCount < 0 {
			reason = "product count unavailable"
		}
		return p.logged(Result{Task: task, Outcome: OutcomeRejected, Stage: StageGate, Reason: reason})
	}

	rec := &store.StoreRecord{
		IdentityURL:             task.IdentityURL,
		DisplayName:             meta.displayName,
		Country:                 meta.country,
		Theme:                   meta.theme,
		BusinessModel:           cls.BusinessModel,
		BusinessModelConfidence: cls.Confidence,
		Tags:                    cls.Tags,
		ProductCount:            meta.productCount,
		IsActive:                true,
		SourceName:              task.Source.SourceName,
	}
	return p.logged(Result{Task: task, Outcome: OutcomeAccepted, Record: rec, NeedsReclassify: needsReclassify})
}

func (p *Pipeline) logged(r Result) Result {
	switch r.Outcome {
	case OutcomeAccepted:
		p.logger.Debug("accepted", "url", r.Task.IdentityURL, "mode", r.Task.Mode.String())
	default:
		p.logger.Debug(r.Outcome.String(), "url", r.Task.IdentityURL, "stage", r.Stage, "reason", r.Reason)
	}
	return r
}
