// Package dedup collapses discovery candidates to one validation task per
// identity URL: once within a run, and once against the repository.
package dedup

import (
	"context"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/source"
	"github.com/kelarsco/sneaklink/discovery/internal/store"
)

// Mode says what the pipeline should do with a task's outcome.
type Mode int

const (
	// ModeCreate inserts a new store record on acceptance.
	ModeCreate Mode = iota
	// ModeRefresh re-validates an existing record.
	ModeRefresh
)

func (m Mode) String() string {
	if m == ModeRefresh {
		return "refresh"
	}
	return "create"
}

// Candidate pairs a raw source candidate with its normalized identity URL.
type Candidate struct {
	Source      source.Candidate
	IdentityURL string
}

// Task is a deduplicated candidate bound for the validation pipeline.
type Task struct {
	Candidate
	Mode Mode
}

// Counts accumulates what the deduper dropped and why, for run reporting.
type Counts struct {
	InRunDupes   int // same identity URL from a later adapter in the same run
	FreshSkipped int // known record validated recently enough to skip
}

// Deduper filters candidates in two phases. Filter runs per adapter batch
// and keeps an in-run seen set, so the first adapter to surface a URL gets
// the attribution. Resolve runs against the repository and decides between
// create, refresh and drop.
type Deduper struct {
	store     *store.Store
	staleness time.Duration

	seen   map[string]struct{}
	counts Counts
}

// New creates a Deduper for a single run. Staleness is the validation age
// past which a known record is refreshed when rediscovered.
func New(st *store.Store, staleness time.Duration) *Deduper {
	return &Deduper{
		store:     st,
		staleness: staleness,
		seen:      make(map[string]struct{}),
	}
}

// Filter drops candidates whose identity URL already appeared this run and
// remembers the rest. Order within the batch is preserved.
func (d *Deduper) Filter(cands []Candidate) []Candidate {
	out := cands[:0:len(cands)]
	for _, c := range cands {
		if _, dup := d.seen[c.IdentityURL]; dup {
			d.counts.InRunDupes++
			continue
		}
		d.seen[c.IdentityURL] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Resolve turns filtered candidates into pipeline tasks. Unknown URLs become
// create tasks. Known URLs become refresh tasks when the record is due for
// one (retry scheduled, or last validation older than the staleness window)
// and are dropped otherwise.
func (d *Deduper) Resolve(ctx context.Context, cands []Candidate) ([]Task, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	urls := make([]string, len(cands))
	for i, c := range cands {
		urls[i] = c.IdentityURL
	}

	known, err := d.store.ExistsBatch(ctx, urls)
	if err != nil {
		return nil, err
	}
	var knownURLs []string
	for _, u := range urls {
		if known[u] {
			knownURLs = append(knownURLs, u)
		}
	}
	due := map[string]bool{}
	if len(knownURLs) > 0 {
		due, err = d.store.RefreshDueBatch(ctx, knownURLs, d.staleness)
		if err != nil {
			return nil, err
		}
	}

	tasks := make([]Task, 0, len(cands))
	for _, c := range cands {
		switch {
		case !known[c.IdentityURL]:
			tasks = append(tasks, Task{Candidate: c, Mode: ModeCreate})
		case due[c.IdentityURL]:
			tasks = append(tasks, Task{Candidate: c, Mode: ModeRefresh})
		default:
			d.counts.FreshSkipped++
		}
	}
	return tasks, nil
}

// Counts reports what was dropped so far.
func (d *Deduper) Counts() Counts { return d.counts }
