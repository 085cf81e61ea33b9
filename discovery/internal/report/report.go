// Package report accumulates per-run counters and freezes them into an
// immutable run report when the run ends.
package report

import (
	"sync"
	"time"
)

// SourceStats counts one adapter's contribution to a run.
type SourceStats struct {
	Candidates int `json:"candidates"`
	DataErrors int `json:"data_errors"`
	Throttles  int `json:"throttles"`
	Errors     int `json:"errors"`
}

// RunReport is the finalized summary of one discovery run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Cadence    string    `json:"cadence"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	TotalCandidates int `json:"total_candidates"`
	NewStores       int `json:"new_stores"`
	Refreshed       int `json:"refreshed"`
	Rejected        int `json:"rejected"`
	Deferred        int `json:"deferred"`
	Errors          int `json:"errors"`
	InRunDupes      int `json:"in_run_dupes"`
	FreshSkipped    int `json:"fresh_skipped"`

	PerSource map[string]SourceStats `json:"per_source"`
	// PerStage counts rejections and deferrals by the pipeline stage that
	// decided them.
	PerStage map[string]int `json:"per_stage"`
}

// Reporter collects counters while a run is in flight. Safe for concurrent
// use; Finalize returns a snapshot and the Reporter should not be reused.
type Reporter struct {
	mu sync.Mutex
	r  RunReport
}

// NewReporter starts counting for a run.
func NewReporter(runID, cadence string) *Reporter {
	return &Reporter{r: RunReport{
		RunID:     runID,
		Cadence:   cadence,
		StartedAt: time.Now(),
		PerSource: make(map[string]SourceStats),
		PerStage:  make(map[string]int),
	}}
}

// Source adds an adapter page's candidate and data-error counts.
func (rp *Reporter) Source(name string, candidates, dataErrors int) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	s := rp.r.PerSource[name]
	s.Candidates += candidates
	s.DataErrors += dataErrors
	rp.r.PerSource[name] = s
	rp.r.TotalCandidates += candidates
}

// SourceThrottled notes an upstream throttle signal.
func (rp *Reporter) SourceThrottled(name string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	s := rp.r.PerSource[name]
	s.Throttles++
	rp.r.PerSource[name] = s
}

// SourceError notes a failed adapter fetch.
func (rp *Reporter) SourceError(name string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	s := rp.r.PerSource[name]
	s.Errors++
	rp.r.PerSource[name] = s
	rp.r.Errors++
}

// Accepted tallies a validated candidate as created or refreshed.
func (rp *Reporter) Accepted(created bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if created {
		rp.r.NewStores++
	} else {
		rp.r.Refreshed++
	}
}

// Rejected tallies a permanent rejection at a stage.
func (rp *Reporter) Rejected(stage string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.r.Rejected++
	rp.r.PerStage[stage]++
}

// Deferred tallies a transient deferral at a stage.
func (rp *Reporter) Deferred(stage string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.r.Deferred++
	rp.r.PerStage[stage]++
}

// Error tallies a processing error outside the pipeline verdicts.
func (rp *Reporter) Error() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.r.Errors++
}

// Dedup records what the deduplicator dropped.
func (rp *Reporter) Dedup(inRunDupes, freshSkipped int) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.r.InRunDupes = inRunDupes
	rp.r.FreshSkipped = freshSkipped
}

// Finalize stamps the end time and status and returns a copy with its own
// maps, detached from the Reporter.
func (rp *Reporter) Finalize(status string) *RunReport {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	out := rp.r
	out.Status = status
	out.FinishedAt = time.Now()
	out.PerSource = make(map[string]SourceStats, len(rp.r.PerSource))
	for k, v := range rp.r.PerSource {
		out.PerSource[k] = v
	}
	out.PerStage = make(map[string]int, len(rp.r.PerStage))
	for k, v := range rp.r.PerStage {
		out.PerStage[k] = v
	}
	return &out
}
