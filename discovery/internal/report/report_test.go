package report

import (
	"sync"
	"testing"
)

func TestReporter_AccumulatesAndFinalizes(t *testing.T) {
	// WHAT: Counters land in the right buckets and Finalize stamps status
	// and end time.
	rp := NewReporter("run_1", "fast")

	rp.Source("certlog", 10, 2)
	rp.Source("certlog", 5, 0)
	rp.Source("archive", 3, 0)
	rp.SourceThrottled("archive")
	rp.SourceError("serp")
	rp.Accepted(true)
	rp.Accepted(true)
	rp.Accepted(false)
	rp.Rejected("fingerprint")
	rp.Rejected("gate")
	rp.Deferred("access")
	rp.Dedup(4, 7)

	got := rp.Finalize("completed")
	if got.Status != "completed" || got.FinishedAt.Before(got.StartedAt) {
		t.Fatalf("status %q finished %v", got.Status, got.FinishedAt)
	}
	if got.TotalCandidates != 18 {
		t.Errorf("total: %d", got.TotalCandidates)
	}
	if got.PerSource["certlog"].Candidates != 15 || got.PerSource["certlog"].DataErrors != 2 {
		t.Errorf("certlog: %+v", got.PerSource["certlog"])
	}
	if got.PerSource["archive"].Throttles != 1 {
		t.Errorf("archive: %+v", got.PerSource["archive"])
	}
	if got.Errors != 1 {
		t.Errorf("errors: %d", got.Errors)
	}
	if got.NewStores != 2 || got.Refreshed != 1 || got.Rejected != 2 || got.Deferred != 1 {
		t.Errorf("verdicts: %+v", got)
	}
	if got.PerStage["fingerprint"] != 1 || got.PerStage["access"] != 1 || got.PerStage["gate"] != 1 {
		t.Errorf("per stage: %v", got.PerStage)
	}
	if got.InRunDupes != 4 || got.FreshSkipped != 7 {
		t.Errorf("dedup: %d/%d", got.InRunDupes, got.FreshSkipped)
	}
}

func TestReporter_FinalizeDetachesMaps(t *testing.T) {
	// WHAT: Mutating the reporter after Finalize does not change the
	// returned report.
	rp := NewReporter("run_1", "deep")
	rp.Rejected("gate")
	got := rp.Finalize("completed")
	rp.Rejected("gate")
	if got.PerStage["gate"] != 1 {
		t.Errorf("report mutated after finalize: %v", got.PerStage)
	}
}

func TestReporter_ConcurrentUpdates(t *testing.T) {
	// WHAT: Parallel workers reporting verdicts do not lose counts.
	rp := NewReporter("run_1", "fast")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				rp.Accepted(true)
				rp.Deferred("access")
			}
		}()
	}
	wg.Wait()

	got := rp.Finalize("completed")
	if got.NewStores != 800 || got.Deferred != 800 {
		t.Errorf("new %d deferred %d", got.NewStores, got.Deferred)
	}
}
