package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// fastPacer removes real sleeps from adapter tests.
func fastPacer(p *Pacer) {
	p.sleep = func(context.Context, time.Duration) error { return nil }
	p.limiter.SetLimit(1e6)
}

func testFetcher() *fetch.Fetcher {
	return fetch.New(fetch.Config{Timeout: 2 * time.Second})
}

func TestCertLog_NewEntriesBecomeCandidates(t *testing.T) {
	// WHAT: CT entries past the cursor ID yield one candidate per hostname;
	// a malformed entry is skipped and counted, not fatal.
	// WHY: One bad upstream record must never abort the adapter.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 10, "name_value": "old.mystorefront.shop", "not_before": "2026-01-01"},
			{"id": 20, "name_value": "kicks.mystorefront.shop\nlaces.mystorefront.shop", "not_before": "2026-08-01"},
			{"id": 21, "name_value": ""},
			{"id": 22, "name_value": "*.mystorefront.shop"}
		]`))
	}))
	defer srv.Close()

	a := NewCertLogAdapter(CertLogConfig{Endpoint: srv.URL}, "mystorefront.shop", testFetcher(), slog.Default())
	fastPacer(a.pacer)

	page, err := a.Fetch(context.Background(), "10")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Candidates) != 2 {
		t.Fatalf("candidates: got %d (%+v)", len(page.Candidates), page.Candidates)
	}
	if page.Candidates[0].SourceName != "certlog" {
		t.Errorf("source name: %q", page.Candidates[0].SourceName)
	}
	if page.DataErrors != 1 {
		t.Errorf("data errors: got %d, want 1", page.DataErrors)
	}
	if page.NextCursor != "22" {
		t.Errorf("cursor should advance to max ID, got %q", page.NextCursor)
	}
	if !page.Exhausted {
		t.Error("certlog pages exhaust in one call")
	}
}

func TestCertLog_ThrottleKeepsCursor(t *testing.T) {
	// WHAT: A 429 returns a throttled page with the cursor unchanged and
	// opens the pacer's backoff window.
	// WHY: A throttled adapter must resume from its own persisted state.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(429)
	}))
	defer srv.Close()

	a := NewCertLogAdapter(CertLogConfig{Endpoint: srv.URL}, "mystorefront.shop", testFetcher(), slog.Default())
	fastPacer(a.pacer)

	page, err := a.Fetch(context.Background(), "42")
	if err != nil {
		t.Fatalf("throttle must not be an error: %v", err)
	}
	if !page.Throttled {
		t.Error("page should be marked throttled")
	}
	if page.NextCursor != "42" {
		t.Errorf("cursor must be retained, got %q", page.NextCursor)
	}
	if _, window := a.pacer.Snapshot(); window == 0 {
		t.Error("backoff window should be open")
	}
	if page.RetryAfter != time.Minute {
		t.Errorf("retry-after: got %v", page.RetryAfter)
	}
}

func TestCertLog_TransportErrorPropagates(t *testing.T) {
	// WHAT: A network failure returns an error (the run driver counts it).
	// WHY: Transport errors are recoverable but must be visible in the report.
	a := NewCertLogAdapter(CertLogConfig{Endpoint: "http://127.0.0.1:1"}, "mystorefront.shop",
		fetch.New(fetch.Config{Timeout: 200 * time.Millisecond}), slog.Default())
	fastPacer(a.pacer)

	if _, err := a.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected transport error")
	}
}
