package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestArchive_PaginatesByOffset(t *testing.T) {
	// WHAT: Full pages advance the offset cursor; a short page exhausts.
	// WHY: Pagination within one adapter is strictly sequential.
	var gotOffsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		gotOffsets = append(gotOffsets, offset)
		switch offset {
		case "0":
			json.NewEncoder(w).Encode([][]string{
				{"original", "timestamp"},
				{"https://a.mystorefront.shop/", "20260801000000"},
				{"https://b.mystorefront.shop/", "20260802000000"},
			})
		default:
			json.NewEncoder(w).Encode([][]string{
				{"original", "timestamp"},
				{"https://c.mystorefront.shop/", "20260803000000"},
			})
		}
	}))
	defer srv.Close()

	a := NewArchiveAdapter(ArchiveConfig{Endpoint: srv.URL, PageSize: 2}, "mystorefront.shop", testFetcher(), slog.Default())
	fastPacer(a.pacer)
	ctx := context.Background()

	p1, err := a.Fetch(ctx, "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.Candidates) != 2 || p1.Exhausted {
		t.Fatalf("page 1: %d candidates, exhausted=%v", len(p1.Candidates), p1.Exhausted)
	}
	if p1.NextCursor != "2" {
		t.Fatalf("cursor: got %q, want 2", p1.NextCursor)
	}

	p2, err := a.Fetch(ctx, p1.NextCursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(p2.Candidates) != 1 || !p2.Exhausted {
		t.Fatalf("page 2: %d candidates, exhausted=%v", len(p2.Candidates), p2.Exhausted)
	}
	if gotOffsets[1] != "2" {
		t.Errorf("second request offset: %q", gotOffsets[1])
	}
	if p2.Candidates[0].Metadata["snapshot_ts"] != "20260803000000" {
		t.Errorf("snapshot metadata lost: %+v", p2.Candidates[0].Metadata)
	}
}

func TestArchive_MalformedRowsCounted(t *testing.T) {
	// WHAT: Empty rows are skipped and counted.
	// WHY: Archive indexes contain damaged rows routinely.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]string{
			{"original", "timestamp"},
			{},
			{"https://ok.mystorefront.shop/", "20260801000000"},
			{""},
		})
	}))
	defer srv.Close()

	a := NewArchiveAdapter(ArchiveConfig{Endpoint: srv.URL, PageSize: 100}, "mystorefront.shop", testFetcher(), slog.Default())
	fastPacer(a.pacer)

	page, err := a.Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Candidates) != 1 {
		t.Errorf("candidates: %d", len(page.Candidates))
	}
	if page.DataErrors != 2 {
		t.Errorf("data errors: got %d, want 2", page.DataErrors)
	}
}
