package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kelarsco/sneaklink/dbopen"
	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
	"github.com/kelarsco/sneaklink/discovery/internal/source"
)

const shopHTML = `<html><head><title>Kicks Club</title>
<meta property="og:locale" content="en_US">
</head><body><p>Free shipping. Add to cart and checkout now.</p></body></html>`

// platformWorld is one TLS server playing both roles: a CT log frontend at
// /ct and a storefront everywhere else. One server means one transport that
// the fetcher can be pointed at.
func platformWorld(t *testing.T, products int, shopStatus int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ct" {
			fmt.Fprintf(w, `[{"id":1,"name_value":"%s","not_before":"2026-08-01"}]`, srv.URL)
			return
		}
		w.Header().Set("X-Storefront-Id", "shop_123")
		if strings.HasSuffix(r.URL.Path, "/products.json") {
			fmt.Fprint(w, `{"products":[`)
			for i := range products {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"id":%d}`, i)
			}
			fmt.Fprint(w, `]}`)
			return
		}
		if shopStatus != 200 {
			w.WriteHeader(shopStatus)
			return
		}
		fmt.Fprint(w, shopHTML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testService(t *testing.T, srv *httptest.Server, tweak func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Fetch: fetch.Config{
			Timeout:   2 * time.Second,
			Transport: srv.Client().Transport,
		},
		Sources: source.Config{
			HostedSuffix: "mystorefront.shop",
			Enabled: map[string]bool{
				"certlog": true, "archive": false, "probe": false,
				"serp": false, "adlibrary": false,
			},
			CertLog: source.CertLogConfig{Endpoint: srv.URL + "/ct"},
		},
		InterAdapterDelay: time.Millisecond,
		RetryBase:         time.Hour,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	svc, err := New(dbopen.OpenMemory(t), cfg, slog.Default())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRunOnce_CreatesRecordAndReport(t *testing.T) {
	// WHAT: A full cycle: the CT adapter surfaces the shop, the pipeline
	// validates it, the store gets one record and the report adds up.
	srv := platformWorld(t, 12, 200)
	svc := testService(t, srv, nil)
	ctx := context.Background()

	if err := svc.RunOnce(ctx, "fast"); err != nil {
		t.Fatalf("run: %v", err)
	}

	records, err := svc.ListStores(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records: %d", len(records))
	}
	rec := records[0]
	if rec.ProductCount != 12 || !rec.IsActive || rec.SourceName != "certlog" {
		t.Errorf("record: %+v", rec)
	}
	if rec.DisplayName != "Kicks Club" {
		t.Errorf("display name: %q", rec.DisplayName)
	}

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || st.LastReport == nil {
		t.Fatalf("status: %+v", st)
	}
	if st.LastReport.NewStores != 1 || st.LastReport.TotalCandidates != 1 {
		t.Errorf("report: %+v", st.LastReport)
	}
	if st.LastReport.PerSource["certlog"].Candidates != 1 {
		t.Errorf("per source: %+v", st.LastReport.PerSource)
	}
}

func TestRunOnce_SecondPassIsIdempotent(t *testing.T) {
	// WHAT: Running twice over an unchanged world yields one record per
	// identity URL; operator-locked classification survives the refresh.
	// WHY: Identity uniqueness plus the tags lock are the two durability
	// promises the pipeline makes.
	srv := platformWorld(t, 12, 200)
	svc := testService(t, srv, func(cfg *Config) {
		// Everything is instantly stale, so rediscovery refreshes.
		cfg.StalenessThreshold = time.Millisecond
	})
	ctx := context.Background()

	if err := svc.RunOnce(ctx, "fast"); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	records, _ := svc.ListStores(ctx, 10)
	if len(records) != 1 {
		t.Fatalf("records after run 1: %d", len(records))
	}
	url := records[0].IdentityURL

	if err := svc.LockTags(ctx, url, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := svc.db.ExecContext(ctx,
		`UPDATE stores SET business_model = 'artisan', business_model_confidence = 0.99 WHERE identity_url = ?`,
		url); err != nil {
		t.Fatalf("operator edit: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := svc.RunOnce(ctx, "fast"); err != nil {
		t.Fatalf("run 2: %v", err)
	}

	records, _ = svc.ListStores(ctx, 10)
	if len(records) != 1 {
		t.Fatalf("records after run 2: %d", len(records))
	}
	rec := records[0]
	if rec.BusinessModel != "artisan" || rec.BusinessModelConfidence != 0.99 {
		t.Errorf("locked fields overwritten: %q %v", rec.BusinessModel, rec.BusinessModelConfidence)
	}
	if rec.ProductCount != 12 {
		t.Errorf("unlocked fields should refresh: %+v", rec)
	}

	st, _ := svc.Status(ctx)
	if st.LastReport.NewStores != 0 || st.LastReport.Refreshed != 1 {
		t.Errorf("second run report: %+v", st.LastReport)
	}
}

func TestRunOnce_GatedShopRejectedNotPersisted(t *testing.T) {
	// WHAT: A password-gated shop produces no record, a durable rejection
	// log entry and a rejected event, and no retry state.
	srv := platformWorld(t, 12, 403)
	svc := testService(t, srv, nil)
	ctx := context.Background()

	if err := svc.RunOnce(ctx, "fast"); err != nil {
		t.Fatalf("run: %v", err)
	}

	records, _ := svc.ListStores(ctx, 10)
	if len(records) != 0 {
		t.Fatalf("records: %d", len(records))
	}
	rejections, err := svc.RecentRejections(ctx, 10)
	if err != nil {
		t.Fatalf("rejections: %v", err)
	}
	if len(rejections) != 1 || rejections[0].Stage != "access" || rejections[0].Reason != "gated" {
		t.Fatalf("rejections: %+v", rejections)
	}

	select {
	case e := <-svc.Events():
		if e.Type != EventRejected || e.Stage != "access" {
			t.Errorf("event: %+v", e)
		}
	default:
		t.Error("no rejection event published")
	}

	st, _ := svc.Status(ctx)
	if st.PendingCount != 0 {
		t.Errorf("gated shops must not be retried, pending=%d", st.PendingCount)
	}
}

func TestRunOnce_TransientFailureDefers(t *testing.T) {
	// WHAT: A 5xx shop lands in the pending queue instead of the store.
	// WHY: Transient failures must survive restarts as deferred work, not
	// vanish with the run.
	srv := platformWorld(t, 12, 502)
	svc := testService(t, srv, nil)
	ctx := context.Background()

	if err := svc.RunOnce(ctx, "fast"); err != nil {
		t.Fatalf("run: %v", err)
	}
	records, _ := svc.ListStores(ctx, 10)
	if len(records) != 0 {
		t.Fatalf("records: %d", len(records))
	}
	st, _ := svc.Status(ctx)
	if st.PendingCount != 1 {
		t.Fatalf("pending: %d", st.PendingCount)
	}
	if st.LastReport.Deferred != 1 {
		t.Errorf("report: %+v", st.LastReport)
	}
}

func TestRunOnce_StoreUnavailableIsFatal(t *testing.T) {
	// WHAT: An unreachable repository aborts the run before any adapter is
	// invoked and surfaces the sentinel.
	srv := platformWorld(t, 12, 200)
	svc := testService(t, srv, nil)

	svc.db.Close()
	err := svc.RunOnce(context.Background(), "fast")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err: %v", err)
	}
}

func TestTriggerRun_ValidatesCadence(t *testing.T) {
	// WHAT: Unknown cadence names are rejected at the trigger surface.
	srv := platformWorld(t, 12, 200)
	svc := testService(t, srv, nil)

	if err := svc.TriggerRun("hourly"); err == nil {
		t.Fatal("unknown cadence accepted")
	}
}
