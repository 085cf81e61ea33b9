// Package discovery implements the continuous storefront discovery and
// validation service: priority-ordered source adapters feed candidates
// through normalization, deduplication and the five-stage validation
// pipeline into the SQLite store, driven by cadenced runs.
package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
	"github.com/kelarsco/sneaklink/discovery/internal/pending"
	"github.com/kelarsco/sneaklink/discovery/internal/pipeline"
	"github.com/kelarsco/sneaklink/discovery/internal/report"
	"github.com/kelarsco/sneaklink/discovery/internal/scheduler"
	"github.com/kelarsco/sneaklink/discovery/internal/source"
	"github.com/kelarsco/sneaklink/discovery/internal/store"
	"github.com/kelarsco/sneaklink/idgen"
)

// Service is the discovery orchestrator.
type Service struct {
	cfg      Config
	db       *sql.DB
	store    *store.Store
	fetcher  *fetch.Fetcher
	pipeline *pipeline.Pipeline
	pending  *pending.Queue
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	newID    func() string
	events   chan Event

	mu           sync.Mutex
	running      bool
	currentRunID string
	lastReport   *report.RunReport

	// adapters is the registry built from the latest config snapshot.
	// Pacer and cursor state is persisted per source, so rebuilding the
	// registry between runs loses nothing.
	adapters []source.Adapter
}

// New creates the Service and ensures the schema exists. The database is the
// one injectable dependency; everything else is built from config.
func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("discovery: apply schema: %w", err)
	}

	f := fetch.New(cfg.Fetch)
	svc := &Service{
		cfg:      cfg,
		db:       db,
		store:    store.NewStore(db),
		fetcher:  f,
		pipeline: pipeline.New(cfg.Pipeline, f, nil, logger),
		pending:  pending.New(db, cfg.Pending, logger),
		logger:   logger.With("service", "discovery"),
		newID:    idgen.New,
		events:   make(chan Event, 128),
	}
	if err := svc.pending.EnsureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("discovery: pending table: %w", err)
	}

	svc.sched = scheduler.New(cfg.Scheduler, svc.RunOnce, logger)
	return svc, nil
}

// Run drives the cadence loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.sched.Run(ctx)
}

// TriggerRun requests a manual run for a cadence.
func (s *Service) TriggerRun(cadence string) error {
	if !scheduler.Valid(cadence) {
		return fmt.Errorf("%w: %q", ErrUnknownCadence, cadence)
	}
	if !s.sched.Trigger(cadence) {
		return ErrTriggerQueued
	}
	return nil
}

// Status reports the current run state and aggregate store counters.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	pendingCount, err := s.pending.Len(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &Status{
		Running:      s.running,
		CurrentRunID: s.currentRunID,
		LastReport:   s.lastReport,
		Stats:        stats,
		PendingCount: pendingCount,
	}, nil
}

// ListStores returns the most recently validated records.
func (s *Service) ListStores(ctx context.Context, limit int) ([]*StoreRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListRecent(ctx, limit)
}

// RecentRuns returns finalized run records, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	return s.store.RecentRuns(ctx, limit)
}

// RecentRejections returns the rejection log, newest first.
func (s *Service) RecentRejections(ctx context.Context, limit int) ([]*Rejection, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.RecentRejections(ctx, limit)
}

// LockTags freezes or unfreezes a record's classification fields.
func (s *Service) LockTags(ctx context.Context, identityURL string, locked bool) error {
	return s.store.SetTagsLocked(ctx, NormalizeStoreURL(identityURL), locked)
}

// maxTierFor maps a cadence to the most expensive adapter tier it may use.
func maxTierFor(cadence string) source.Tier {
	switch cadence {
	case scheduler.CadenceDeep:
		return source.TierMetered
	case scheduler.CadenceComprehensive:
		return source.TierPaid
	default:
		return source.TierFree
	}
}

// RunOnce executes one full discovery cycle for a cadence. Only the fatal
// class of failures returns an error; everything else lands in the report.
func (s *Service) RunOnce(ctx context.Context, cadence string) error {
	if !scheduler.Valid(cadence) {
		return fmt.Errorf("%w: %q", ErrUnknownCadence, cadence)
	}

	runID := s.newID()
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.running = true
	s.currentRunID = runID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.currentRunID = ""
		s.mu.Unlock()
	}()

	// Repository reachability is the one fatal precondition: without it no
	// outcome could be persisted, so no adapter is invoked.
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.store.StartRun(ctx, runID, cadence); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logger := s.logger.With("run_id", runID, "cadence", cadence)
	logger.Info("run started")

	rep := report.NewReporter(runID, cadence)
	deduper := dedup.New(s.store, s.cfg.StalenessThreshold)
	quota := s.cfg.Scheduler.QuotaFor(cadence)

	candidates := s.gather(ctx, cadence, quota, deduper, rep, logger)
	tasks, err := deduper.Resolve(ctx, candidates)
	if err != nil {
		logger.Error("dedup resolve failed", "error", err)
		rep.Error()
	}

	claimed := map[string]bool{}
	tasks = append(tasks, s.claimDeferred(ctx, deduper, claimed, rep, logger)...)
	tasks = append(tasks, s.dueRefreshTasks(ctx, quota, deduper, logger)...)

	results := s.pipeline.Run(ctx, tasks)
	for _, res := range results {
		s.settle(ctx, runID, res, claimed, rep, logger)
	}

	counts := deduper.Counts()
	rep.Dedup(counts.InRunDupes, counts.FreshSkipped)

	status := "completed"
	if ctx.Err() != nil {
		status = "failed"
	}
	final := rep.Finalize(status)

	s.mu.Lock()
	s.lastReport = final
	s.mu.Unlock()

	if err := s.finishRun(ctx, final); err != nil {
		logger.Error("persisting run report failed", "error", err)
	}
	logger.Info("run finished", "status", status,
		"candidates", final.TotalCandidates, "new", final.NewStores,
		"refreshed", final.Refreshed, "rejected", final.Rejected,
		"deferred", final.Deferred, "errors", final.Errors)
	return nil
}

// gather walks the enabled adapters in priority order under the run quota,
// normalizing and in-run-deduplicating as pages arrive. Adapter cursor and
// backoff state is restored before and persisted after each adapter.
func (s *Service) gather(ctx context.Context, cadence string, quota int, deduper *dedup.Deduper, rep *report.Reporter, logger *slog.Logger) []dedup.Candidate {
	srcCfg := s.cfg.Sources
	if s.cfg.SourceConfigPath != "" {
		loaded, err := LoadSourceConfig(s.cfg.SourceConfigPath)
		if err != nil {
			logger.Warn("source config reload failed, keeping previous", "error", err)
		} else {
			srcCfg = loaded
			s.cfg.Sources = loaded
		}
	}
	s.adapters = source.BuildRegistry(srcCfg, s.fetcher, logger)

	maxTier := maxTierFor(cadence)
	var out []dedup.Candidate
	total := 0

	for i, a := range s.adapters {
		if a.Tier() > maxTier {
			continue
		}
		if total >= quota || ctx.Err() != nil {
			break
		}
		if i > 0 {
			// Fixed pacing between adapters so sources behind shared
			// infrastructure never see a correlated burst.
			if !sleepCtx(ctx, s.cfg.InterAdapterDelay) {
				break
			}
		}

		state := s.restoreAdapterState(ctx, a, logger)
		cursor := state.Cursor
		pages := 0

		for total < quota && ctx.Err() == nil {
			page, err := a.Fetch(ctx, cursor)
			if err != nil {
				rep.SourceError(a.Name())
				logger.Warn("adapter fetch failed", "adapter", a.Name(), "error", err)
				break
			}
			pages++

			kept := deduper.Filter(s.normalizePage(a.Name(), page, rep))
			out = append(out, kept...)
			total += len(page.Candidates)
			cursor = page.NextCursor

			if page.Throttled {
				rep.SourceThrottled(a.Name())
				logger.Info("adapter throttled, keeping partial results",
					"adapter", a.Name(), "retry_after", page.RetryAfter)
				break
			}
			if page.Exhausted {
				break
			}
		}

		state.Cursor = cursor
		state.RequestCount += pages
		s.persistAdapterState(ctx, a, state, logger)
	}
	return out
}

// normalizePage converts raw candidates to identity-keyed ones, dropping
// unparseable URLs as data errors.
func (s *Service) normalizePage(adapter string, page *source.Page, rep *report.Reporter) []dedup.Candidate {
	invalid := 0
	cands := make([]dedup.Candidate, 0, len(page.Candidates))
	for _, c := range page.Candidates {
		identity := NormalizeStoreURL(c.RawURL)
		if identity == InvalidIdentityURL {
			invalid++
			continue
		}
		cands = append(cands, dedup.Candidate{Source: c, IdentityURL: identity})
	}
	rep.Source(adapter, len(cands), page.DataErrors+invalid)
	return cands
}

func (s *Service) restoreAdapterState(ctx context.Context, a source.Adapter, logger *slog.Logger) *store.AdapterState {
	state, err := s.store.GetAdapterState(ctx, a.Name())
	if err != nil {
		logger.Warn("adapter state load failed, starting fresh", "adapter", a.Name(), "error", err)
		return &store.AdapterState{SourceName: a.Name()}
	}
	if paced, ok := a.(source.Paced); ok && state.BackoffUntil > 0 {
		paced.Pacer().Restore(time.UnixMilli(state.BackoffUntil), time.Duration(state.BackoffMs)*time.Millisecond)
	}
	return state
}

func (s *Service) persistAdapterState(ctx context.Context, a source.Adapter, state *store.AdapterState, logger *slog.Logger) {
	if paced, ok := a.(source.Paced); ok {
		until, window := paced.Pacer().Snapshot()
		if until.IsZero() {
			state.BackoffUntil = 0
		} else {
			state.BackoffUntil = until.UnixMilli()
		}
		state.BackoffMs = window.Milliseconds()
	}
	if state.WindowStart == 0 {
		state.WindowStart = time.Now().UnixMilli()
	}
	if err := s.store.PutAdapterState(ctx, state); err != nil {
		logger.Warn("adapter state save failed", "adapter", a.Name(), "error", err)
	}
}

// claimDeferred pulls candidates whose transient-failure deadline has
// passed and re-resolves them against the store.
func (s *Service) claimDeferred(ctx context.Context, deduper *dedup.Deduper, claimed map[string]bool, rep *report.Reporter, logger *slog.Logger) []dedup.Task {
	entries, err := s.pending.ClaimDue(ctx, 200)
	if err != nil {
		logger.Error("claiming deferred candidates failed", "error", err)
		rep.Error()
		return nil
	}

	var cands []dedup.Candidate
	for _, e := range entries {
		claimed[e.Candidate.IdentityURL] = true
		cands = append(cands, e.Candidate)
	}
	cands = deduper.Filter(cands)

	tasks, err := deduper.Resolve(ctx, cands)
	if err != nil {
		logger.Error("resolving deferred candidates failed", "error", err)
		rep.Error()
		return nil
	}

	// A deferred candidate that got validated through rediscovery in the
	// meantime resolves to nothing; its queue entry is finished.
	inTasks := map[string]bool{}
	for _, t := range tasks {
		inTasks[t.IdentityURL] = true
	}
	for url := range claimed {
		if !inTasks[url] {
			if err := s.pending.Ack(ctx, url); err != nil {
				logger.Warn("acking settled deferred candidate failed", "url", url, "error", err)
			}
		}
	}
	return tasks
}

// dueRefreshTasks turns records past their retry deadline or staleness
// window into refresh tasks.
func (s *Service) dueRefreshTasks(ctx context.Context, quota int, deduper *dedup.Deduper, logger *slog.Logger) []dedup.Task {
	records, err := s.store.DueForRetry(ctx, quota, s.cfg.StalenessThreshold)
	if err != nil {
		logger.Error("loading due records failed", "error", err)
		return nil
	}

	var cands []dedup.Candidate
	for _, rec := range records {
		cands = append(cands, dedup.Candidate{
			Source: source.Candidate{
				RawURL:       rec.IdentityURL,
				SourceName:   rec.SourceName,
				DiscoveredAt: time.Now(),
			},
			IdentityURL: rec.IdentityURL,
		})
	}

	var tasks []dedup.Task
	for _, c := range deduper.Filter(cands) {
		tasks = append(tasks, dedup.Task{Candidate: c, Mode: dedup.ModeRefresh})
	}
	return tasks
}

// settle persists one pipeline verdict: upsert, rejection log, retry
// scheduling and queue bookkeeping.
func (s *Service) settle(ctx context.Context, runID string, res pipeline.Result, claimed map[string]bool, rep *report.Reporter, logger *slog.Logger) {
	url := res.Task.IdentityURL

	switch res.Outcome {
	case pipeline.OutcomeAccepted:
		res.Record.ID = s.newID() // kept only on insert; a conflict returns the winner's ID
		created, err := s.store.Upsert(ctx, res.Record)
		if err != nil {
			logger.Error("upsert failed", "url", url, "error", err)
			rep.Error()
			return
		}
		rep.Accepted(created)
		if res.NeedsReclassify {
			if _, err := s.store.ScheduleReclassify(ctx, url, s.cfg.ReclassifyDelay, s.cfg.MaxReclassifyAttempts); err != nil {
				logger.Warn("scheduling reclassification failed", "url", url, "error", err)
			}
		}
		if claimed[url] {
			if err := s.pending.Ack(ctx, url); err != nil {
				logger.Warn("pending ack failed", "url", url, "error", err)
			}
		}
		s.emit(Event{Type: EventAccepted, RunID: runID, IdentityURL: url,
			SourceName: res.Task.Source.SourceName, Created: created})

	case pipeline.OutcomeRejected:
		rep.Rejected(res.Stage)
		rej := &store.Rejection{
			ID:          s.newID(),
			RunID:       runID,
			IdentityURL: url,
			SourceName:  res.Task.Source.SourceName,
			Stage:       res.Stage,
			Reason:      res.Reason,
		}
		if err := s.store.InsertRejection(ctx, rej); err != nil {
			logger.Warn("rejection log insert failed", "url", url, "error", err)
		}
		if res.Task.Mode == dedup.ModeRefresh {
			// The shop existed and now fails validation: keep the record
			// but mark it inactive.
			if err := s.store.Deactivate(ctx, url); err != nil {
				logger.Warn("deactivate failed", "url", url, "error", err)
			}
		}
		if claimed[url] {
			if err := s.pending.Ack(ctx, url); err != nil {
				logger.Warn("pending ack failed", "url", url, "error", err)
			}
		}
		s.emit(Event{Type: EventRejected, RunID: runID, IdentityURL: url,
			SourceName: res.Task.Source.SourceName, Stage: res.Stage, Reason: res.Reason})

	case pipeline.OutcomeDeferred:
		rep.Deferred(res.Stage)
		if res.Task.Mode == dedup.ModeRefresh {
			if err := s.store.ScheduleRetry(ctx, url, s.cfg.RetryBase, s.cfg.RetryCeiling); err != nil {
				logger.Warn("scheduling retry failed", "url", url, "error", err)
			}
			if claimed[url] {
				if err := s.pending.Ack(ctx, url); err != nil {
					logger.Warn("pending ack failed", "url", url, "error", err)
				}
			}
			return
		}
		if err := s.pending.Defer(ctx, res.Task.Candidate, s.cfg.RetryBase, s.cfg.RetryCeiling); err != nil {
			logger.Warn("deferring candidate failed", "url", url, "error", err)
		}
	}
}

func (s *Service) finishRun(ctx context.Context, final *report.RunReport) error {
	perSource, err := json.Marshal(final.PerSource)
	if err != nil {
		return err
	}
	perStage, err := json.Marshal(final.PerStage)
	if err != nil {
		return err
	}
	return s.store.FinishRun(ctx, &store.RunRecord{
		ID:              final.RunID,
		Status:          final.Status,
		TotalCandidates: final.TotalCandidates,
		TotalNew:        final.NewStores,
		TotalRefreshed:  final.Refreshed,
		TotalRejected:   final.Rejected,
		TotalDeferred:   final.Deferred,
		TotalErrors:     final.Errors,
		PerSourceJSON:   string(perSource),
		PerStageJSON:    string(perStage),
	})
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
