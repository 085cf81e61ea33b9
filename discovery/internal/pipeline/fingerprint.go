package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// fingerprint decides platform membership. Hosts under the hosted suffix are
// members by construction. Custom domains must show the platform response
// header or one of the HTML markers. A URL that answers cleanly but shows
// neither is permanently rejected; one that cannot be reached, or answers
// with a server error, is deferred.
func (p *Pipeline) fingerprint(ctx context.Context, task dedup.Task, state *probeState) *Result {
	u, err := url.Parse(task.IdentityURL)
	if err != nil || u.Host == "" {
		return &Result{Task: task, Outcome: OutcomeRejected, Stage: StageFingerprint, Reason: "unparseable url"}
	}
	if p.cfg.HostedSuffix != "" && strings.HasSuffix(u.Host, "."+p.cfg.HostedSuffix) {
		return nil
	}

	res, err := p.fetcher.Get(ctx, task.IdentityURL, nil)
	state.home = res
	if err != nil {
		if errors.Is(err, fetch.ErrThrottled) {
			return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageFingerprint, Reason: "throttled"}
		}
		if res == nil {
			return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageFingerprint, Reason: "unreachable"}
		}
		// Non-2xx with a response: membership may still be provable from
		// headers; the access stage judges the status.
	}

	if p.cfg.PlatformHeader != "" && res.Header.Get(p.cfg.PlatformHeader) != "" {
		return nil
	}
	body := string(res.Body)
	for _, marker := range p.cfg.PlatformMarkers {
		if marker != "" && strings.Contains(body, marker) {
			return nil
		}
	}
	if res.StatusCode >= 500 {
		// An error page hides the markers without disproving membership.
		return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageFingerprint, Reason: "server error"}
	}
	return &Result{Task: task, Outcome: OutcomeRejected, Stage: StageFingerprint, Reason: "not on platform"}
}
