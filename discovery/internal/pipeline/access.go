package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/kelarsco/sneaklink/discovery/internal/dedup"
	"github.com/kelarsco/sneaklink/discovery/internal/fetch"
)

// access verifies the storefront is live and publicly reachable. Gated
// shops (auth required, or a redirect to the password page) are rejected
// outright: they exist but cannot be validated, and polling them would
// never converge. Server errors and timeouts defer instead.
func (p *Pipeline) access(ctx context.Context, task dedup.Task, state *probeState) *Result {
	if state.home == nil {
		res, err := p.fetcher.Get(ctx, task.IdentityURL, nil)
		state.home = res
		if err != nil {
			if errors.Is(err, fetch.ErrThrottled) {
				return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageAccess, Reason: "throttled"}
			}
			if res == nil {
				return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageAccess, Reason: "unreachable"}
			}
		}
	}

	res := state.home
	switch {
	case res.StatusCode == 401 || res.StatusCode == 403:
		return &Result{Task: task, Outcome: OutcomeRejected, Stage: StageAccess, Reason: "gated"}
	case p.cfg.PasswordPath != "" && strings.Contains(res.FinalURL, p.cfg.PasswordPath):
		return &Result{Task: task, Outcome: OutcomeRejected, Stage: StageAccess, Reason: "gated"}
	case res.StatusCode == 404 || res.StatusCode == 410:
		return &Result{Task: task, Outcome: OutcomeRejected, Stage: StageAccess, Reason: "gone"}
	case res.StatusCode >= 500:
		return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageAccess, Reason: "server error"}
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return &Result{Task: task, Outcome: OutcomeDeferred, Stage: StageAccess, Reason: "unexpected status"}
	}
	return nil
}
