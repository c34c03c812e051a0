package engine

import "github.com/dyluth/tribunal/pkg/audit"

// Route decides where a run goes after the collect stage. Reviewers only run
// when there is at least one piece of evidence to review.
func Route(state audit.RunState) audit.Route {
	if state.HasEvidence() {
		return audit.RouteReview
	}
	return audit.RouteSynthesisDirect
}
