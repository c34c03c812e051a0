package reviewer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/tribunal/pkg/audit"
)

var (
	stateRigor  = audit.Criterion{ID: "state_rigor", Name: "State Management Rigor", WeightClass: audit.WeightClassStandard}
	safeTooling = audit.Criterion{ID: "safe_tooling", Name: "Safe Tool Engineering", WeightClass: audit.WeightClassSecuritySensitive}
)

func ev(criterion, locator string, found bool, flags ...audit.Flag) audit.Evidence {
	return audit.Evidence{
		ID:         audit.NewEvidenceID(criterion, "test", locator, "check"),
		Criterion:  criterion,
		Source:     "test",
		Locator:    locator,
		Goal:       "check",
		Found:      found,
		Confidence: 0.9,
		Flags:      flags,
	}
}

func stateWith(evidence ...audit.Evidence) audit.RunState {
	target := audit.Target{RepoURL: "https://example.com/repo.git", DocPath: "report.md"}
	return audit.NewRunState("run-1", target, []audit.Criterion{stateRigor, safeTooling}, time.Unix(0, 0)).
		WithEvidence(evidence...)
}

func reviewAll(t *testing.T, state audit.RunState) map[audit.Role]audit.Opinion {
	t.Helper()
	out := make(map[audit.Role]audit.Opinion)
	for _, role := range audit.Roles {
		opinions, err := NewStanceReviewer(role).Review(context.Background(), state)
		require.NoError(t, err)
		require.Len(t, opinions, 1)
		assert.Equal(t, role, opinions[0].Role)
		require.NoError(t, opinions[0].Validate())
		for _, id := range opinions[0].CitedEvidence {
			assert.True(t, state.Evidence().Has(id), "%s cites unknown evidence %s", role, id)
		}
		out[role] = opinions[0]
	}
	return out
}

func TestStanceReviewer_AllChecksHold(t *testing.T) {
	state := stateWith(ev("state_rigor", "a", true), ev("state_rigor", "b", true))

	opinions := reviewAll(t, state)

	assert.Equal(t, 5, opinions[audit.RoleProsecutor].Score)
	assert.Equal(t, 5, opinions[audit.RoleDefense].Score)
	assert.Equal(t, 5, opinions[audit.RoleTechLead].Score)
	assert.Len(t, opinions[audit.RoleProsecutor].CitedEvidence, 2)
}

func TestStanceReviewer_PartialEvidence(t *testing.T) {
	held := ev("state_rigor", "a", true)
	missing := ev("state_rigor", "b", false)
	state := stateWith(held, missing)

	opinions := reviewAll(t, state)

	assert.Equal(t, 2, opinions[audit.RoleProsecutor].Score)
	assert.Equal(t, []string{missing.ID}, opinions[audit.RoleProsecutor].CitedEvidence)
	assert.Equal(t, 4, opinions[audit.RoleDefense].Score)
	assert.Equal(t, []string{held.ID}, opinions[audit.RoleDefense].CitedEvidence)
	assert.Equal(t, 3, opinions[audit.RoleTechLead].Score)
	assert.ElementsMatch(t, []string{held.ID, missing.ID}, opinions[audit.RoleTechLead].CitedEvidence)
}

func TestStanceReviewer_SecurityViolation(t *testing.T) {
	state := stateWith(
		ev("safe_tooling", "sandbox", true),
		ev("safe_tooling", "os.system", false, audit.FlagSecurityViolation),
	)

	opinions := reviewAll(t, state)

	assert.Equal(t, 1, opinions[audit.RoleProsecutor].Score)
	assert.Equal(t, 3, opinions[audit.RoleDefense].Score)
	assert.Equal(t, 2, opinions[audit.RoleTechLead].Score)
}

func TestStanceReviewer_DefenseCitesNothingWhenNothingFound(t *testing.T) {
	state := stateWith(ev("state_rigor", "a", false))

	opinions := reviewAll(t, state)

	assert.Equal(t, 2, opinions[audit.RoleDefense].Score)
	assert.Empty(t, opinions[audit.RoleDefense].CitedEvidence)
	assert.Equal(t, 1, opinions[audit.RoleProsecutor].Score)
	assert.Equal(t, 1, opinions[audit.RoleTechLead].Score)
}

func TestStanceReviewer_SkipsCriteriaWithoutEvidence(t *testing.T) {
	state := stateWith(ev("state_rigor", "a", true))

	opinions, err := NewStanceReviewer(audit.RoleTechLead).Review(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, opinions, 1)
	assert.Equal(t, "state_rigor", opinions[0].Criterion)
}

func TestStanceReviewer_Deterministic(t *testing.T) {
	state := stateWith(ev("state_rigor", "a", true), ev("state_rigor", "b", false), ev("safe_tooling", "c", true))
	r := NewStanceReviewer(audit.RoleProsecutor)

	first, err := r.Review(context.Background(), state)
	require.NoError(t, err)
	second, err := r.Review(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStanceReviewer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStanceReviewer(audit.RoleDefense).Review(ctx, stateWith(ev("state_rigor", "a", true)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStanceReviewer_UnknownRole(t *testing.T) {
	judge := NewStanceReviewer(audit.Role("Judge"))
	state := stateWith(ev("state_rigor", "a", true))

	_, err := judge.Review(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reviewer role")

	assert.Panics(t, func() {
		judge.score(stateRigor, state.Evidence().ForCriterion(stateRigor.ID))
	})
}
