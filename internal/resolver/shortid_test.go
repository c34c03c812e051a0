package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	ids []string
	err error
}

func (f fakeRuns) RunExists(ctx context.Context, runID string) (bool, error) {
	for _, id := range f.ids {
		if id == runID {
			return true, f.err
		}
	}
	return false, f.err
}

func (f fakeRuns) ScanRuns(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, id := range f.ids {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, f.err
}

func TestResolveRunID(t *testing.T) {
	runs := fakeRuns{ids: []string{
		"abc12345-1111-2222-3333-444444444444",
		"abc12399-1111-2222-3333-444444444444",
		"def67890-1111-2222-3333-444444444444",
	}}
	ctx := context.Background()

	t.Run("full id", func(t *testing.T) {
		id, err := ResolveRunID(ctx, runs, runs.ids[2])
		require.NoError(t, err)
		assert.Equal(t, runs.ids[2], id)
	})

	t.Run("unknown full id", func(t *testing.T) {
		_, err := ResolveRunID(ctx, runs, "00000000-1111-2222-3333-444444444444")
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveRunID(ctx, runs, "def678")
		require.NoError(t, err)
		assert.Equal(t, runs.ids[2], id)
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		_, err := ResolveRunID(ctx, runs, "abc123")
		var amb *AmbiguousError
		require.ErrorAs(t, err, &amb)
		assert.Len(t, amb.Matches, 2)
		assert.Contains(t, FormatAmbiguousError(amb), "Use a longer prefix")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveRunID(ctx, runs, "ffffff")
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveRunID(ctx, runs, "abc")
		assert.ErrorContains(t, err, "at least 6 characters")
	})

	t.Run("lookup failure", func(t *testing.T) {
		_, err := ResolveRunID(ctx, fakeRuns{err: errors.New("redis down")}, "abc123")
		assert.ErrorContains(t, err, "redis down")
	})
}

func TestFormatAmbiguousError_Truncates(t *testing.T) {
	var matches []string
	for i := 0; i < 12; i++ {
		matches = append(matches, fmt.Sprintf("abc123%02d", i))
	}

	msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: matches})
	assert.Contains(t, msg, "matches 12 runs")
	assert.Contains(t, msg, "...and 2 more")
	assert.NotContains(t, msg, "abc12310")
}
