package docket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/tribunal/pkg/audit"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testReport(runID string, finished time.Time, score float64) *audit.Report {
	return &audit.Report{
		RunID:      runID,
		Target:     audit.Target{RepoURL: "https://example.com/repo.git", DocPath: "report.md"},
		Route:      audit.RouteReview,
		StartedAt:  finished.Add(-time.Minute).UTC(),
		FinishedAt: finished.UTC(),
		Verdicts: []audit.Verdict{{
			Criterion:  audit.Criterion{ID: "state_rigor", Name: "State Management Rigor", WeightClass: audit.WeightClassStandard},
			FinalScore: score,
			FiredRule:  audit.RuleDefault,
			RoleScores: map[audit.Role]int{audit.RoleProsecutor: 2, audit.RoleDefense: 5},
			Dissent:    true,
			Status:     audit.VerdictStatusOK,
		}},
		AggregateScore: score,
		Failures:       []audit.Failure{{Kind: audit.FailureKindReviewer, Stage: "review", Task: "TechLead", Reason: "timeout"}},
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test", client.namespace)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})

	t.Run("rejects malformed URL", func(t *testing.T) {
		_, err := NewClientFromURL("http://nope", "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})

	t.Run("accepts redis URL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr()+"/0", "test")
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))
	})
}

func TestSaveAndGetReport(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	report := testReport("11111111-2222-3333-4444-555555555555", time.UnixMilli(1_700_000_000_000), 3.5)

	require.NoError(t, client.SaveReport(ctx, report))

	got, err := client.GetReport(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report, got)

	assert.Equal(t, "3.50", mr.HGet(RunKey("test", report.RunID), "aggregate_score"))
	assert.Equal(t, "1", mr.HGet(RunKey("test", report.RunID), "dissent_count"))

	exists, err := client.RunExists(ctx, report.RunID)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("save is idempotent", func(t *testing.T) {
		require.NoError(t, client.SaveReport(ctx, report))
		runs, err := client.ListRuns(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("missing run", func(t *testing.T) {
		_, err := client.GetReport(ctx, "does-not-exist")
		assert.True(t, IsNotFound(err))

		exists, err := client.RunExists(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("rejects report without run ID", func(t *testing.T) {
		assert.Error(t, client.SaveReport(ctx, &audit.Report{}))
		assert.Error(t, client.SaveReport(ctx, nil))
	})
}

func TestListRuns(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, client.SaveReport(ctx, testReport(id, base.Add(time.Duration(i)*time.Hour), float64(i+2))))
	}

	t.Run("newest first", func(t *testing.T) {
		runs, err := client.ListRuns(ctx, ListOptions{})
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "run-c", runs[0].RunID)
		assert.Equal(t, "run-a", runs[2].RunID)
		assert.Equal(t, 4.0, runs[0].AggregateScore)
		assert.Equal(t, 1, runs[0].FailureCount)
		assert.Equal(t, "https://example.com/repo.git + report.md", runs[0].Target)
	})

	t.Run("time window", func(t *testing.T) {
		runs, err := client.ListRuns(ctx, ListOptions{
			SinceMs: base.Add(30 * time.Minute).UnixMilli(),
			UntilMs: base.Add(90 * time.Minute).UnixMilli(),
		})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "run-b", runs[0].RunID)
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := client.ListRuns(ctx, ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-c", runs[0].RunID)
	})

	t.Run("empty namespace", func(t *testing.T) {
		other, err := NewClient(&redis.Options{Addr: client.rdb.Options().Addr}, "other")
		require.NoError(t, err)
		defer other.Close()

		runs, err := other.ListRuns(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestListRuns_SkipsDeletedRuns(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SaveReport(ctx, testReport("run-a", time.UnixMilli(1000), 3)))
	require.NoError(t, client.SaveReport(ctx, testReport("run-b", time.UnixMilli(2000), 3)))
	mr.Del(RunKey("test", "run-a"))

	runs, err := client.ListRuns(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-b", runs[0].RunID)
}

func TestScanRuns(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for _, id := range []string{"abc12300-0000", "abc12399-0000", "def45600-0000"} {
		require.NoError(t, client.SaveReport(ctx, testReport(id, time.UnixMilli(1000), 3)))
	}

	matches, err := client.ScanRuns(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc12300-0000", "abc12399-0000"}, matches)

	matches, err = client.ScanRuns(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSubscribeRunEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeRunEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	report := testReport("run-live", time.UnixMilli(5000), 4)
	require.NoError(t, client.SaveReport(ctx, report))

	select {
	case summary := <-sub.Events():
		assert.Equal(t, report.Summary(), summary)
	case <-ctx.Done():
		t.Fatal("timed out waiting for run event")
	}

	t.Run("malformed payload reported on errors channel", func(t *testing.T) {
		require.NoError(t, client.rdb.Publish(ctx, RunEventsChannel("test"), "not-json").Err())

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal run event")
		case <-ctx.Done():
			t.Fatal("timed out waiting for error")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		assert.NoError(t, sub.Close())
		assert.NoError(t, sub.Close())
	})
}
