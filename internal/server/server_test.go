package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/tribunal/pkg/audit"
	"github.com/dyluth/tribunal/pkg/docket"
)

type fakeAuditor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeAuditor) Run(ctx context.Context, target audit.Target) (*audit.Report, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	finished := time.UnixMilli(1_700_000_000_000 + int64(n)).UTC()
	return &audit.Report{
		RunID:      []string{"", "aaaaaaaa-1111-2222-3333-444444444444", "aaaaaaab-1111-2222-3333-444444444444"}[min(int(n), 2)],
		Target:     target,
		Route:      audit.RouteReview,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Verdicts: []audit.Verdict{{
			Criterion:  audit.Criterion{ID: "state_rigor", Name: "State Management Rigor", WeightClass: audit.WeightClassStandard},
			FinalScore: 4,
			FiredRule:  audit.RuleDefault,
			RoleScores: map[audit.Role]int{audit.RoleTechLead: 4},
			Status:     audit.VerdictStatusOK,
		}},
		AggregateScore: 4,
	}, nil
}

func setupStore(t *testing.T) (*docket.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client, err := docket.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	t.Run("healthy without persistence", func(t *testing.T) {
		w := do(t, New(&fakeAuditor{}, nil).Handler(), http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Empty(t, resp.Redis)
	})

	t.Run("reports connected Redis", func(t *testing.T) {
		store, _ := setupStore(t)
		w := do(t, New(&fakeAuditor{}, store).Handler(), http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"redis":"connected"`)
	})

	t.Run("unhealthy when Redis unavailable", func(t *testing.T) {
		store, err := docket.NewClient(&redis.Options{
			Addr:         "localhost:9",
			DialTimeout:  50 * time.Millisecond,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
			MaxRetries:   -1,
		}, "test")
		require.NoError(t, err)
		defer store.Close()

		w := do(t, New(&fakeAuditor{}, store).Handler(), http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "disconnected", resp.Redis)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := do(t, New(&fakeAuditor{}, nil).Handler(), http.MethodPost, "/healthz", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestCreateAudit(t *testing.T) {
	t.Run("returns JSON report and saves it", func(t *testing.T) {
		store, _ := setupStore(t)
		auditor := &fakeAuditor{}
		h := New(auditor, store).Handler()

		w := do(t, h, http.MethodPost, "/audits", `{"repo_url":" ./agent ","doc_path":"report.md"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "true", w.Header().Get("X-Tribunal-Saved"))

		var rep audit.Report
		require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
		assert.Equal(t, "./agent", rep.Target.RepoURL)
		assert.Equal(t, 4.0, rep.AggregateScore)

		saved, err := store.GetReport(context.Background(), rep.RunID)
		require.NoError(t, err)
		assert.Equal(t, rep.RunID, saved.RunID)
	})

	t.Run("returns markdown when asked", func(t *testing.T) {
		h := New(&fakeAuditor{}, nil).Handler()
		w := do(t, h, http.MethodPost, "/audits", `{"repo_url":"./agent"}`, map[string]string{"Accept": "text/markdown"})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "text/markdown; charset=utf-8", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "# Audit Report")
		assert.Empty(t, w.Header().Get("X-Tribunal-Saved"))
	})

	t.Run("rejects empty target", func(t *testing.T) {
		auditor := &fakeAuditor{}
		w := do(t, New(auditor, nil).Handler(), http.MethodPost, "/audits", `{"repo_url":"  "}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "target needs a repository or a document")
		assert.Zero(t, auditor.calls.Load())
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		w := do(t, New(&fakeAuditor{}, nil).Handler(), http.MethodPost, "/audits", `{`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid request body")
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		body := `{"repo_url":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		w := do(t, New(&fakeAuditor{}, nil).Handler(), http.MethodPost, "/audits", body, nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("auditor error", func(t *testing.T) {
		w := do(t, New(&fakeAuditor{err: errors.New("bad target")}, nil).Handler(), http.MethodPost, "/audits", `{"doc_path":"x.md"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "bad target")
	})

	t.Run("report still returned when save fails", func(t *testing.T) {
		store, mr := setupStore(t)
		mr.Close()

		w := do(t, New(&fakeAuditor{}, store).Handler(), http.MethodPost, "/audits", `{"doc_path":"x.md"}`, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "false", w.Header().Get("X-Tribunal-Saved"))
	})
}

func TestGetAudit(t *testing.T) {
	store, _ := setupStore(t)
	auditor := &fakeAuditor{}
	h := New(auditor, store).Handler()

	// Two runs sharing the "aaaaaaa" prefix.
	for i := 0; i < 2; i++ {
		w := do(t, h, http.MethodPost, "/audits", `{"doc_path":"report.md"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	t.Run("full id", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/audits/aaaaaaaa-1111-2222-3333-444444444444", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rep audit.Report
		require.NoError(t, json.NewDecoder(w.Body).Decode(&rep))
		assert.Equal(t, "aaaaaaaa-1111-2222-3333-444444444444", rep.RunID)
	})

	t.Run("short id", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/audits/aaaaaaab", "", map[string]string{"Accept": "text/markdown"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "aaaaaaab-1111-2222-3333-444444444444")
	})

	t.Run("ambiguous id", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/audits/aaaaaaa", "", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/audits/ffffffff", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("too short", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/audits/aaa", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no persistence", func(t *testing.T) {
		w := do(t, New(auditor, nil).Handler(), http.MethodGet, "/audits/aaaaaaaa", "", nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})
}

func TestStartAndShutdown(t *testing.T) {
	s := New(&fakeAuditor{}, nil)
	require.NoError(t, s.Start("127.0.0.1:0"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	assert.NoError(t, New(&fakeAuditor{}, nil).Shutdown(ctx), "shutdown before start is a no-op")
}
