package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/manager"
	"github.com/psantana5/ffrec/pkg/metrics"
)

type fakeSession struct {
	tracked []manager.Tracked
	pending int
}

func (s fakeSession) Tracked() []manager.Tracked { return s.tracked }
func (s fakeSession) PendingTasks() int          { return s.pending }

type brokenLedger struct {
	ledger.Ledger
}

func (brokenLedger) HealthCheck(context.Context) error { return errors.New("database is locked") }

func (brokenLedger) List(context.Context, ledger.Filter) ([]*ledger.Entry, error) {
	return nil, errors.New("database is locked")
}

func newHandler(t *testing.T) (*Handler, ledger.Ledger) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, &ledger.Entry{ID: "a", SessionID: "s1", Kind: "startup", Outcome: ledger.OutcomeSaved, CreatedAt: base}))
	require.NoError(t, l.Record(ctx, &ledger.Entry{ID: "b", SessionID: "s1", Kind: "test", Outcome: ledger.OutcomeDiscarded, CreatedAt: base.Add(time.Second)}))
	require.NoError(t, l.Record(ctx, &ledger.Entry{ID: "c", SessionID: "s2", Kind: "test", Outcome: ledger.OutcomeSaved, CreatedAt: base.Add(2 * time.Second)}))

	return &Handler{
		Ledger:  l,
		Metrics: metrics.New(),
		Session: fakeSession{tracked: []manager.Tracked{{ID: "t1", Name: "startup"}}, pending: 2},
	}, l
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newHandler(t)
	rec := get(t, h.Router(), "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, HealthResponse{Status: "healthy", Ledger: "ok", Tracked: 1, PendingTasks: 2}, resp)
}

func TestHealthDegraded(t *testing.T) {
	h := &Handler{Ledger: brokenLedger{}}
	rec := get(t, h.Router(), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestListArtifacts(t *testing.T) {
	h, _ := newHandler(t)
	router := h.Router()

	tests := []struct {
		name  string
		query string
		ids   []string
	}{
		{"all", "", []string{"a", "b", "c"}},
		{"by session", "?session=s1", []string{"a", "b"}},
		{"by kind and outcome", "?kind=test&outcome=saved", []string{"c"}},
		{"limit", "?limit=1", []string{"a"}},
		{"none", "?session=missing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, "/artifacts"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				Artifacts []ledger.Entry `json:"artifacts"`
				Count     int            `json:"count"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

			ids := []string{}
			for _, e := range resp.Artifacts {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.ids, ids)
			assert.Equal(t, len(tt.ids), resp.Count)
		})
	}
}

func TestListArtifactsErrors(t *testing.T) {
	h, _ := newHandler(t)
	assert.Equal(t, http.StatusBadRequest, get(t, h.Router(), "/artifacts?limit=x").Code)

	broken := &Handler{Ledger: brokenLedger{}}
	assert.Equal(t, http.StatusInternalServerError, get(t, broken.Router(), "/artifacts").Code)

	none := &Handler{}
	assert.Equal(t, http.StatusNotFound, get(t, none.Router(), "/artifacts").Code)
}

func TestGetArtifact(t *testing.T) {
	h, _ := newHandler(t)
	router := h.Router()

	rec := get(t, router, "/artifacts/b")
	require.Equal(t, http.StatusOK, rec.Code)
	var e ledger.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.Equal(t, ledger.OutcomeDiscarded, e.Outcome)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/artifacts/zzz").Code)
}

func TestTrackedAndMetrics(t *testing.T) {
	h, _ := newHandler(t)
	h.Metrics.RecordingStarted("startup")
	router := h.Router()

	rec := get(t, router, "/tracked")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"t1"`)

	rec = get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ffrec_recordings_started_total{kind="startup"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newHandler(t)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/artifacts", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
