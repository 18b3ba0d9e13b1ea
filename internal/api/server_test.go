package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsconvert/pkg/models"
)

type mockController struct {
	running   atomic.Bool
	cancelled atomic.Bool
}

func (m *mockController) CancelUpload()         { m.cancelled.Store(true) }
func (m *mockController) UploadCancelled() bool { return m.cancelled.Load() }
func (m *mockController) Running() bool         { return m.running.Load() }

type mockHistory struct {
	records []database.HistoryRecord
}

func (m *mockHistory) List() []database.HistoryRecord { return m.records }

func newTestServer(t *testing.T, cfg config.ServerConfig, ctrl Controller, history HistoryLister) (*Server, *Status) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	status := NewStatus()
	return NewServer(cfg, status, ctrl, history, nil), status
}

func do(s *Server, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{Host: "127.0.0.1", Port: 8080}, &mockController{}, nil)
	assert.Equal(t, "127.0.0.1:8080", s.Addr())

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestGetStatus(t *testing.T) {
	ctrl := &mockController{}
	ctrl.running.Store(true)
	s, status := newTestServer(t, config.ServerConfig{}, ctrl, nil)

	status.OnProgress(models.ProgressEvent{RunID: "run-1", File: "a.mp4", Stage: models.StageEncoding, Subject: "720p", Percent: 40, Overall: 20})
	status.OnFileDone("run-1", models.QueueResult{File: "a.mp4", Status: models.ResultStatusSuccess})

	w := do(s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.True(t, snap.Running)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, models.StageEncoding, snap.Progress.Stage)
	assert.Equal(t, 20.0, snap.Progress.Overall)
	assert.Len(t, snap.Results, 1)
	assert.Nil(t, snap.Summary)
}

func TestStatusTracksRuns(t *testing.T) {
	status := NewStatus()

	status.OnProgress(models.ProgressEvent{RunID: "run-1"})
	status.OnFileDone("run-1", models.QueueResult{File: "a.mp4"})
	status.OnQueueDone(models.QueueSummary{RunID: "run-1", Outcome: models.OutcomeAllFailed, Results: []models.QueueResult{{File: "a.mp4"}}})

	snap := status.Snapshot()
	assert.False(t, snap.Running)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, models.OutcomeAllFailed, snap.Summary.Outcome)

	// a new run clears the previous results
	status.OnProgress(models.ProgressEvent{RunID: "run-2"})
	snap = status.Snapshot()
	assert.Equal(t, "run-2", snap.RunID)
	assert.True(t, snap.Running)
	assert.Empty(t, snap.Results)
	assert.Nil(t, snap.Summary)

	// results of another run are ignored
	status.OnFileDone("run-1", models.QueueResult{File: "late.mp4"})
	assert.Empty(t, status.Snapshot().Results)
}

func TestGetResults(t *testing.T) {
	s, status := newTestServer(t, config.ServerConfig{}, &mockController{}, nil)
	status.OnProgress(models.ProgressEvent{RunID: "run-1"})
	status.OnFileDone("run-1", models.QueueResult{File: "a.mp4", Status: models.ResultStatusFailed, Error: "boom"})

	w := do(s, http.MethodGet, "/api/v1/results", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RunID   string               `json:"run_id"`
		Results []models.QueueResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "boom", body.Results[0].Error)
}

func TestListHistory(t *testing.T) {
	history := &mockHistory{records: []database.HistoryRecord{
		{Source: "/a.mp4", Entry: models.HistoryEntry{Output: "/out/a_hls", Timestamp: "2024-01-01T10:00:00"}},
		{Source: "/b.mp4", Entry: models.HistoryEntry{Output: "/out/b_hls", Timestamp: "2024-01-02T10:00:00"}},
	}}
	s, _ := newTestServer(t, config.ServerConfig{}, &mockController{}, history)

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"all", "/api/v1/history", []string{"/a.mp4", "/b.mp4"}},
		{"limited to newest", "/api/v1/history?limit=1", []string{"/b.mp4"}},
		{"bad limit", "/api/v1/history?limit=x", []string{"/a.mp4", "/b.mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				History []database.HistoryRecord `json:"history"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			var got []string
			for _, r := range body.History {
				got = append(got, r.Source)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListHistoryWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{}, &mockController{}, nil)
	w := do(s, http.MethodGet, "/api/v1/history", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"history":[]}`, w.Body.String())
}

func TestCancelUpload(t *testing.T) {
	ctrl := &mockController{}
	s, _ := newTestServer(t, config.ServerConfig{}, ctrl, nil)

	w := do(s, http.MethodPost, "/api/v1/upload/cancel", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, ctrl.UploadCancelled())

	ctrl.running.Store(true)
	w = do(s, http.MethodPost, "/api/v1/upload/cancel", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"cancelled":true}`, w.Body.String())
	assert.True(t, ctrl.UploadCancelled())
}

func TestCancelUploadRequiresToken(t *testing.T) {
	ctrl := &mockController{}
	ctrl.running.Store(true)
	s, _ := newTestServer(t, config.ServerConfig{AuthSecret: "secret"}, ctrl, nil)

	w := do(s, http.MethodPost, "/api/v1/upload/cancel", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, ctrl.UploadCancelled())

	// reads stay open
	w = do(s, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := middleware.GenerateToken("secret", "operator", time.Hour)
	require.NoError(t, err)
	w = do(s, http.MethodPost, "/api/v1/upload/cancel", token)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, ctrl.UploadCancelled())
}

func TestRateLimited(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{RateLimit: 1, RateBurst: 2}, &mockController{}, nil)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/v1/status", "").Code)

	// health is not limited
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)
}
