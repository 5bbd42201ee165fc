package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/taskbell/pkg/history"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
	"github.com/harrisonrobin/taskbell/pkg/vault"
)

// MockEngine implements Engine for testing
type MockEngine struct {
	TickFunc func(ctx context.Context) (*scheduler.Report, error)
	ScanFunc func(ctx context.Context) (*vault.Scan, error)
	Report   *scheduler.Report
}

func (m *MockEngine) Tick(ctx context.Context) (*scheduler.Report, error) {
	if m.TickFunc != nil {
		return m.TickFunc(ctx)
	}
	return &scheduler.Report{}, nil
}

func (m *MockEngine) Scan(ctx context.Context) (*vault.Scan, error) {
	if m.ScanFunc != nil {
		return m.ScanFunc(ctx)
	}
	return &vault.Scan{}, nil
}

func (m *MockEngine) LastReport() *scheduler.Report { return m.Report }

type MockHistory struct {
	RecentFunc func(ctx context.Context, limit int) ([]history.Dispatch, error)
}

func (m *MockHistory) Recent(ctx context.Context, limit int) ([]history.Dispatch, error) {
	return m.RecentFunc(ctx, limit)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   int             `json:"count"`
	Error   string          `json:"error"`
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	s.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func newTestServer(engine *MockEngine, hist History) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer(engine, hist, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&MockEngine{}, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestHandleReport(t *testing.T) {
	s := newTestServer(&MockEngine{}, nil)
	w, resp := do(t, s, http.MethodGet, "/api/report")
	if w.Code != http.StatusNotFound || resp.Success {
		t.Errorf("Expected 404 before the first tick, got %d", w.Code)
	}

	s = newTestServer(&MockEngine{Report: &scheduler.Report{ID: "tick-1", Due: 2}}, nil)
	w, resp = do(t, s, http.MethodGet, "/api/report")
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var report scheduler.Report
	json.Unmarshal(resp.Data, &report)
	if report.ID != "tick-1" || report.Due != 2 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestHandleTasks(t *testing.T) {
	today := model.DateOf(time.Now())
	tomorrow := today.AddDays(1)
	engine := &MockEngine{
		ScanFunc: func(ctx context.Context) (*vault.Scan, error) {
			return &vault.Scan{Documents: 1, Tasks: []model.Task{
				{Description: "a", Tags: []string{"#work"}, Due: &today},
				{Description: "b", Tags: []string{"#home"}, Due: &today},
				{Description: "c", Tags: []string{"#work"}, Due: &tomorrow},
			}}, nil
		},
	}
	s := newTestServer(engine, nil)

	tests := []struct {
		target string
		count  int
	}{
		{"/api/tasks", 3},
		{"/api/tasks?tag=work", 2},
		{"/api/tasks?tag=%23work&due=today", 1},
		{"/api/tasks?tag=none", 0},
	}
	for _, tt := range tests {
		w, resp := do(t, s, http.MethodGet, tt.target)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", tt.target, w.Code)
		}
		if resp.Count != tt.count {
			t.Errorf("%s: expected %d tasks, got %d", tt.target, tt.count, resp.Count)
		}
	}
}

func TestHandleTasksScanError(t *testing.T) {
	engine := &MockEngine{
		ScanFunc: func(ctx context.Context) (*vault.Scan, error) {
			return nil, errors.New("vault missing")
		},
	}
	w, resp := do(t, newTestServer(engine, nil), http.MethodGet, "/api/tasks")
	if w.Code != http.StatusInternalServerError || resp.Error != "vault missing" {
		t.Errorf("Expected 500 with error, got %d %q", w.Code, resp.Error)
	}
}

func TestHandleTick(t *testing.T) {
	engine := &MockEngine{
		TickFunc: func(ctx context.Context) (*scheduler.Report, error) {
			return &scheduler.Report{ID: "tick-2"}, nil
		},
	}
	w, resp := do(t, newTestServer(engine, nil), http.MethodPost, "/api/tick")
	if w.Code != http.StatusOK || !resp.Success {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	engine.TickFunc = func(ctx context.Context) (*scheduler.Report, error) {
		return nil, scheduler.ErrTickInProgress
	}
	w, _ = do(t, newTestServer(engine, nil), http.MethodPost, "/api/tick")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for an overlapping tick, got %d", w.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	w, _ := do(t, newTestServer(&MockEngine{}, nil), http.MethodGet, "/api/history")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when history is disabled, got %d", w.Code)
	}

	var gotLimit int
	hist := &MockHistory{RecentFunc: func(ctx context.Context, limit int) ([]history.Dispatch, error) {
		gotLimit = limit
		return []history.Dispatch{{ID: "01", Description: "Buy milk"}}, nil
	}}
	s := newTestServer(&MockEngine{}, hist)

	w, resp := do(t, s, http.MethodGet, "/api/history?limit=5")
	if w.Code != http.StatusOK || resp.Count != 1 || gotLimit != 5 {
		t.Errorf("Unexpected history response: %d count=%d limit=%d", w.Code, resp.Count, gotLimit)
	}

	w, _ = do(t, s, http.MethodGet, "/api/history?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", w.Code)
	}
}
