package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wikicron/internal/observability/metrics"
	"wikicron/internal/runtime/supervisor"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	var healthErr error
	s := New(":0", Sources{
		Healthy: func() error { return healthErr },
		Tasks: func() []supervisor.TaskStatus {
			return []supervisor.TaskStatus{{Name: "scheduler", Running: true}}
		},
	}, logx.Nop())
	h := s.Handler()

	code, body := get(t, h, "/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"scheduler"`) {
		t.Fatalf("code=%d body=%s", code, body)
	}

	healthErr = errors.New("scheduler stopped")
	code, body = get(t, h, "/healthz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "scheduler stopped") {
		t.Fatalf("code=%d body=%s", code, body)
	}
}

func TestMetricsAndJobs(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Tick()
	next := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	s := New(":0", Sources{
		Registry: m.Registry(),
		Jobs: func() []scheduler.JobInfo {
			return []scheduler.JobInfo{{Target: "main", Page: "Home", Expr: "0 3 * * *", State: "idle", NextRun: next}}
		},
	}, logx.Nop())
	h := s.Handler()

	code, body := get(t, h, "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "wikicron_scheduler_ticks_total 1") {
		t.Fatalf("code=%d body=%s", code, body)
	}

	code, body = get(t, h, "/jobs")
	if code != http.StatusOK {
		t.Fatalf("code=%d", code)
	}
	var jobs []scheduler.JobInfo
	if err := json.Unmarshal([]byte(body), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Page != "Home" || !jobs[0].NextRun.Equal(next) {
		t.Fatalf("jobs=%+v", jobs)
	}
}

func TestDisabledEndpoints(t *testing.T) {
	t.Parallel()

	h := New(":0", Sources{}, logx.Nop()).Handler()
	for _, path := range []string{"/metrics", "/jobs", "/history"} {
		if code, _ := get(t, h, path); code != http.StatusNotFound {
			t.Fatalf("%s: code=%d", path, code)
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()

	var gotLimit int
	h := New(":0", Sources{
		History: func(_ context.Context, limit int) ([]storage.RunRecord, error) {
			gotLimit = limit
			return []storage.RunRecord{{Target: "main", Page: "Home", OK: true}}, nil
		},
	}, logx.Nop()).Handler()

	tests := []struct {
		path      string
		wantCode  int
		wantLimit int
	}{
		{"/history", http.StatusOK, defaultHistoryLimit},
		{"/history?limit=5", http.StatusOK, 5},
		{"/history?limit=999999", http.StatusOK, maxHistoryLimit},
		{"/history?limit=zero", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		gotLimit = 0
		code, body := get(t, h, tt.path)
		if code != tt.wantCode || gotLimit != tt.wantLimit {
			t.Fatalf("%s: code=%d limit=%d body=%s", tt.path, code, gotLimit, body)
		}
	}
}

func TestRunServesUntilCancel(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", Sources{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"ok"`) {
		t.Fatalf("code=%d body=%s", resp.StatusCode, b)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProfilerMount(t *testing.T) {
	t.Parallel()

	on := New(":0", Sources{Profiling: true}, logx.Nop()).Handler()
	if code, _ := get(t, on, "/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("enabled: code=%d", code)
	}
	off := New(":0", Sources{}, logx.Nop()).Handler()
	if code, _ := get(t, off, "/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("disabled: code=%d", code)
	}
}
