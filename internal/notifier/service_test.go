package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails int
	ch    chan string
}

func newFakeSender(fails int) *fakeSender {
	return &fakeSender{fails: fails, ch: make(chan string, 16)}
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram down")
	}
	f.sent = append(f.sent, text)
	f.ch <- text
	return nil
}

func (f *fakeSender) wait(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for alert")
		return ""
	}
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func failedRun() storage.RunRecord {
	return storage.RunRecord{
		Target:    "knightshift",
		Page:      "Daily_log",
		Trigger:   storage.TriggerSchedule,
		ErrorKind: "credentials_rejected",
		Error:     "wrong password",
	}
}

func start(t *testing.T, cfg Config, sender Sender, store storage.Store) *Service {
	t.Helper()
	s := New(cfg, sender, store, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestFailureAlertIsSent(t *testing.T) {
	t.Parallel()
	fs := newFakeSender(0)
	s := start(t, Config{Enabled: true, RatePerSec: 100}, fs, nil)

	s.RunFinished(context.Background(), failedRun())
	got := fs.wait(t)
	for _, want := range []string{"knightshift", "Daily_log", "credentials_rejected", "wrong password"} {
		if !strings.Contains(got, want) {
			t.Fatalf("alert %q missing %q", got, want)
		}
	}
}

func TestSuccessOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	fs := newFakeSender(0)
	s := start(t, Config{Enabled: true, RatePerSec: 100}, fs, nil)
	s.RunFinished(context.Background(), storage.RunRecord{Target: "t", Page: "p", OK: true, RevisionID: 7})
	s.RunFinished(context.Background(), failedRun())
	if got := fs.wait(t); !strings.Contains(got, "failed") {
		t.Fatalf("first delivered alert = %q, want the failure", got)
	}

	fs2 := newFakeSender(0)
	s2 := start(t, Config{Enabled: true, OnSuccess: true, RatePerSec: 100}, fs2, nil)
	s2.RunFinished(context.Background(), storage.RunRecord{Target: "t", Page: "p", OK: true, RevisionID: 7})
	if got := fs2.wait(t); !strings.Contains(got, "rev 7") {
		t.Fatalf("alert = %q", got)
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	t.Parallel()
	fs := newFakeSender(0)
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "n.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	defer st.Close()

	s := start(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Hour}, fs, st)
	for i := 0; i < 3; i++ {
		s.RunFinished(context.Background(), failedRun())
	}
	fs.wait(t)

	// a fresh service sharing the store still remembers the window
	s2 := start(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Hour}, fs, st)
	s2.RunFinished(context.Background(), failedRun())

	different := failedRun()
	different.Page = "Other"
	s2.RunFinished(context.Background(), different)
	if got := fs.wait(t); !strings.Contains(got, "Other") {
		t.Fatalf("alert = %q, want the Other page", got)
	}
	if fs.count() != 2 {
		t.Fatalf("sent = %d, want 2", fs.count())
	}
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()
	fs := newFakeSender(2)
	s := start(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 3, RetryBase: time.Millisecond}, fs, nil)
	if err := s.Notify(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := fs.wait(t); got != "hello" {
		t.Fatalf("got %q", got)
	}
	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].Err != "" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeSender(0), nil, logx.Nop())
	s.Start(context.Background())
	if s.Enabled() {
		t.Fatal("Enabled = true")
	}
	if err := s.Notify(context.Background(), "x", ""); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify error = %v, want ErrDisabled", err)
	}
	var nilSvc *Service
	nilSvc.RunFinished(context.Background(), failedRun())
	nilSvc.Stop(context.Background())
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("héllo", 10); got != "héllo" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héll…" {
		t.Fatalf("got %q", got)
	}
}
