package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "wikicron/pkg/logx"
)

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "file", "wikicron.db"),
		"sqlite": filepath.Join(dir, "sqlite", "wikicron.db"),
	} {
		st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s) error: %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			r := RunRecord{
				At:      base.Add(time.Duration(i) * time.Minute),
				Target:  "t",
				Page:    string(rune('a' + i)),
				Trigger: TriggerSchedule,
				OK:      i%2 == 0,
				TookMS:  int64(i),
			}
			if !r.OK {
				r.ErrorKind = "api_error"
				r.Error = "boom"
			} else {
				r.RevisionID = int64(100 + i)
			}
			if err := st.AppendRun(ctx, r); err != nil {
				t.Fatalf("%s: AppendRun error: %v", driver, err)
			}
		}

		got, err := st.RecentRuns(ctx, 3)
		if err != nil {
			t.Fatalf("%s: RecentRuns error: %v", driver, err)
		}
		if len(got) != 3 {
			t.Fatalf("%s: len = %d, want 3", driver, len(got))
		}
		for i, want := range []string{"e", "d", "c"} {
			if got[i].Page != want {
				t.Fatalf("%s: got[%d].Page = %q, want %q", driver, i, got[i].Page, want)
			}
		}
		if !got[0].OK || got[0].RevisionID != 104 {
			t.Fatalf("%s: newest record = %+v", driver, got[0])
		}
		if got[1].OK || got[1].ErrorKind != "api_error" || got[1].Error != "boom" {
			t.Fatalf("%s: failed record = %+v", driver, got[1])
		}
		if !got[0].At.Equal(base.Add(4 * time.Minute)) {
			t.Fatalf("%s: At = %v", driver, got[0].At)
		}

		all, err := st.RecentRuns(ctx, 50)
		if err != nil || len(all) != 5 {
			t.Fatalf("%s: RecentRuns(50) = %d, %v", driver, len(all), err)
		}
	}
}

func TestDedupRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		if err := st.PutDedup(ctx, "alert:t/p", until); err != nil {
			t.Fatalf("%s: PutDedup error: %v", driver, err)
		}
		got, ok, err := st.GetDedup(ctx, "alert:t/p")
		if err != nil || !ok || !got.Equal(until) {
			t.Fatalf("%s: GetDedup = %v %v %v", driver, got, ok, err)
		}
		if _, ok, _ := st.GetDedup(ctx, "other"); ok {
			t.Fatalf("%s: unexpected dedup hit", driver)
		}
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := st.AppendRun(ctx, RunRecord{Target: "t", Page: "p", OK: true}); err != nil {
		t.Fatalf("AppendRun error: %v", err)
	}
	_ = st.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st.Close()
	got, err := st.RecentRuns(ctx, 10)
	if err != nil || len(got) != 1 || got[0].Page != "p" || got[0].At.IsZero() {
		t.Fatalf("RecentRuns after reopen = %+v, %v", got, err)
	}
}
