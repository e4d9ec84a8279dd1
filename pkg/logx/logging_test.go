package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestWithFieldsAppearInOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("comp", "test"))
	l.Warn("edit failed", String("page", "Main_Page"), Err(errors.New("boom")), Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if m["comp"] != "test" || m["page"] != "Main_Page" || m["message"] != "edit failed" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v", m["level"])
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("error missing from %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewJSON(&buf, "warn")
	l.Info("skipped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error should be enabled")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, l := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	l.Info("written to file", String("target", "alpha"))
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"target":"alpha"`) {
		t.Fatalf("file sink missing record: %q", b)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", "DEBUG", "warning"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Error("ValidLevel(loud) = true")
	}
}
