package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
wikis:
  - name: main
    url: https://wiki.example.org
    username: Bot@wikicron
    password: ${WIKI_PASSWORD}
    summary: Daily notes
    pages:
      - path: /Main_Page
        text: "Updated on [[[current date]]]"
        schedule: "0 3 * * *"
      - path: Sandbox
        text: "[[[greeting]]] from [[[target]]]"
        vars:
          greeting: hello
scheduler:
  tick: 30s
  timezone: UTC
storage:
  driver: sqlite
  path: ${DATA_DIR:-/var/lib/wikicron}/runs.db
notifier:
  enabled: true
  token: "123:abc"
  chat_id: ${CHAT_ID}
`

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML), lookupFrom(map[string]string{
		"WIKI_PASSWORD": "p#ss: word",
		"CHAT_ID":       "-100123",
	}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.Wikis[0].Password; got != "p#ss: word" {
		t.Fatalf("password=%q", got)
	}
	if got := cfg.StorageConfig().Path; got != "/var/lib/wikicron/runs.db" {
		t.Fatalf("storage path=%q", got)
	}
	if got := cfg.NotifierConfig().ChatID; got != -100123 {
		t.Fatalf("chat id=%d", got)
	}
	if got := cfg.SchedulerConfig().Tick; got != 30*time.Second {
		t.Fatalf("tick=%v", got)
	}

	targets := cfg.Targets()
	if len(targets) != 1 || len(targets[0].Pages) != 2 {
		t.Fatalf("targets=%+v", targets)
	}
	p := targets[0].Pages[1]
	if p.Template != "[[[greeting]]] from [[[target]]]" || p.Vars["greeting"] != "hello" || p.Scheduled() {
		t.Fatalf("page=%+v", p)
	}
	if targets[0].EditSummary() != "Daily notes" {
		t.Fatalf("summary=%q", targets[0].EditSummary())
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	doc := `{"wikis":[{"name":"w","url":"https://w.example","username":"u","password":"p",
		"pages":[{"path":"P","text":"x"}]}],"notifier":{"enabled":false,"chat_id":42}}`
	cfg, err := Decode("config.json", []byte(doc), lookupFrom(nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Notifier == nil || cfg.Notifier.ChatID != 42 {
		t.Fatalf("notifier=%+v", cfg.Notifier)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		doc  string
		want string
	}{
		{"unknown key", "c.yaml", "wikis: []\nbogus: 1\n", "bogus"},
		{"unresolved var", "c.yaml", "wikis:\n  - name: ${NOPE}\n", "NOPE"},
		{"trailing json", "c.json", `{"wikis":[]} {}`, "trailing"},
		{"bad yaml", "c.yaml", "wikis: [\n", "yaml"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.doc), lookupFrom(nil))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v want substring %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Parallel()

	lookup := lookupFrom(map[string]string{"A": "1", "EMPTY": ""})
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"${A}", "1", false},
		{"x-${A}-${A}", "x-1-1", false},
		{"${EMPTY:-d}", "", false},
		{"${MISSING:-fallback}", "fallback", false},
		{"${MISSING:-}", "", false},
		{"no refs $A", "no refs $A", false},
		{"${MISSING}", "${MISSING}", true},
	}
	for _, tt := range tests {
		got, err := expandEnv(tt.in, lookup)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Wikis: []WikiConfig{
			{Name: "a", URL: "https://a.example", Username: "u", Password: "p", Pages: []PageConfig{
				{Path: "/Home", Text: "x", Schedule: "not a cron"},
				{Path: "Home", Text: "y"},
				{Path: "", Text: ""},
			}},
			{Name: "a", URL: "", Username: "", Password: ""},
		},
		Scheduler: SchedulerConfig{Tick: "soon", Timezone: "Mars/Olympus"},
		Storage:   &StorageConfig{Driver: "postgres"},
		Notifier:  &NotifierConfig{Enabled: true},
		Logging:   LoggingConfig{Level: "loud"},
	}
	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v, want *ValidationError", err)
	}
	for _, want := range []string{
		"scheduler.timezone",
		"scheduler.tick",
		"duplicate name",
		"duplicate page",
		".schedule",
		".path: required",
		".text: required",
		".url: required",
		".username: required",
		".password: required",
		"storage.driver",
		"notifier.token",
		"notifier.chat_id",
		"logging.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestValidateNoWikis(t *testing.T) {
	t.Parallel()
	if err := Validate(&Config{}); err == nil {
		t.Fatal("expected error for empty wikis")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if o := cfg.ClientOptions(); o.UserAgent != DefaultUserAgent || o.Timeout != DefaultHTTPTimeout {
		t.Fatalf("client options=%+v", o)
	}
	if d := cfg.StorageConfig().Driver; d != "" {
		t.Fatalf("storage driver=%q", d)
	}
	if cfg.NotifierConfig().Enabled {
		t.Fatal("notifier enabled by default")
	}
	if cfg.JobTimeout() != 0 {
		t.Fatal("job timeout should default to unbounded")
	}
	if cfg.MetricsAddr() != DefaultMetricsAddr {
		t.Fatalf("metrics addr=%q", cfg.MetricsAddr())
	}
}

const minimalYAML = `
wikis:
  - name: w
    url: https://w.example
    username: u
    password: p
    pages:
      - path: P
        text: %s
`

func writeConfig(t *testing.T, path, text string) {
	t.Helper()
	doc := strings.Replace(minimalYAML, "%s", text, 1)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestManagerWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "first")

	m := NewManager(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// give the watcher a moment to register the directory
	time.Sleep(200 * time.Millisecond)

	// invalid document: rejected, committed config unchanged
	if err := os.WriteFile(path, []byte("wikis: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(time.Second):
	}
	if got := m.Get().Wikis[0].Pages[0].Text; got != "first" {
		t.Fatalf("committed text=%q", got)
	}

	writeConfig(t, path, "second")
	select {
	case cfg := <-ch:
		if got := cfg.Wikis[0].Pages[0].Text; got != "second" {
			t.Fatalf("published text=%q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
	if got := m.Get().Wikis[0].Pages[0].Text; got != "second" {
		t.Fatalf("committed text=%q", got)
	}

	cancel()
	<-done
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("wikis: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Get() != nil {
		t.Fatal("invalid config committed")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	prev := &Config{
		Wikis: []WikiConfig{
			{Name: "a", URL: "https://a.example"},
			{Name: "b", URL: "https://b.example"},
		},
		Scheduler: SchedulerConfig{Tick: "60s"},
	}
	next := &Config{
		Wikis: []WikiConfig{
			{Name: "a", URL: "https://a.example", Password: "rotated"},
			{Name: "c", URL: "https://c.example"},
		},
		Scheduler: SchedulerConfig{Tick: "30s"},
	}

	ch := Summarize(prev, next)
	if !ch.Has("wikis") || !ch.Has("scheduler") || ch.Has("logging") {
		t.Fatalf("sections=%v", ch.Sections)
	}
	if len(ch.Added) != 1 || ch.Added[0] != "c" {
		t.Fatalf("added=%v", ch.Added)
	}
	if len(ch.Removed) != 1 || ch.Removed[0] != "b" {
		t.Fatalf("removed=%v", ch.Removed)
	}
	if len(ch.Modified) != 1 || ch.Modified[0] != "a" {
		t.Fatalf("modified=%v", ch.Modified)
	}
	if !Summarize(next, next).Empty() {
		t.Fatal("identical configs reported as changed")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"90s", 90 * time.Second, true},
		{"90", 90 * time.Second, true},
		{" 5m ", 5 * time.Minute, true},
		{"1d", 24 * time.Hour, true},
		{"1d12h", 36 * time.Hour, true},
		{"-1m", 0, false},
		{"-1d", 0, false},
		{"1d-2h", 0, false},
		{"xd", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x.y", tt.raw)
		if (err == nil) != tt.ok {
			t.Errorf("%q: err=%v, ok=%v", tt.raw, err, tt.ok)
			continue
		}
		if err != nil && !strings.HasPrefix(err.Error(), "x.y: ") {
			t.Errorf("%q: error %q lacks field path", tt.raw, err)
		}
		if tt.ok && got != tt.want {
			t.Errorf("%q: got %v want %v", tt.raw, got, tt.want)
		}
	}
}

func validConfig() *Config {
	return &Config{Wikis: []WikiConfig{{
		Name: "w", URL: "https://w.example", Username: "u", Password: "p",
		Pages: []PageConfig{{Path: "P", Text: "x", Schedule: "@daily"}},
	}}}
}

func TestValidateDurationLimits(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"tick too short", func(c *Config) { c.Scheduler.Tick = "500ms" }, "scheduler.tick: 500ms is below the minimum of 1s"},
		{"tick too long", func(c *Config) { c.Scheduler.Tick = "2h" }, "scheduler.tick: 2h0m0s is above the maximum"},
		{"http timeout", func(c *Config) { c.HTTP.Timeout = "1d" }, "http.timeout"},
		{"dedup window", func(c *Config) {
			c.Notifier = &NotifierConfig{Enabled: true, Token: "t", ChatID: 1, DedupWindow: "8d"}
		}, "notifier.dedup_window"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		tt.mut(cfg)
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err=%v, want %q", tt.name, err, tt.want)
		}
	}

	cfg := validConfig()
	cfg.Scheduler.Tick = "30"
	cfg.Scheduler.JobTimeout = "2m"
	if err := Validate(cfg); err != nil {
		t.Fatalf("in-range values rejected: %v", err)
	}
	if got := cfg.SchedulerConfig().Tick; got != 30*time.Second {
		t.Fatalf("tick=%v", got)
	}
}

func TestValidateRejectsScheduleThatNeverFires(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Wikis[0].Pages[0].Schedule = "0 0 30 2 *"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "never fires") {
		t.Fatalf("err=%v, want never fires", err)
	}
}

func TestRunBudget(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if got := cfg.RunBudget(); got != 5*DefaultHTTPTimeout {
		t.Fatalf("default budget=%v", got)
	}
	cfg.HTTP.Timeout = "10s"
	if got := cfg.RunBudget(); got != 50*time.Second {
		t.Fatalf("budget=%v", got)
	}
	cfg.Scheduler.JobTimeout = "2m"
	if got := cfg.RunBudget(); got != 2*time.Minute {
		t.Fatalf("budget with job_timeout=%v", got)
	}
}
