package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the on-disk document. Durations are Go duration strings
// ("30s", "2m") and are parsed during validation.
type Config struct {
	Wikis     []WikiConfig    `json:"wikis"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// WikiConfig is one target wiki.
type WikiConfig struct {
	Name     string       `json:"name"`
	URL      string       `json:"url"`
	Username string       `json:"username"`
	Password string       `json:"password"`
	Summary  string       `json:"summary,omitempty"`
	Pages    []PageConfig `json:"pages"`
}

// PageConfig is one page job. Schedule is optional; a page without one only
// runs on demand.
type PageConfig struct {
	Path     string            `json:"path"`
	Text     string            `json:"text"`
	Schedule string            `json:"schedule,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick loop.
//
// Defaults (when fields are omitted/zero):
//   - tick: "60s"
//   - timezone: local time
//   - job_timeout: "0s" (no bound)
type SchedulerConfig struct {
	Tick       string `json:"tick,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

// HTTPConfig controls requests to the wikis.
type HTTPConfig struct {
	UserAgent  string  `json:"user_agent,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the run history backend ("sqlite", "file" or "none").
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls Telegram alerts about runs.
type NotifierConfig struct {
	Enabled     bool    `json:"enabled"`
	Token       string  `json:"token,omitempty"`
	ChatID      Int64   `json:"chat_id,omitempty"`
	ThreadID    int     `json:"thread_id,omitempty"`
	OnSuccess   bool    `json:"on_success,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	RetryMax    int     `json:"retry_max,omitempty"`
	DedupWindow string  `json:"dedup_window,omitempty"`
}

// MetricsConfig controls the /metrics, /healthz and /jobs HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// Int64 accepts both a JSON number and a numeric string, so values supplied
// through ${VAR} expansion decode like literals.
type Int64 int64

func (n *Int64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", b)
	}
	*n = Int64(v)
	return nil
}
