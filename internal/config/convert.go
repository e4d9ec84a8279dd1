package config

import (
	"strings"
	"time"

	"wikicron/internal/mwapi"
	"wikicron/internal/notifier"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	"wikicron/internal/wiki"
	logx "wikicron/pkg/logx"
)

const (
	DefaultConfigPath  = "/app/config/config.yaml"
	DefaultUserAgent   = "wikicron/1.0 (MediaWiki content injector)"
	DefaultHTTPTimeout = 30 * time.Second
	DefaultMetricsAddr = "127.0.0.1:9464"
)

// Targets converts the configured wikis to domain targets, in file order.
func (c *Config) Targets() []wiki.Target {
	if c == nil {
		return nil
	}
	out := make([]wiki.Target, 0, len(c.Wikis))
	for _, w := range c.Wikis {
		t := wiki.Target{
			Name:     strings.TrimSpace(w.Name),
			URL:      strings.TrimSpace(w.URL),
			Username: strings.TrimSpace(w.Username),
			Password: w.Password,
			Summary:  w.Summary,
			Pages:    make([]wiki.Page, 0, len(w.Pages)),
		}
		for _, p := range w.Pages {
			var vars map[string]string
			if len(p.Vars) > 0 {
				vars = make(map[string]string, len(p.Vars))
				for k, v := range p.Vars {
					vars[k] = v
				}
			}
			t.Pages = append(t.Pages, wiki.Page{
				Path:     strings.TrimSpace(p.Path),
				Template: p.Text,
				Schedule: strings.TrimSpace(p.Schedule),
				Vars:     vars,
			})
		}
		out = append(out, t)
	}
	return out
}

// Location is the scheduler timezone; an invalid value falls back to UTC
// (Validate reports it).
func (c *Config) Location() *time.Location {
	loc, err := scheduler.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LoggingConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	tick, _ := ParseDurationOrDefault("scheduler.tick", c.Scheduler.Tick, scheduler.DefaultTick)
	return scheduler.Config{Tick: tick, Timezone: c.Scheduler.Timezone}
}

// JobTimeout bounds one page run; zero means unbounded.
func (c *Config) JobTimeout() time.Duration {
	d, _ := ParseDurationField("scheduler.job_timeout", c.Scheduler.JobTimeout)
	return d
}

// RunBudget is the longest one page run can take: job_timeout when set,
// otherwise one request timeout for each call of a run (login token, login,
// page body, csrf token, edit).
func (c *Config) RunBudget() time.Duration {
	if d := c.JobTimeout(); d > 0 {
		return d
	}
	return 5 * c.ClientOptions().Timeout
}

func (c *Config) ClientOptions() mwapi.Options {
	timeout, _ := ParseDurationOrDefault("http.timeout", c.HTTP.Timeout, DefaultHTTPTimeout)
	ua := strings.TrimSpace(c.HTTP.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	return mwapi.Options{UserAgent: ua, Timeout: timeout, RatePerSec: c.HTTP.RatePerSec}
}

// StorageConfig returns the disabled config when the section is omitted.
func (c *Config) StorageConfig() storage.Config {
	if c.Storage == nil {
		return storage.Config{}
	}
	bt, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: bt,
	}
}

func (c *Config) NotifierConfig() notifier.Config {
	n := c.Notifier
	if n == nil {
		return notifier.Config{}
	}
	window, _ := ParseDurationField("notifier.dedup_window", n.DedupWindow)
	return notifier.Config{
		Enabled:     n.Enabled,
		Token:       strings.TrimSpace(n.Token),
		ChatID:      int64(n.ChatID),
		ThreadID:    n.ThreadID,
		OnSuccess:   n.OnSuccess,
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		DedupWindow: window,
	}
}

func (c *Config) MetricsAddr() string {
	if a := strings.TrimSpace(c.Metrics.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}
