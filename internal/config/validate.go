package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wikicron/internal/mwapi"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
)

// ValidationError carries every problem found in a document.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("config: %d problem(s):\n  - %s", len(e.Errs), strings.Join(msgs, "\n  - "))
}

func (e *ValidationError) Unwrap() []error { return e.Errs }

// Validate checks the whole document and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Errs: []error{errors.New("config is empty")}}
	}
	var errs []error

	if len(cfg.Wikis) == 0 {
		errs = append(errs, errors.New("wikis: at least one wiki must be configured"))
	}
	loc, err := scheduler.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		loc = time.UTC
	}
	errs = append(errs, validateWikis(cfg.Wikis, loc)...)

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	limits := []durationLimit{
		{path: "scheduler.tick", raw: cfg.Scheduler.Tick, min: time.Second, max: time.Hour},
		{path: "scheduler.job_timeout", raw: cfg.Scheduler.JobTimeout, min: time.Second, max: day},
		{path: "http.timeout", raw: cfg.HTTP.Timeout, min: time.Second, max: 10 * time.Minute},
	}
	if cfg.HTTP.RatePerSec < 0 {
		errs = append(errs, errors.New("http.rate_per_sec: must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		if !storage.ValidDriver(st.Driver) {
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if d := strings.ToLower(strings.TrimSpace(st.Driver)); d != "" && d != "none" && strings.TrimSpace(st.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for driver "+d))
		}
		limits = append(limits, durationLimit{path: "storage.busy_timeout", raw: st.BusyTimeout, max: time.Minute})
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			errs = append(errs, errors.New("notifier.token: required when notifier is enabled"))
		}
		if n.ChatID == 0 {
			errs = append(errs, errors.New("notifier.chat_id: required when notifier is enabled"))
		}
		limits = append(limits, durationLimit{path: "notifier.dedup_window", raw: n.DedupWindow, max: 7 * day})
	}
	for _, l := range limits {
		if err := l.check(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errs: errs}
}

func validateWikis(wikis []WikiConfig, loc *time.Location) []error {
	var errs []error
	names := map[string]int{}
	for i, w := range wikis {
		at := fmt.Sprintf("wikis[%d]", i)
		if name := strings.TrimSpace(w.Name); name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", at))
		} else {
			at = fmt.Sprintf("wikis[%s]", name)
			if prev, dup := names[name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate name (also wikis[%d])", at, prev))
			}
			names[name] = i
		}
		if strings.TrimSpace(w.URL) == "" {
			errs = append(errs, fmt.Errorf("%s.url: required", at))
		} else if _, err := mwapi.Endpoint(w.URL); err != nil {
			errs = append(errs, fmt.Errorf("%s.url: %w", at, err))
		}
		if strings.TrimSpace(w.Username) == "" {
			errs = append(errs, fmt.Errorf("%s.username: required", at))
		}
		if w.Password == "" {
			errs = append(errs, fmt.Errorf("%s.password: required", at))
		}

		paths := map[string]bool{}
		for j, p := range w.Pages {
			pat := fmt.Sprintf("%s.pages[%d]", at, j)
			title := strings.TrimLeft(strings.TrimSpace(p.Path), "/")
			if title == "" {
				errs = append(errs, fmt.Errorf("%s.path: required", pat))
			} else {
				if paths[title] {
					errs = append(errs, fmt.Errorf("%s.path: duplicate page %q", pat, title))
				}
				paths[title] = true
			}
			if p.Text == "" {
				errs = append(errs, fmt.Errorf("%s.text: required", pat))
			}
			if strings.TrimSpace(p.Schedule) != "" {
				if _, err := scheduler.Compile(p.Schedule, loc); err != nil {
					errs = append(errs, fmt.Errorf("%s.schedule: %w", pat, err))
				}
			}
		}
	}
	return errs
}
