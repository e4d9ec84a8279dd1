package config

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Change lists what differs between two documents without exposing values,
// so it is safe to log.
type Change struct {
	Sections []string
	Added    []string
	Removed  []string
	Modified []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Summarize compares two configs section by section. Wikis are compared
// per name.
func Summarize(prev, next *Config) Change {
	var ch Change
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}

	old := map[string]WikiConfig{}
	for _, w := range prev.Wikis {
		old[w.Name] = w
	}
	seen := map[string]bool{}
	for _, w := range next.Wikis {
		seen[w.Name] = true
		o, ok := old[w.Name]
		switch {
		case !ok:
			ch.Added = append(ch.Added, w.Name)
		case !reflect.DeepEqual(o, w):
			ch.Modified = append(ch.Modified, w.Name)
		}
	}
	for name := range old {
		if !seen[name] {
			ch.Removed = append(ch.Removed, name)
		}
	}
	sort.Strings(ch.Removed)
	if len(ch.Added)+len(ch.Removed)+len(ch.Modified) > 0 {
		ch.Sections = append(ch.Sections, "wikis")
	}

	for _, sec := range []struct {
		name string
		a, b any
	}{
		{"logging", prev.Logging, next.Logging},
		{"scheduler", prev.Scheduler, next.Scheduler},
		{"http", prev.HTTP, next.HTTP},
		{"storage", prev.Storage, next.Storage},
		{"notifier", prev.Notifier, next.Notifier},
		{"metrics", prev.Metrics, next.Metrics},
	} {
		if !sameJSON(sec.a, sec.b) {
			ch.Sections = append(ch.Sections, sec.name)
		}
	}
	return ch
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}
