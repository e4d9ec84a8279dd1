// Package wiki holds the domain of wikicron: targets and their pages, the
// credential session lifecycle, template rendering and the append-edit
// policy against the MediaWiki action API.
package wiki

import (
	"strings"
)

// DefaultSummary is attached to every edit unless the target overrides it.
const DefaultSummary = "Bot: Automated update"

// Target is one independently-authenticated wiki site. Immutable after load.
type Target struct {
	Name     string
	URL      string
	Username string
	Password string
	Summary  string
	Pages    []Page
}

// Page is a job owned by a target: what to append and, optionally, when.
type Page struct {
	Path     string
	Template string
	// Schedule is a cron expression; empty means the page only runs on demand.
	Schedule string
	Vars     map[string]string
}

// Scheduled reports whether the page opted in to scheduled runs.
func (p Page) Scheduled() bool { return strings.TrimSpace(p.Schedule) != "" }

// Title is the wiki page title for a configured path ("/Main_Page" -> "Main_Page").
func Title(path string) string {
	return strings.TrimLeft(strings.TrimSpace(path), "/")
}

// FindPage returns the page whose path matches path after title normalization.
func (t Target) FindPage(path string) (Page, bool) {
	want := Title(path)
	for _, p := range t.Pages {
		if Title(p.Path) == want {
			return p, true
		}
	}
	return Page{}, false
}

// EditSummary returns the summary used for edits on this target.
func (t Target) EditSummary() string {
	if s := strings.TrimSpace(t.Summary); s != "" {
		return s
	}
	return DefaultSummary
}

// Equal reports whether two targets would produce identical sessions and jobs.
func (t Target) Equal(o Target) bool {
	if t.Name != o.Name || t.URL != o.URL || t.Username != o.Username || t.Password != o.Password || t.Summary != o.Summary {
		return false
	}
	if len(t.Pages) != len(o.Pages) {
		return false
	}
	for i := range t.Pages {
		if !t.Pages[i].equal(o.Pages[i]) {
			return false
		}
	}
	return true
}

// SameCredentials reports whether a session for t is still valid for o.
func (t Target) SameCredentials(o Target) bool {
	return t.Name == o.Name && t.URL == o.URL && t.Username == o.Username && t.Password == o.Password
}

func (p Page) equal(o Page) bool {
	if p.Path != o.Path || p.Template != o.Template || p.Schedule != o.Schedule || len(p.Vars) != len(o.Vars) {
		return false
	}
	for k, v := range p.Vars {
		if ov, ok := o.Vars[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
