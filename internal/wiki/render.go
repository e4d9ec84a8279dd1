package wiki

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Markers use triple brackets so they never collide with the wiki's own
// [[links]] and {{templates}}.
var markerRe = regexp.MustCompile(`\[\[\[([^\[\]]+?)\]\]\]`)

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04"
	timestampLayout = time.RFC3339
)

// Renderer expands markers in content templates. Rendering never fails:
// a marker it cannot resolve is left in the text verbatim.
type Renderer struct {
	now func() time.Time
	loc *time.Location
}

// NewRenderer renders built-in time markers in loc (nil means time.Local).
func NewRenderer(loc *time.Location) *Renderer {
	return &Renderer{now: time.Now, loc: loc}
}

// WithClock returns a copy that reads the time from now.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	cp := *r
	cp.now = now
	return &cp
}

// Render expands every marker in tmpl. Caller vars win over built-ins.
func (r *Renderer) Render(tmpl string, vars map[string]string) string {
	out, _ := r.RenderReport(tmpl, vars)
	return out
}

// RenderReport is Render plus the names of markers left unresolved.
func (r *Renderer) RenderReport(tmpl string, vars map[string]string) (string, []string) {
	if !strings.Contains(tmpl, "[[[") {
		return tmpl, nil
	}
	now := r.clock()
	var missing []string
	out := markerRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(m[3 : len(m)-3])
		if v, ok := vars[name]; ok {
			return v
		}
		if v, ok := builtin(name, now); ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	return out, missing
}

func (r *Renderer) clock() time.Time {
	now := time.Now
	if r != nil && r.now != nil {
		now = r.now
	}
	t := now()
	if r != nil && r.loc != nil {
		t = t.In(r.loc)
	}
	return t
}

func builtin(name string, now time.Time) (string, bool) {
	switch strings.ToLower(strings.Join(strings.Fields(name), " ")) {
	case "current date":
		return now.Format(dateLayout), true
	case "current timestamp":
		return now.Format(timestampLayout), true
	case "current time":
		return now.Format(timeLayout), true
	case "current year":
		return strconv.Itoa(now.Year()), true
	default:
		return "", false
	}
}
