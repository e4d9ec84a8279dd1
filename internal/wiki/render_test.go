package wiki

import (
	"reflect"
	"regexp"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
}

func TestRenderIdentityWithoutMarkers(t *testing.T) {
	t.Parallel()
	r := NewRenderer(time.UTC)
	for _, in := range []string{"", "plain", "[[Link]] and {{Template}}", "[[[ unterminated", "]]] [["} {
		if got := r.Render(in, nil); got != in {
			t.Errorf("Render(%q) = %q", in, got)
		}
	}
}

func TestRenderBuiltins(t *testing.T) {
	t.Parallel()
	r := NewRenderer(time.UTC).WithClock(fixedClock())
	tests := []struct {
		in   string
		want string
	}{
		{in: "Updated [[[current date]]]", want: "Updated 2024-03-09"},
		{in: "[[[ Current  Date ]]]", want: "2024-03-09"},
		{in: "[[[current time]]]", want: "14:05"},
		{in: "[[[current year]]]", want: "2024"},
		{in: "[[[current timestamp]]]", want: "2024-03-09T14:05:00Z"},
	}
	for _, tt := range tests {
		if got := r.Render(tt.in, nil); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderDateShapeWithRealClock(t *testing.T) {
	t.Parallel()
	got := NewRenderer(nil).Render("[[[current date]]]", nil)
	if !regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`).MatchString(got) {
		t.Fatalf("unexpected date %q", got)
	}
}

func TestRenderVarsAndUnresolved(t *testing.T) {
	t.Parallel()
	r := NewRenderer(time.UTC).WithClock(fixedClock())
	out, missing := r.RenderReport("[[[greeting]]] on [[[current date]]] by [[[who]]]", map[string]string{
		"greeting": "Hello",
	})
	if out != "Hello on 2024-03-09 by [[[who]]]" {
		t.Fatalf("out = %q", out)
	}
	if !reflect.DeepEqual(missing, []string{"who"}) {
		t.Fatalf("missing = %v", missing)
	}
}

func TestRenderVarsOverrideBuiltins(t *testing.T) {
	t.Parallel()
	r := NewRenderer(time.UTC).WithClock(fixedClock())
	if got := r.Render("[[[current date]]]", map[string]string{"current date": "yesterday"}); got != "yesterday" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderTimezone(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+10", 10*3600)
	r := NewRenderer(loc).WithClock(func() time.Time { return time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC) })
	if got := r.Render("[[[current date]]]", nil); got != "2025-01-01" {
		t.Fatalf("got %q", got)
	}
}
