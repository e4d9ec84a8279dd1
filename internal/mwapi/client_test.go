package mwapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "knightshift.miraheze.org", want: "https://knightshift.miraheze.org/w/api.php"},
		{raw: "https://KnightShift.miraheze.org/", want: "https://knightshift.miraheze.org/w/api.php"},
		{raw: "https://example.org/wiki/", want: "https://example.org/wiki/w/api.php"},
		{raw: "http://localhost:8080/w/api.php", want: "http://localhost:8080/w/api.php"},
		{raw: "https://example.org/api.php?x=1#frag", want: "https://example.org/api.php"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Endpoint(tt.raw)
			if err != nil {
				t.Fatalf("Endpoint(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Endpoint(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEndpointInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "ftp://example.org", "https://"} {
		if _, err := Endpoint(raw); err == nil {
			t.Errorf("Endpoint(%q) expected error", raw)
		}
	}
}

func TestClientGetPostAndCookies(t *testing.T) {
	t.Parallel()
	var gotUA, gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		switch r.Method {
		case http.MethodGet:
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			_, _ = w.Write([]byte(`{"query":{"tokens":{"logintoken":"tok+\\"}}}`))
		case http.MethodPost:
			if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = r.ParseForm()
			gotForm = r.PostForm.Get("lgname")
			_, _ = w.Write([]byte(`{"login":{"result":"Success","lguserid":7}}`))
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/w/api.php", Options{UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := c.Get(context.Background(), url.Values{"action": {"query"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok := resp.String("query", "tokens", "logintoken"); tok != `tok+\` {
		t.Fatalf("logintoken = %q", tok)
	}
	if gotUA != "test-agent" {
		t.Fatalf("user agent = %q", gotUA)
	}

	resp, err = c.Post(context.Background(), url.Values{"lgname": {"Bot"}})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if resp.String("login", "result") != "Success" {
		t.Fatalf("login result: %s", resp.Summary())
	}
	if id, ok := resp.Int64("login", "lguserid"); !ok || id != 7 {
		t.Fatalf("lguserid = %d, %v", id, ok)
	}
	if gotForm != "Bot" {
		t.Fatalf("form lgname = %q", gotForm)
	}
}

func TestClientTransportErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bad") == "status" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, q := range []url.Values{{"bad": {"status"}}, {"bad": {"json"}}} {
		_, err := c.Get(context.Background(), q)
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("Get(%v) err = %v, want ErrTransport", q, err)
		}
	}
}

func TestResponseErr(t *testing.T) {
	t.Parallel()
	r := Response{"error": map[string]any{"code": "badtoken", "info": "Invalid CSRF token."}}
	e := r.Err()
	if e == nil || e.Code != "badtoken" || e.Info != "Invalid CSRF token." {
		t.Fatalf("Err() = %#v", e)
	}
	if (Response{"edit": map[string]any{}}).Err() != nil {
		t.Fatal("expected nil error")
	}
}
