// Package wikitest provides an in-process fake of the MediaWiki action API
// for tests: login tokens, cookie sessions, CSRF tokens, page bodies and edits.
package wikitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

const cookieName = "wikitest_session"

// Call is one recorded request.
type Call struct {
	Method string
	Action string
	Params url.Values
}

// Edit is one accepted edit submission.
type Edit struct {
	Title   string
	Text    string
	Summary string
	Token   string
	Bot     string
}

type session struct {
	loginToken string
	user       string
	csrf       string
}

// Server is a fake wiki with a single account. Safe for concurrent use.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]string
	pages    map[string]string
	sessions map[string]*session
	seq      int
	rev      int64

	calls []Call
	edits []Edit

	// title -> API error code returned by action=edit
	failEdit map[string]string
	// every request fails with 503
	down bool
	// login token replies omit the token
	breakLoginToken bool
	// every request waits this long before it is handled
	delay time.Duration
}

// New starts a fake wiki with one account.
func New(user, password string) *Server {
	s := &Server{
		accounts: map[string]string{user: password},
		pages:    map[string]string{},
		sessions: map[string]*session{},
		failEdit: map[string]string{},
		rev:      100,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// APIURL is the wiki's api.php endpoint.
func (s *Server) APIURL() string { return s.URL + "/w/api.php" }

func (s *Server) SetPage(title, body string) {
	s.mu.Lock()
	s.pages[title] = body
	s.mu.Unlock()
}

func (s *Server) Page(title string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.pages[title]
	return b, ok
}

func (s *Server) FailEdit(title, code string) {
	s.mu.Lock()
	s.failEdit[title] = code
	s.mu.Unlock()
}

func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// SetDelay slows every request down, as a loaded wiki would.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *Server) BreakLoginToken() {
	s.mu.Lock()
	s.breakLoginToken = true
	s.mu.Unlock()
}

// DropSessions forgets every login, as if the wiki's session store was flushed.
func (s *Server) DropSessions() {
	s.mu.Lock()
	s.sessions = map[string]*session{}
	s.mu.Unlock()
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Server) Edits() []Edit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Edit(nil), s.edits...)
}

// LoginAttempts counts action=login submissions.
func (s *Server) LoginAttempts() int { return s.count(func(c Call) bool { return c.Action == "login" }) }

// EditRelatedCalls counts CSRF token fetches, page body fetches and edit submissions.
func (s *Server) EditRelatedCalls() int {
	return s.count(func(c Call) bool {
		switch {
		case c.Action == "edit":
			return true
		case c.Action == "query" && c.Params.Get("prop") == "revisions":
			return true
		case c.Action == "query" && c.Params.Get("meta") == "tokens" && c.Params.Get("type") == "":
			return true
		}
		return false
	})
}

func (s *Server) count(pred func(Call) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if pred(c) {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := r.Form
	if r.Method == http.MethodPost {
		params = r.PostForm
	}

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Action: params.Get("action"), Params: params})
	if s.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	sess := s.sessionLocked(w, r)
	var reply any
	switch action := params.Get("action"); {
	case r.Method == http.MethodGet && action == "query" && params.Get("meta") == "tokens":
		reply = s.tokensLocked(sess, params.Get("type"))
	case r.Method == http.MethodGet && action == "query" && params.Get("prop") == "revisions":
		reply = s.revisionsLocked(params.Get("titles"))
	case r.Method == http.MethodPost && action == "login":
		reply = s.loginLocked(sess, params)
	case r.Method == http.MethodPost && action == "edit":
		reply = s.editLocked(sess, params)
	default:
		reply = apiError("badvalue", fmt.Sprintf("unsupported request %s %s", r.Method, action))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (s *Server) sessionLocked(w http.ResponseWriter, r *http.Request) *session {
	if c, err := r.Cookie(cookieName); err == nil {
		if sess, ok := s.sessions[c.Value]; ok {
			return sess
		}
	}
	s.seq++
	id := fmt.Sprintf("sess%d", s.seq)
	sess := &session{}
	s.sessions[id] = sess
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: id, Path: "/"})
	return sess
}

func (s *Server) tokensLocked(sess *session, typ string) any {
	s.seq++
	if typ == "login" {
		if s.breakLoginToken {
			return map[string]any{"query": map[string]any{"tokens": map[string]any{}}}
		}
		sess.loginToken = fmt.Sprintf("login%d+\\", s.seq)
		return map[string]any{"query": map[string]any{"tokens": map[string]any{"logintoken": sess.loginToken}}}
	}
	if sess.user == "" {
		return map[string]any{"query": map[string]any{"tokens": map[string]any{"csrftoken": "+\\"}}}
	}
	sess.csrf = fmt.Sprintf("csrf%d+\\", s.seq)
	return map[string]any{"query": map[string]any{"tokens": map[string]any{"csrftoken": sess.csrf}}}
}

func (s *Server) loginLocked(sess *session, p url.Values) any {
	if sess.loginToken == "" || p.Get("lgtoken") != sess.loginToken {
		return map[string]any{"login": map[string]any{"result": "WrongToken"}}
	}
	sess.loginToken = ""
	if pw, ok := s.accounts[p.Get("lgname")]; !ok || pw != p.Get("lgpassword") {
		return map[string]any{"login": map[string]any{
			"result": "Failed",
			"reason": "Incorrect username or password entered. Please try again.",
		}}
	}
	sess.user = p.Get("lgname")
	return map[string]any{"login": map[string]any{"result": "Success", "lgusername": sess.user}}
}

func (s *Server) revisionsLocked(title string) any {
	body, ok := s.pages[title]
	if !ok {
		return map[string]any{"query": map[string]any{"pages": map[string]any{
			"-1": map[string]any{"ns": 0, "title": title, "missing": ""},
		}}}
	}
	return map[string]any{"query": map[string]any{"pages": map[string]any{
		"42": map[string]any{"pageid": 42, "ns": 0, "title": title, "revisions": []any{
			map[string]any{"contentformat": "text/x-wiki", "contentmodel": "wikitext", "*": body},
		}},
	}}}
}

func (s *Server) editLocked(sess *session, p url.Values) any {
	token := p.Get("token")
	if sess.user == "" || sess.csrf == "" || token != sess.csrf {
		return apiError("badtoken", "Invalid CSRF token.")
	}
	// tokens are single use in this fake so reuse across edits is caught
	sess.csrf = ""
	title := p.Get("title")
	if code, ok := s.failEdit[title]; ok {
		return apiError(code, "Edit rejected by test fixture.")
	}
	if strings.TrimSpace(title) == "" {
		return apiError("missingtitle", "The page you specified doesn't exist.")
	}
	s.pages[title] = p.Get("text")
	s.rev++
	s.edits = append(s.edits, Edit{
		Title:   title,
		Text:    p.Get("text"),
		Summary: p.Get("summary"),
		Token:   token,
		Bot:     p.Get("bot"),
	})
	return map[string]any{"edit": map[string]any{"result": "Success", "title": title, "newrevid": s.rev}}
}

func apiError(code, info string) any {
	return map[string]any{"error": map[string]any{"code": code, "info": info}}
}
