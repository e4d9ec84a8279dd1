package wiki

import (
	"context"
	"net/url"
	"strings"
	"time"

	"wikicron/internal/mwapi"
	logx "wikicron/pkg/logx"
)

// API is the request/response surface of an action API endpoint.
// *mwapi.Client implements it.
type API interface {
	Get(ctx context.Context, params url.Values) (mwapi.Response, error)
	Post(ctx context.Context, form url.Values) (mwapi.Response, error)
}

// ClientFactory creates an API bound to a fresh cookie jar for endpoint.
type ClientFactory func(endpoint string) (API, error)

// Session is an authenticated handle bound to exactly one target.
// It must be discarded after any failed call made with it.
type Session struct {
	target   string
	endpoint string
	api      API
	created  time.Time
}

func (s *Session) Target() string       { return s.target }
func (s *Session) Endpoint() string     { return s.endpoint }
func (s *Session) CreatedAt() time.Time { return s.created }

// Authenticator acquires sessions. It never retries on its own.
type Authenticator struct {
	newClient ClientFactory
	log       logx.Logger
}

// NewAuthenticator builds sessions on top of mwapi clients configured by opt.
func NewAuthenticator(opt mwapi.Options, log logx.Logger) *Authenticator {
	return NewAuthenticatorWithFactory(func(endpoint string) (API, error) {
		return mwapi.New(endpoint, opt)
	}, log)
}

func NewAuthenticatorWithFactory(f ClientFactory, log logx.Logger) *Authenticator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Authenticator{newClient: f, log: log}
}

// Acquire logs in to t and returns a fresh session, or an *AuthError.
func (a *Authenticator) Acquire(ctx context.Context, t Target) (*Session, error) {
	log := a.log.With(logx.String("target", t.Name))

	endpoint, err := mwapi.Endpoint(t.URL)
	if err != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthTransport, Reason: "bad url", Err: err}
	}
	api, err := a.newClient(endpoint)
	if err != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthTransport, Reason: "client init", Err: err}
	}
	log.Debug("requesting login token", logx.String("endpoint", endpoint))

	resp, err := api.Get(ctx, url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
		"type":   {"login"},
		"format": {"json"},
	})
	if err != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthTransport, Reason: "login token request", Err: err}
	}
	if apiErr := resp.Err(); apiErr != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthTokenFetchFailed, Reason: apiErr.Info, Err: apiErr}
	}
	token := resp.String("query", "tokens", "logintoken")
	if token == "" {
		return nil, &AuthError{Target: t.Name, Kind: AuthTokenFetchFailed, Reason: "missing query.tokens.logintoken"}
	}

	resp, err = api.Post(ctx, url.Values{
		"action":     {"login"},
		"lgname":     {t.Username},
		"lgpassword": {t.Password},
		"lgtoken":    {token},
		"format":     {"json"},
	})
	if err != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthTransport, Reason: "login request", Err: err}
	}
	if apiErr := resp.Err(); apiErr != nil {
		return nil, &AuthError{Target: t.Name, Kind: AuthCredentialsRejected, Reason: apiErr.Info, Err: apiErr}
	}
	if result := resp.String("login", "result"); result != "Success" {
		reason := strings.TrimSpace(resp.String("login", "reason"))
		if reason == "" {
			reason = "result " + quoteOrMissing(result)
		}
		return nil, &AuthError{Target: t.Name, Kind: AuthCredentialsRejected, Reason: reason}
	}

	log.Info("login successful", logx.String("user", t.Username))
	return &Session{
		target:   t.Name,
		endpoint: endpoint,
		api:      api,
		created:  time.Now(),
	}, nil
}

func quoteOrMissing(s string) string {
	if s == "" {
		return "<missing>"
	}
	return `"` + s + `"`
}
