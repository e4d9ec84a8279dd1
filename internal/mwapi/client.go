// Package mwapi is a thin transport for the MediaWiki action API.
//
// It only knows how to send query (GET) and form (POST) requests to an
// api.php endpoint and decode the JSON reply. Login, tokens and edits are
// built on top of it by package wiki.
package mwapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "wikicron/1.0"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 8 << 20
)

// ErrTransport marks failures below the API layer (network, HTTP status, undecodable body).
var ErrTransport = errors.New("mwapi: transport failure")

// APIError is the top-level "error" object of an action API reply.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mwapi: api error %s: %s", e.Code, e.Info)
}

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSec caps outgoing requests for this client; 0 disables throttling.
	RatePerSec float64
	// HTTPClient overrides the underlying client (its Jar is replaced).
	HTTPClient *http.Client
}

// Client talks to a single api.php endpoint and keeps its own cookie jar,
// so two clients never share login state.
type Client struct {
	endpoint string
	ua       string
	http     *http.Client
	limiter  *rate.Limiter
}

// New creates a client for the given endpoint (see Endpoint).
func New(endpoint string, opt Options) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	hc := &http.Client{}
	if opt.HTTPClient != nil {
		cp := *opt.HTTPClient
		hc = &cp
	}
	hc.Jar = jar
	if hc.Timeout == 0 {
		hc.Timeout = opt.Timeout
		if hc.Timeout <= 0 {
			hc.Timeout = defaultTimeout
		}
	}

	ua := strings.TrimSpace(opt.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	c := &Client{endpoint: endpoint, ua: ua, http: hc}
	if opt.RatePerSec > 0 {
		burst := int(opt.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opt.RatePerSec), burst)
	}
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

// Get issues GET endpoint?params and decodes the JSON reply into a generic map.
func (c *Client) Get(ctx context.Context, params url.Values) (Response, error) {
	u := c.endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	return c.do(req)
}

// Post issues a form-encoded POST to the endpoint.
func (c *Client) Post(ctx context.Context, form url.Values) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: http status %d", ErrTransport, resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrTransport, err)
	}
	return out, nil
}
