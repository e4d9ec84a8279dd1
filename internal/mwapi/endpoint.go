package mwapi

import (
	"fmt"
	"net/url"
	"strings"
)

const apiPath = "/w/api.php"

// Endpoint normalizes a wiki URL to its api.php endpoint.
//
//	"knightshift.miraheze.org"          -> "https://knightshift.miraheze.org/w/api.php"
//	"https://example.org/wiki/"         -> "https://example.org/wiki/w/api.php"
//	"http://localhost:8080/w/api.php"   -> unchanged
//
// Query strings and fragments are dropped.
func Endpoint(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty wiki url")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid wiki url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid wiki url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid wiki url %q: missing host", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/api.php") {
		path += apiPath
	}
	return (&url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host), Path: path}).String(), nil
}
