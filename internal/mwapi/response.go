package mwapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Response is a decoded action API reply. Lookups walk nested objects by key.
type Response map[string]any

// Err returns the top-level "error" object as *APIError, or nil.
func (r Response) Err() *APIError {
	raw, ok := r["error"]
	if !ok {
		return nil
	}
	m, _ := raw.(map[string]any)
	e := &APIError{Code: "unknown", Info: "unknown error"}
	if v, ok := m["code"].(string); ok && v != "" {
		e.Code = v
	}
	if v, ok := m["info"].(string); ok && v != "" {
		e.Info = v
	}
	return e
}

// Lookup walks path through nested objects and returns the leaf value.
func (r Response) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(r)
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, "" when missing or not a string.
func (r Response) String(path ...string) string {
	v, ok := r.Lookup(path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int64 returns the number at path. JSON numbers decode as float64; strings are parsed too.
func (r Response) Int64(path ...string) (int64, bool) {
	v, ok := r.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Object returns the nested object at path.
func (r Response) Object(path ...string) (Response, bool) {
	v, ok := r.Lookup(path...)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return Response(m), ok
}

// Summary is a short, log-safe rendering of the reply.
func (r Response) Summary() string {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return fmt.Sprint(map[string]any(r))
	}
	const max = 300
	if len(b) > max {
		return string(b[:max-3]) + "..."
	}
	return string(b)
}
