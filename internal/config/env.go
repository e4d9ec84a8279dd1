package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} in s. It returns an error
// listing every variable that is neither set nor defaulted.
func expandEnv(s string, lookup func(string) (string, bool)) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	out := envPattern.ReplaceAllStringFunc(s, func(match string) string {
		idx := envPattern.FindStringSubmatchIndex(match)
		name := match[idx[2]:idx[3]]
		if v, ok := lookup(name); ok {
			return v
		}
		if idx[4] >= 0 {
			return match[idx[4]:idx[5]]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})
	return out, errors.Join(errs...)
}

// expandTree applies expandEnv to every string leaf of a decoded document.
// Expanding after parsing keeps values with YAML-significant characters
// (passwords with ':' or '#') literal.
func expandTree(in any, lookup func(string) (string, bool)) (any, error) {
	var errs []error
	var walk func(v any) any
	walk = func(v any) any {
		switch x := v.(type) {
		case string:
			s, err := expandEnv(x, lookup)
			if err != nil {
				errs = append(errs, err)
			}
			return s
		case map[string]any:
			for k, e := range x {
				x[k] = walk(e)
			}
			return x
		case []any:
			for i := range x {
				x[i] = walk(x[i])
			}
			return x
		default:
			return v
		}
	}
	out := walk(in)
	return out, errors.Join(errs...)
}
