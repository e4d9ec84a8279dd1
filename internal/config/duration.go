package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration settings are Go duration strings plus two shorthands: a bare
// integer counts seconds ("90", handy for values coming from ${VAR}) and a
// leading "<n>d" counts days ("1d", "1d12h"). Empty means zero, which every
// field reads as "use the default".

const day = 24 * time.Hour

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (want e.g. 90s, 5m, 1d)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", path, raw)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	i := strings.IndexByte(s, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, err
	}
	d := time.Duration(n) * day
	rest := s[i+1:]
	if rest == "" {
		return d, nil
	}
	if rest[0] == '-' || rest[0] == '+' {
		return 0, fmt.Errorf("sign after day count")
	}
	r, err := time.ParseDuration(rest)
	if err != nil {
		return 0, err
	}
	return d + r, nil
}

// durationLimit is the accepted range of one duration setting. Zero is
// always allowed; min and max bound explicit values (0 means no bound).
type durationLimit struct {
	path     string
	raw      string
	min, max time.Duration
}

func (l durationLimit) check() error {
	d, err := ParseDurationField(l.path, l.raw)
	if err != nil || d == 0 {
		return err
	}
	if l.min > 0 && d < l.min {
		return fmt.Errorf("%s: %s is below the minimum of %s", l.path, d, l.min)
	}
	if l.max > 0 && d > l.max {
		return fmt.Errorf("%s: %s is above the maximum of %s", l.path, d, l.max)
	}
	return nil
}
