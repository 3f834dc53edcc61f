// Package environment reads service configuration from environment variables.
//
// Optional values go through the *Or helpers, which fall back to a default
// when the variable is unset, empty, or unparsable. Required values are read
// through a Reader, which collects every missing name so a misconfigured
// deployment reports all of them at once instead of one per restart.
package environment

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the named variable, or def when it is unset or empty.
func StringOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// IntOr parses the named variable as a base-10 integer.
func IntOr(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FloatOr parses the named variable as a float64.
func FloatOr(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// BoolOr parses the named variable with strconv.ParseBool.
func BoolOr(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// DurationOr parses the named variable with time.ParseDuration ("30s", "5m").
func DurationOr(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// ListOr splits the named variable on commas, dropping empty elements.
func ListOr(name string, def []string) []string {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Pairs parses a comma-separated list of key=value pairs, e.g.
// "!abc:example.org=mira,!def:example.org=orion". Malformed elements are
// reported as an error rather than skipped.
func Pairs(name string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range ListOr(name, nil) {
		k, v, ok := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("environment: %s: malformed pair %q (want key=value)", name, p)
		}
		out[k] = v
	}
	return out, nil
}

// Reader accumulates lookups of required variables.
type Reader struct {
	missing map[string]struct{}
}

// NewReader returns an empty Reader.
func NewReader() *Reader {
	return &Reader{missing: make(map[string]struct{})}
}

// Required returns the named variable and records it as missing when unset.
func (r *Reader) Required(name string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		r.missing[name] = struct{}{}
	}
	return v
}

// Err reports every required variable that was missing, or nil.
func (r *Reader) Err() error {
	if len(r.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.missing))
	for n := range r.missing {
		names = append(names, n)
	}
	sort.Strings(names)
	return errors.New("environment: required variables not set: " + strings.Join(names, ", "))
}
