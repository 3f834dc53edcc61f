// Package redact keeps credentials out of log output.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of the given secrets in s. Secrets shorter
// than 4 bytes are ignored so short common substrings are left alone.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Secret renders a credential for a startup log line: empty stays "(unset)",
// short values are fully hidden and longer ones keep their last 4 bytes.
func Secret(v string) string {
	switch {
	case v == "":
		return "(unset)"
	case len(v) <= 8:
		return placeholder
	default:
		return "…" + v[len(v)-4:]
	}
}
