// Package redact masks sensitive values before they reach logs or
// diagnostics. Identity credentials must never leave the process in clear
// text through an observability surface.
package redact

import (
	"log/slog"
	"regexp"
)

// Mask replaces every matched value.
const Mask = "***"

var sensitiveKeys = []*regexp.Regexp{
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)api[_-]?key`),
}

// Sensitive reports whether a key names a value that must be masked.
func Sensitive(key string) bool {
	for _, p := range sensitiveKeys {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// Attr is a slog ReplaceAttr hook masking sensitive attribute values.
func Attr(_ []string, a slog.Attr) slog.Attr {
	if Sensitive(a.Key) {
		a.Value = slog.StringValue(Mask)
	}
	return a
}

// Map returns a masked deep copy. The input is never mutated: callers hold
// live state that the runtime keeps using after the log line is written.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if Sensitive(k) {
			out[k] = Mask
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			out[k] = Map(sub)
			continue
		}
		out[k] = v
	}
	return out
}
