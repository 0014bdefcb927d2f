// Package util holds small string and display helpers shared by the runners
// and pageshot-admin.
package util //nolint:revive // package name util is kept for shared display helpers

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Placeholder is printed for values a job does not have yet.
const Placeholder = "-"

// JobDuration is how long a job ran, or zero when it has not both started
// and finished.
func JobDuration(started, completed *time.Time) time.Duration {
	if started == nil || completed == nil {
		return 0
	}
	return completed.Sub(*started)
}

// FormatJobDuration renders d for a table cell: Placeholder when not
// positive, millisecond precision below a second, whole seconds above.
func FormatJobDuration(d time.Duration) string {
	if d <= 0 {
		return Placeholder
	}
	if d < time.Second {
		return d.Truncate(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// Abbreviate collapses whitespace in s and cuts it to at most n runes,
// marking the cut with "...".
func Abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 3 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// TruncateBytes returns s as valid UTF-8 of at most n bytes. Invalid
// sequences become U+FFFD and a cut never splits a character.
func TruncateBytes(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Deref returns *s, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
