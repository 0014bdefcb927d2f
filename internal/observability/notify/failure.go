// Package notify defines the failure alert model shared by the outbound alert
// sinks, plus the JSON poster they deliver through.
package notify

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Severity is the alert level attached to a failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// ParseSeverity accepts the three known levels case-insensitively; anything
// else, including empty, maps to critical.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityError, SeverityWarning:
		return sev
	default:
		return SeverityCritical
	}
}

// Failure describes one job that reached the failed state.
type Failure struct {
	JobID string
	Kind  string
	Owner string
	// Target is the domain for sitemap and crawl jobs and the page URL for screenshots.
	Target   string
	Message  string
	Class    string
	Severity Severity
	At       time.Time
	Labels   map[string]string
}

// Field is one labelled line of an alert body.
type Field struct {
	Label string
	Value string
}

// Title is the one-line alert summary.
func (f Failure) Title() string {
	return fmt.Sprintf("%s job %s for %s failed",
		orUnknown(f.Kind, "unknown"), orUnknown(f.JobID, "unknown"), orUnknown(f.Target, "unknown target"))
}

// DedupKey groups repeated alerts for the same job.
func (f Failure) DedupKey() string {
	return strings.Trim(f.Kind+":"+f.JobID, ":")
}

// Timestamp returns At in UTC, or now when At is unset.
func (f Failure) Timestamp(now func() time.Time) time.Time {
	if f.At.IsZero() {
		return now().UTC()
	}
	return f.At.UTC()
}

// Fields lists the non-empty alert details followed by labels in key order.
func (f Failure) Fields() []Field {
	out := make([]Field, 0, 6+len(f.Labels))
	for _, fl := range []Field{
		{"Severity", string(ParseSeverity(string(f.Severity)))},
		{"Target", f.Target},
		{"Owner", f.Owner},
		{"Error class", f.Class},
		{"Error", f.Message},
	} {
		if strings.TrimSpace(fl.Value) != "" {
			out = append(out, fl)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(f.Labels)) {
		out = append(out, Field{Label: k, Value: f.Labels[k]})
	}
	return out
}

func orUnknown(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Sink delivers failure alerts to one destination.
type Sink interface {
	Notify(ctx context.Context, f Failure) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, f Failure) error

// Notify calls fn; a nil SinkFunc is a no-op.
func (fn SinkFunc) Notify(ctx context.Context, f Failure) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, f)
}
