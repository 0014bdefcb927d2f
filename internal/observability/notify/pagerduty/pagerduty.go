// Package pagerduty raises failure alerts through the PagerDuty Events API v2.
package pagerduty

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/mmk-pageshot/internal/observability/notify"
)

// APIEndpoint is the Events API v2 enqueue URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config for the PagerDuty sink. Endpoint overrides APIEndpoint.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Endpoint   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client is a notify.Sink that triggers one incident per failed job.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	poster     *notify.Poster
	now        func() time.Time
}

type event struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key,omitempty"`
	Payload     eventPayload `json:"payload"`
}

type eventPayload struct {
	Summary       string            `json:"summary"`
	Severity      notify.Severity   `json:"severity"`
	Source        string            `json:"source"`
	Component     string            `json:"component"`
	Timestamp     string            `json:"timestamp"`
	CustomDetails map[string]string `json:"custom_details"`
}

// NewClient requires a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &Client{
		routingKey: key,
		source:     cmp.Or(strings.TrimSpace(cfg.Source), "pageshot"),
		component:  cmp.Or(strings.TrimSpace(cfg.Component), "pageshot"),
		endpoint:   cmp.Or(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		poster:     notify.NewPoster(cfg.Client, cfg.Timeout, cfg.RetryLimit),
		now:        time.Now,
	}, nil
}

// Notify sends a trigger event for f.
func (c *Client) Notify(ctx context.Context, f notify.Failure) error {
	if err := c.poster.PostJSON(ctx, c.endpoint, c.event(f)); err != nil {
		return fmt.Errorf("pagerduty: %w", err)
	}
	return nil
}

func (c *Client) event(f notify.Failure) event {
	details := map[string]string{
		"job_id":      f.JobID,
		"job_kind":    f.Kind,
		"owner":       f.Owner,
		"target":      f.Target,
		"error":       f.Message,
		"error_class": f.Class,
	}
	for k, v := range f.Labels {
		if _, taken := details[k]; !taken {
			details[k] = v
		}
	}
	return event{
		RoutingKey:  c.routingKey,
		EventAction: "trigger",
		DedupKey:    f.DedupKey(),
		Payload: eventPayload{
			Summary:       f.Title(),
			Severity:      notify.ParseSeverity(string(f.Severity)),
			Source:        c.source,
			Component:     c.component,
			Timestamp:     f.Timestamp(c.now).Format(time.RFC3339),
			CustomDetails: details,
		},
	}
}
