package config

import (
	"cmp"
	"strings"
	"time"
)

// ObservabilityConfig covers the scrape endpoint, the transition webhook and
// failure alerts.
type ObservabilityConfig struct {
	Metrics MetricsConfig
	Webhook WebhookConfig
	Alerts  AlertsConfig `envPrefix:"ALERTS_"`
}

// Sanitize normalises every sub-config.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Webhook.Sanitize()
	c.Alerts.Sanitize()
}

// MetricsConfig mounts the Prometheus registry on the HTTP server.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"METRICS_PATH"    envDefault:"/metrics"`
}

// Sanitize forces an absolute path.
func (c *MetricsConfig) Sanitize() {
	p := cmp.Or(strings.TrimSpace(c.Path), "/metrics")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	c.Path = p
}

// IsEnabled reports whether the endpoint is mounted.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled && c.Path != ""
}

// WebhookConfig controls the job transition webhook. An empty URL disables it.
type WebhookConfig struct {
	URL string `env:"JOB_WEBHOOK_URL"`
	// Filter is a JMESPath expression over the event; a falsy result skips delivery.
	Filter string `env:"JOB_WEBHOOK_FILTER"`
	// Transform is a JMESPath expression whose result replaces the request body.
	Transform  string        `env:"JOB_WEBHOOK_TRANSFORM"`
	Timeout    time.Duration `env:"JOB_WEBHOOK_TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"JOB_WEBHOOK_RETRY_LIMIT" envDefault:"2"`
}

// Sanitize trims expressions and clamps the delivery settings.
func (c *WebhookConfig) Sanitize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Filter = strings.TrimSpace(c.Filter)
	c.Transform = strings.TrimSpace(c.Transform)
	c.Timeout, c.RetryLimit = deliveryLimits(c.Timeout, c.RetryLimit)
}

// IsEnabled reports whether a target URL is set.
func (c *WebhookConfig) IsEnabled() bool {
	return c.URL != ""
}

// AlertsConfig sends failed jobs to Slack and PagerDuty. Each sink is active
// once its credential is set and Enabled is true.
type AlertsConfig struct {
	Enabled    bool          `env:"ENABLED"     envDefault:"false"`
	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"RETRY_LIMIT" envDefault:"3"`
	// Kinds restricts alerts to these job kinds; empty alerts on every kind.
	Kinds []string `env:"KINDS"`

	Slack     SlackAlertConfig     `envPrefix:"SLACK_"`
	PagerDuty PagerDutyAlertConfig `envPrefix:"PAGERDUTY_"`
}

// SlackAlertConfig is one incoming webhook.
type SlackAlertConfig struct {
	WebhookURL string `env:"WEBHOOK_URL"`
	Channel    string `env:"CHANNEL"`
	Username   string `env:"USERNAME"       envDefault:"pageshot"`
	// JobURLPrefix links alerts to {prefix}/{kind}-jobs/{id}.
	JobURLPrefix string `env:"JOB_URL_PREFIX"`
}

// PagerDutyAlertConfig is one Events API v2 integration.
type PagerDutyAlertConfig struct {
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"pageshot"`
	Component  string `env:"COMPONENT"   envDefault:"pageshot"`
}

// Sanitize trims credentials and kinds and clamps delivery settings.
func (c *AlertsConfig) Sanitize() {
	c.Timeout, c.RetryLimit = deliveryLimits(c.Timeout, c.RetryLimit)

	kinds := c.Kinds[:0]
	for _, k := range c.Kinds {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kinds = append(kinds, k)
		}
	}
	c.Kinds = kinds

	c.Slack.WebhookURL = strings.TrimSpace(c.Slack.WebhookURL)
	c.Slack.Channel = strings.TrimSpace(c.Slack.Channel)
	c.Slack.JobURLPrefix = strings.TrimSpace(c.Slack.JobURLPrefix)
	c.Slack.Username = cmp.Or(strings.TrimSpace(c.Slack.Username), serviceName)

	c.PagerDuty.RoutingKey = strings.TrimSpace(c.PagerDuty.RoutingKey)
	c.PagerDuty.Source = cmp.Or(strings.TrimSpace(c.PagerDuty.Source), serviceName)
	c.PagerDuty.Component = cmp.Or(strings.TrimSpace(c.PagerDuty.Component), serviceName)
}

// SlackActive reports whether Slack alerts are sent.
func (c *AlertsConfig) SlackActive() bool {
	return c.Enabled && c.Slack.WebhookURL != ""
}

// PagerDutyActive reports whether PagerDuty incidents are raised.
func (c *AlertsConfig) PagerDutyActive() bool {
	return c.Enabled && c.PagerDuty.RoutingKey != ""
}

const (
	serviceName            = "pageshot"
	defaultDeliveryTimeout = 5 * time.Second
)

func deliveryLimits(timeout time.Duration, retries int) (time.Duration, int) {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return timeout, max(retries, 0)
}
