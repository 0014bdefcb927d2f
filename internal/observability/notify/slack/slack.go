// Package slack posts failure alerts to a Slack incoming webhook.
package slack

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/target/mmk-pageshot/internal/observability/notify"
)

// Slack rejects section blocks with more than ten fields.
const maxSectionFields = 10

// Config for the Slack sink. JobURLPrefix links the alert title to
// {prefix}/{kind}-jobs/{id}.
type Config struct {
	WebhookURL   string
	Channel      string
	Username     string
	JobURLPrefix string
	Timeout      time.Duration
	RetryLimit   int
	Client       *http.Client
}

// Client is a notify.Sink for one webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	jobLinks   *url.URL
	poster     *notify.Poster
	now        func() time.Time
}

type message struct {
	Text     string  `json:"text"`
	Channel  string  `json:"channel,omitempty"`
	Username string  `json:"username,omitempty"`
	Blocks   []block `json:"blocks"`
}

type block struct {
	Type     string       `json:"type"`
	Text     *textObject  `json:"text,omitempty"`
	Fields   []textObject `json:"fields,omitempty"`
	Elements []textObject `json:"elements,omitempty"`
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) textObject { return textObject{Type: "mrkdwn", Text: s} }

// NewClient requires a webhook URL. An unusable JobURLPrefix disables links.
func NewClient(cfg Config) (*Client, error) {
	hook := strings.TrimSpace(cfg.WebhookURL)
	if hook == "" {
		return nil, errors.New("slack webhook url is required")
	}
	c := &Client{
		webhookURL: hook,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   cmp.Or(strings.TrimSpace(cfg.Username), "pageshot"),
		poster:     notify.NewPoster(cfg.Client, cfg.Timeout, cfg.RetryLimit),
		now:        time.Now,
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.JobURLPrefix)); err == nil && u.Scheme != "" && u.Host != "" {
		c.jobLinks = u
	}
	return c, nil
}

// Notify posts the alert for f.
func (c *Client) Notify(ctx context.Context, f notify.Failure) error {
	if err := c.poster.PostJSON(ctx, c.webhookURL, c.message(f)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func (c *Client) message(f notify.Failure) message {
	title := escape(f.Title())
	if link := c.jobLink(f.Kind, f.JobID); link != "" {
		title = "<" + link + "|" + title + ">"
	}

	blocks := []block{{Type: "section", Text: &textObject{Type: "mrkdwn", Text: ":rotating_light: *" + title + "*"}}}
	fields := f.Fields()
	for start := 0; start < len(fields); start += maxSectionFields {
		chunk := fields[start:min(start+maxSectionFields, len(fields))]
		sec := block{Type: "section", Fields: make([]textObject, 0, len(chunk))}
		for _, fl := range chunk {
			sec.Fields = append(sec.Fields, mrkdwn("*"+escape(fl.Label)+"*\n"+escape(fl.Value)))
		}
		blocks = append(blocks, sec)
	}
	blocks = append(blocks, block{
		Type:     "context",
		Elements: []textObject{mrkdwn("Failed at " + f.Timestamp(c.now).Format(time.RFC3339))},
	})

	return message{
		Text:     f.Title(),
		Channel:  c.channel,
		Username: c.username,
		Blocks:   blocks,
	}
}

func (c *Client) jobLink(kind, id string) string {
	if c.jobLinks == nil || kind == "" || id == "" {
		return ""
	}
	return c.jobLinks.JoinPath(kind+"-jobs", id).String()
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }
