package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/domain/model"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
	"github.com/target/mmk-pageshot/internal/observability/notify"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// ErrWebhookFiltered is returned by Prepare when the filter rejects an event.
var ErrWebhookFiltered = errors.New("event filtered")

const (
	webhookRetryBase   = 250 * time.Millisecond
	webhookMaxInflight = 16
)

// WebhookSinkOptions groups dependencies for WebhookSink.
type WebhookSinkOptions struct {
	Config    config.WebhookConfig // Required: URL must be set
	Client    *http.Client         // Optional: defaults to a client with Config.Timeout
	Evaluator JMESPathEvaluator    // Optional: defaults to go-jmespath
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// WebhookSink POSTs job transition events to a configured URL.
type WebhookSink struct {
	cfg      config.WebhookConfig
	poster   *notify.Poster
	jems     JMESPathEvaluator
	logger   *slog.Logger
	metrics  *metrics.Metrics
	inflight chan struct{}
	wg       sync.WaitGroup
}

// NewWebhookSink validates the target URL and expressions.
func NewWebhookSink(opts WebhookSinkOptions) (*WebhookSink, error) {
	cfg := opts.Config
	cfg.Sanitize()
	if !cfg.IsEnabled() {
		return nil, errors.New("webhook URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook URL scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("invalid webhook URL: missing host")
	}

	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}
	if err := jems.Validate(cfg.Filter); err != nil {
		return nil, fmt.Errorf("invalid webhook filter JMESPath: %w", err)
	}
	if err := jems.Validate(cfg.Transform); err != nil {
		return nil, fmt.Errorf("invalid webhook transform JMESPath: %w", err)
	}

	poster := notify.NewPoster(opts.Client, cfg.Timeout, cfg.RetryLimit)
	poster.Backoff = webhookRetryBase
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookSink{
		cfg:      cfg,
		poster:   poster,
		jems:     jems,
		logger:   logger.With("component", "job_webhook"),
		metrics:  opts.Metrics,
		inflight: make(chan struct{}, webhookMaxInflight),
	}, nil
}

// HandleJobEvent delivers ev in the background.
func (w *WebhookSink) HandleJobEvent(ctx context.Context, ev model.JobEvent) {
	body, err := w.Prepare(ev)
	if errors.Is(err, ErrWebhookFiltered) {
		w.metrics.ObserveWebhook(metrics.ResultNoop)
		return
	}
	if err != nil {
		w.metrics.ObserveWebhook(metrics.ResultError)
		w.logger.WarnContext(ctx, "webhook payload rejected", "job_id", ev.JobID, "error", err)
		return
	}

	dctx := context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.inflight <- struct{}{}
		defer func() { <-w.inflight }()

		if derr := w.Deliver(dctx, body); derr != nil {
			w.metrics.ObserveWebhook(metrics.ResultError)
			w.logger.WarnContext(dctx, "webhook delivery failed",
				"job_id", ev.JobID, "kind", ev.Kind, "status", ev.Status, "error", derr)
			return
		}
		w.metrics.ObserveWebhook(metrics.ResultSuccess)
	}()
}

// Prepare renders the request body for ev, or ErrWebhookFiltered when the filter is falsy.
func (w *WebhookSink) Prepare(ev model.JobEvent) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	if w.cfg.Filter == "" && w.cfg.Transform == "" {
		return raw, nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	if w.cfg.Filter != "" {
		res, ferr := w.jems.Evaluate(w.cfg.Filter, data)
		if ferr != nil {
			return nil, fmt.Errorf("evaluate filter JMESPath: %w", ferr)
		}
		if !truthy(res) {
			return nil, ErrWebhookFiltered
		}
	}

	if w.cfg.Transform == "" {
		return raw, nil
	}
	res, err := w.jems.Evaluate(w.cfg.Transform, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate transform JMESPath: %w", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal derived body: %w", err)
	}
	return b, nil
}

// Deliver POSTs body, retrying transport errors, 429 and 5xx up to RetryLimit times.
func (w *WebhookSink) Deliver(ctx context.Context, body []byte) error {
	return w.poster.Post(ctx, w.cfg.URL, body)
}

// Wait blocks until in-flight deliveries finish.
func (w *WebhookSink) Wait() {
	w.wg.Wait()
}

// truthy follows JMESPath truthiness: false, null and empty values are false.
func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}
