package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPostTimeout = 5 * time.Second
	defaultBackoff     = 200 * time.Millisecond
	maxErrorBody       = 4 << 10
)

// StatusError is a non-2xx answer from the receiving endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned status %d", e.Code)
	}
	return fmt.Sprintf("endpoint returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether a later attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Poster POSTs JSON bodies, retrying transport errors, 429 and 5xx answers.
// The delay before retry n is Backoff * 2^(n-1).
type Poster struct {
	Client  *http.Client
	Retries int
	Backoff time.Duration
	Sleep   func(context.Context, time.Duration) error
}

// NewPoster builds a Poster with its own client when hc is nil.
func NewPoster(hc *http.Client, timeout time.Duration, retries int) *Poster {
	if hc == nil {
		if timeout <= 0 {
			timeout = defaultPostTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Poster{Client: hc, Retries: max(retries, 0), Backoff: defaultBackoff, Sleep: SleepContext}
}

// PostJSON marshals v and posts it to endpoint.
func (p *Poster) PostJSON(ctx context.Context, endpoint string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	return p.Post(ctx, endpoint, body)
}

// Post sends body to endpoint until it is accepted, a permanent error occurs
// or the retries run out. The last error is returned.
func (p *Poster) Post(ctx context.Context, endpoint string, body []byte) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, p.Backoff<<(attempt-1)); serr != nil {
				return serr
			}
		}
		if err = p.once(ctx, endpoint, body); err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (p *Poster) once(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
