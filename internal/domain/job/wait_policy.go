package job

import (
	"errors"
	"time"
)

// ErrInvalidMaxWait indicates the configured long-poll ceiling is not positive.
var ErrInvalidMaxWait = errors.New("max wait must be positive")

// WaitSource identifies how a long-poll wait was resolved.
type WaitSource string

const (
	// WaitSourceExplicit indicates the caller supplied a usable duration.
	WaitSourceExplicit WaitSource = "explicit"
	// WaitSourceDefault indicates the caller supplied nothing and the default was used.
	WaitSourceDefault WaitSource = "default"
	// WaitSourceClamped indicates the requested duration exceeded the ceiling.
	WaitSourceClamped WaitSource = "clamped"
)

// WaitPolicy bounds how long a worker reserve call may block waiting for work.
type WaitPolicy struct {
	defaultWait time.Duration
	maxWait     time.Duration
}

// NewWaitPolicy constructs a WaitPolicy. defaultWait is capped at maxWait.
func NewWaitPolicy(defaultWait, maxWait time.Duration) (*WaitPolicy, error) {
	if maxWait <= 0 {
		return nil, ErrInvalidMaxWait
	}
	return &WaitPolicy{
		defaultWait: min(max(defaultWait, 0), maxWait),
		maxWait:     maxWait,
	}, nil
}

// Max returns the configured ceiling.
func (p *WaitPolicy) Max() time.Duration {
	if p == nil {
		return 0
	}
	return p.maxWait
}

// WaitDecision captures the outcome of resolving a wait request.
type WaitDecision struct {
	Wait      time.Duration
	Source    WaitSource
	Requested time.Duration
}

// Clamped reports whether the request was cut down to the ceiling.
func (d WaitDecision) Clamped() bool {
	return d.Source == WaitSourceClamped
}

// Resolve normalises a requested wait. A negative request means none was given;
// zero means return immediately when the queue is empty.
func (p *WaitPolicy) Resolve(request time.Duration) WaitDecision {
	decision := WaitDecision{Requested: request}
	if p == nil {
		decision.Source = WaitSourceDefault
		return decision
	}

	switch {
	case request < 0:
		decision.Wait = p.defaultWait
		decision.Source = WaitSourceDefault
	case request > p.maxWait:
		decision.Wait = p.maxWait
		decision.Source = WaitSourceClamped
	default:
		decision.Wait = request.Truncate(time.Second)
		decision.Source = WaitSourceExplicit
	}
	return decision
}
