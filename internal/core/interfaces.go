// Package core declares the repository ports the service layer depends on.
package core

import (
	"context"
	"time"

	"github.com/target/mmk-pageshot/internal/domain/model"
)

// JobRepository is the Job Store: one table per job kind, guarded status updates.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// CreateBatch inserts every request in one transaction; either all jobs exist afterwards or none do.
	CreateBatch(ctx context.Context, reqs []*model.CreateJobRequest) ([]*model.Job, error)
	Get(ctx context.Context, kind model.JobKind, id string) (*model.Job, error)
	ListByOwner(ctx context.Context, owner string, kind model.JobKind, opts model.ListOptions) ([]*model.Job, error)
	ListByIDs(ctx context.Context, owner string, kind model.JobKind, ids []string) ([]*model.Job, error)
	// Transition applies req only if the stored status allows it and returns the job plus its prior status.
	// A job that exists but is in the wrong status yields model.ErrInvalidTransition.
	Transition(ctx context.Context, req *model.TransitionRequest) (*model.Job, model.JobStatus, error)
	// ReserveNext moves the oldest pending job of kind to processing.
	ReserveNext(ctx context.Context, kind model.JobKind) (*model.Job, error)
	WaitForNotification(ctx context.Context, kind model.JobKind) error
	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
}

// TransitionListener streams job transition events written by any instance.
type TransitionListener interface {
	ListenTransitions(ctx context.Context, fn func(TransitionNotice)) error
}

// TransitionNotice is the compact cross-instance transition payload.
type TransitionNotice struct {
	Origin string          `json:"origin"`
	Kind   model.JobKind   `json:"kind"`
	JobID  string          `json:"job_id"`
	Owner  string          `json:"owner"`
	From   model.JobStatus `json:"from"`
	Status model.JobStatus `json:"status"`
	At     time.Time       `json:"at"`
}

// JobAgeParams selects jobs of one kind older than MaxAge, BatchSize rows at a time.
type JobAgeParams struct {
	Kind      model.JobKind
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository provides retention operations over the job tables.
type ReaperRepository interface {
	// FailStaleJobs fails pending or processing jobs whose age exceeds MaxAge
	// and returns the ids it failed.
	FailStaleJobs(ctx context.Context, params JobAgeParams) ([]string, error)
	// DeleteOldJobs deletes terminal jobs whose completion is older than MaxAge.
	DeleteOldJobs(ctx context.Context, params JobAgeParams) (int64, error)
}

// CacheRepository is the shared key/value store behind the discovery cache
// and its cross-instance fill lock.
type CacheRepository interface {
	// Set stores a value with the given TTL. A TTL of 0 never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil, nil when the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}
