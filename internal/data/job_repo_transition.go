package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/data/pgxutil"
	"github.com/target/mmk-pageshot/internal/domain/model"
)

// Transition applies a guarded status update. The WHERE clause only matches rows whose status
// is a legal predecessor of req.To, so concurrent terminal writers resolve first-wins.
func (r *JobRepo) Transition(ctx context.Context, req *model.TransitionRequest) (*model.Job, model.JobStatus, error) {
	if req == nil {
		return nil, "", errors.New("transition request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	t, err := tableFor(req.Kind)
	if err != nil {
		return nil, "", err
	}

	now := r.now().UTC()
	query, args := buildTransition(t, req, now)

	var (
		job  *model.Job
		from model.JobStatus
	)
	err = pgxutil.Tx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, query, args...)
		if qerr != nil {
			return fmt.Errorf("transition %s job: %w", req.Kind, qerr)
		}
		j, cerr := collectOne(t, rows)
		rows.Close()
		if errors.Is(cerr, pgx.ErrNoRows) {
			return r.explainNoop(ctx, tx, t, req)
		}
		if cerr != nil {
			return fmt.Errorf("transition %s job: %w", req.Kind, cerr)
		}

		job = j
		from = priorStatus(req.To, j)
		return r.notifyTransition(ctx, tx, j, from)
	})
	if err != nil {
		return nil, "", err
	}
	return job, from, nil
}

// buildTransition renders the UPDATE for req. $1 is the id, $2 the target status, $3 the timestamp.
func buildTransition(t jobTable, req *model.TransitionRequest, now any) (string, []any) {
	set := []string{"status = $2", "updated_at = $3"}
	args := []any{req.ID, req.To, now}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	switch req.To {
	case model.JobStatusProcessing:
		set = append(set, "started_at = $3")
	case model.JobStatusCompleted:
		set = append(set, "completed_at = $3")
		urls := req.URLs
		if urls == nil {
			urls = []string{}
		}
		switch t.kind {
		case model.JobKindSitemap:
			add("urls", urls)
			add("source", nullableString(string(req.Source)))
		case model.JobKindCrawl:
			add("discovered_urls", urls)
		case model.JobKindScreenshot:
			add("screenshot_url", nullableString(req.ScreenshotURL))
			add("thumbnail_url", nullableString(req.ThumbnailURL))
		}
	case model.JobStatusFailed:
		set = append(set, "completed_at = $3")
		add("error_message", req.ErrorMessage)
	case model.JobStatusPending:
	}

	allowed := make([]string, 0, 2)
	for _, s := range model.AllowedFrom(req.To) {
		allowed = append(allowed, string(s))
	}
	args = append(args, allowed)

	query := fmt.Sprintf(
		`UPDATE %s SET %s WHERE id = $1 AND status = ANY($%d::text[]) RETURNING %s`,
		t.name, strings.Join(set, ", "), len(args), t.columns(""),
	)
	return query, args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// priorStatus recovers the status the job left. Only failed has two predecessors;
// a job failed straight from pending never got started_at.
func priorStatus(to model.JobStatus, j *model.Job) model.JobStatus {
	switch to {
	case model.JobStatusProcessing:
		return model.JobStatusPending
	case model.JobStatusCompleted:
		return model.JobStatusProcessing
	case model.JobStatusFailed:
		if j.StartedAt == nil {
			return model.JobStatusPending
		}
		return model.JobStatusProcessing
	default:
		return ""
	}
}

// explainNoop distinguishes a missing job from one whose status forbids the move.
func (r *JobRepo) explainNoop(ctx context.Context, tx pgx.Tx, t jobTable, req *model.TransitionRequest) error {
	var current model.JobStatus
	err := tx.QueryRow(ctx, `SELECT status FROM `+t.name+` WHERE id = $1`, req.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s job status: %w", req.Kind, err)
	}
	return fmt.Errorf("%w: %s job %s is %s, cannot move to %s",
		model.ErrInvalidTransition, req.Kind, req.ID, current, req.To)
}

func (r *JobRepo) notifyTransition(ctx context.Context, tx pgx.Tx, j *model.Job, from model.JobStatus) error {
	payload, err := json.Marshal(core.TransitionNotice{
		Origin: r.instanceID,
		Kind:   j.Kind,
		JobID:  j.ID,
		Owner:  j.Owner,
		From:   from,
		Status: j.Status,
		At:     j.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal transition notice: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, TransitionChannel, string(payload)); err != nil {
		return fmt.Errorf("send transition notification: %w", err)
	}
	return nil
}

// ListenTransitions calls fn for every transition written by another instance until ctx is done.
func (r *JobRepo) ListenTransitions(ctx context.Context, fn func(core.TransitionNotice)) error {
	return pgxutil.Listen(ctx, r.DB, TransitionChannel, func(payload string) (bool, error) {
		var notice core.TransitionNotice
		if err := json.Unmarshal([]byte(payload), &notice); err != nil {
			r.logger.WarnContext(ctx, "discarding malformed transition notice", "error", err)
			return true, nil
		}
		if notice.Origin == r.instanceID {
			return true, nil
		}
		fn(notice)
		return true, nil
	})
}
