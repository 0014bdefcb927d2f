package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-pageshot/internal/data/pgxutil"
	"github.com/target/mmk-pageshot/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func jobAddedChannel(kind model.JobKind) string {
	return "job_added_" + string(kind)
}

// Create inserts one job and notifies waiting workers of its kind.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	jobs, err := r.CreateBatch(ctx, []*model.CreateJobRequest{req})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// CreateBatch inserts all requests in a single transaction.
func (r *JobRepo) CreateBatch(ctx context.Context, reqs []*model.CreateJobRequest) ([]*model.Job, error) {
	if len(reqs) == 0 {
		return nil, errors.New("at least one create job request is required")
	}
	for _, req := range reqs {
		if req == nil {
			return nil, errors.New("create job request is required")
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
	}

	jobs := make([]*model.Job, 0, len(reqs))
	err := pgxutil.Tx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		notified := map[model.JobKind]bool{}
		for _, req := range reqs {
			job, err := r.insertJobInTx(ctx, tx, req)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)

			if notified[req.Kind] {
				continue
			}
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel(req.Kind), job.ID); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}
			notified[req.Kind] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	t, err := tableFor(req.Kind)
	if err != nil {
		return nil, err
	}
	query, args, err := buildInsert(t, req)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s job: %w", req.Kind, err)
	}
	defer rows.Close()

	job, err := collectOne(t, rows)
	if err != nil {
		return nil, fmt.Errorf("insert %s job: %w", req.Kind, err)
	}
	return job, nil
}

func buildInsert(t jobTable, req *model.CreateJobRequest) (string, []any, error) {
	switch t.kind {
	case model.JobKindSitemap:
		return `INSERT INTO sitemap_jobs (owner, domain) VALUES ($1, $2) RETURNING ` + t.columns(""),
			[]any{req.Owner, req.Sitemap.Domain}, nil
	case model.JobKindCrawl:
		c := req.Crawl
		return `INSERT INTO crawl_jobs (owner, domain, sitemap_job_id, max_urls, crawl_depth)
			VALUES ($1, $2, $3, $4, $5) RETURNING ` + t.columns(""),
			[]any{req.Owner, c.Domain, nullableID(c.SitemapJobID), c.MaxURLs, c.CrawlDepth}, nil
	case model.JobKindScreenshot:
		s := req.Screenshot
		opts, err := json.Marshal(s.Options)
		if err != nil {
			return "", nil, fmt.Errorf("marshal capture options: %w", err)
		}
		return `INSERT INTO screenshot_jobs (owner, url, sitemap_job_id, options)
			VALUES ($1, $2, $3, $4) RETURNING ` + t.columns(""),
			[]any{req.Owner, s.URL, nullableID(s.SitemapJobID), opts}, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownKind, t.kind)
	}
}

func nullableID(id *string) any {
	if id == nil || *id == "" {
		return nil
	}
	return *id
}

// collectOne reads exactly one job from rows, returning pgx.ErrNoRows when empty.
func collectOne(t jobTable, rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	job, err := t.scan(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	return job, rows.Err()
}

func collectAll(t jobTable, rows pgx.Rows) ([]*model.Job, error) {
	defer rows.Close()
	var jobs []*model.Job
	for rows.Next() {
		job, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Get retrieves a job by kind and id.
func (r *JobRepo) Get(ctx context.Context, kind model.JobKind, id string) (*model.Job, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var job *model.Job
	err = pgxutil.Conn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+t.columns("")+` FROM `+t.name+` WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		job, qerr = collectOne(t, rows)
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s job: %w", kind, err)
	}
	return job, nil
}

// ListByOwner returns the owner's jobs of one kind, newest first.
func (r *JobRepo) ListByOwner(
	ctx context.Context,
	owner string,
	kind model.JobKind,
	opts model.ListOptions,
) ([]*model.Job, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(opts.Offset, 0)

	query := `SELECT ` + t.columns("") + ` FROM ` + t.name + ` WHERE owner = $1`
	args := []any{owner}
	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var jobs []*model.Job
	err = pgxutil.Conn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		jobs, qerr = collectAll(t, rows)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", kind, err)
	}
	return jobs, nil
}

// ListByIDs returns the owner's jobs among ids; ids belonging to other owners are silently absent.
func (r *JobRepo) ListByIDs(ctx context.Context, owner string, kind model.JobKind, ids []string) ([]*model.Job, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var jobs []*model.Job
	err = pgxutil.Conn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+t.columns("")+` FROM `+t.name+`
			 WHERE owner = $1 AND id::text = ANY($2::text[])
			 ORDER BY created_at ASC, id ASC`,
			owner, ids)
		if qerr != nil {
			return qerr
		}
		jobs, qerr = collectAll(t, rows)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list %s jobs by id: %w", kind, err)
	}
	return jobs, nil
}

// ReserveNext moves the oldest pending job of the kind to processing, FIFO by created_at.
// SKIP LOCKED keeps concurrent workers from picking the same row.
func (r *JobRepo) ReserveNext(ctx context.Context, kind model.JobKind) (*model.Job, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := `
		WITH cte AS (
			SELECT id FROM ` + t.name + `
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ` + t.name + ` j
		SET status = 'processing',
		    started_at = $1,
		    updated_at = $1
		FROM cte
		WHERE j.id = cte.id
		RETURNING ` + t.columns("j")

	var job *model.Job
	err = pgxutil.Tx(ctx, r.DB, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		now := r.now().UTC()
		rows, qerr := tx.Query(ctx, query, now)
		if qerr != nil {
			return fmt.Errorf("reserve job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectOne(t, rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("reserve job: %w", cerr)
		}
		job = j
		return r.notifyTransition(ctx, tx, j, model.JobStatusPending)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// WaitForNotification blocks until a job of the kind is inserted or ctx is done.
func (r *JobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return pgxutil.Listen(ctx, r.DB, jobAddedChannel(kind), func(string) (bool, error) {
		return false, nil
	})
}

// Stats returns job counts per status for one kind.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM `+t.name+` GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := &model.JobStats{}
	for rows.Next() {
		var status model.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		switch status {
		case model.JobStatusPending:
			stats.Pending = n
		case model.JobStatusProcessing:
			stats.Processing = n
		case model.JobStatusCompleted:
			stats.Completed = n
		case model.JobStatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}
