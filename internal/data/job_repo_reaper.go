package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/mmk-pageshot/internal/core"
	"github.com/target/mmk-pageshot/internal/data/pgxutil"
	"github.com/target/mmk-pageshot/internal/domain/model"
)

// Advisory lock namespace for reaper operations, used with the two-arg pg_try_advisory_xact_lock.
// The minor key is kindIndex*10 + operation so each kind and operation locks independently.
const (
	advisoryLockReaperMajor = 1000
	reaperOpFailStale       = 1
	reaperOpDelete          = 2
)

func reaperLockMinor(kind model.JobKind, op int) int {
	for i, k := range model.AllJobKinds() {
		if k == kind {
			return (i+1)*10 + op
		}
	}
	return op
}

// tryReaperLock returns false when another reaper instance holds the lock for this step.
func tryReaperLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).
		Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}

// FailStaleJobs fails up to BatchSize pending or processing jobs older than MaxAge
// and returns their ids. Processing jobs age from started_at, pending jobs from
// created_at. A sitemap job is left alone while a crawl linked to it is still
// pending or processing; that crawl settles it.
func (r *JobRepo) FailStaleJobs(ctx context.Context, params core.JobAgeParams) ([]string, error) {
	t, err := tableFor(params.Kind)
	if err != nil {
		return nil, err
	}
	if params.Status != model.JobStatusPending && params.Status != model.JobStatusProcessing {
		return nil, fmt.Errorf("cannot fail stale %s jobs", params.Status)
	}
	var openCrawl string
	if params.Kind == model.JobKindSitemap {
		crawls, _ := tableFor(model.JobKindCrawl)
		openCrawl = `
				  AND NOT EXISTS (
					SELECT 1 FROM ` + crawls.name + ` c
					WHERE c.sitemap_job_id = ` + t.name + `.id
					  AND c.status IN ('pending', 'processing')
				  )`
	}

	var ids []string
	err = pgxutil.SQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		locked, lerr := tryReaperLock(ctx, tx, reaperLockMinor(params.Kind, reaperOpFailStale))
		if lerr != nil || !locked {
			return lerr
		}

		now := r.now().UTC()
		cutoff := now.Add(-params.MaxAge)
		msg := fmt.Sprintf("job timed out in %s status", params.Status)

		rows, qerr := tx.QueryContext(ctx, `
			UPDATE `+t.name+`
			SET status = 'failed',
			    error_message = $1,
			    completed_at = $2,
			    updated_at = $2
			WHERE id IN (
				SELECT id FROM `+t.name+`
				WHERE status = $3
				  AND COALESCE(started_at, created_at) < $4`+openCrawl+`
				ORDER BY created_at
				LIMIT $5
			)
			RETURNING id`, msg, now, params.Status, cutoff, params.BatchSize)
		if qerr != nil {
			return fmt.Errorf("fail stale %s jobs: %w", params.Kind, qerr)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if serr := rows.Scan(&id); serr != nil {
				return fmt.Errorf("scan reaped id: %w", serr)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteOldJobs deletes up to BatchSize terminal jobs completed before now-MaxAge.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.JobAgeParams) (int64, error) {
	t, err := tableFor(params.Kind)
	if err != nil {
		return 0, err
	}
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("cannot delete %s jobs", params.Status)
	}

	var affected int64
	err = pgxutil.SQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		locked, lerr := tryReaperLock(ctx, tx, reaperLockMinor(params.Kind, reaperOpDelete))
		if lerr != nil || !locked {
			return lerr
		}

		cutoff := r.now().UTC().Add(-params.MaxAge)
		res, xerr := tx.ExecContext(ctx, `
			DELETE FROM `+t.name+`
			WHERE id IN (
				SELECT id FROM `+t.name+`
				WHERE status = $1
				  AND completed_at < $2
				ORDER BY completed_at
				LIMIT $3
			)`, params.Status, cutoff, params.BatchSize)
		if xerr != nil {
			return fmt.Errorf("delete old %s jobs: %w", params.Kind, xerr)
		}
		affected, xerr = res.RowsAffected()
		return xerr
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}
