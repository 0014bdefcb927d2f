// Package pgxutil gives database/sql pool users native pgx connections for
// batch queries, transactions and LISTEN.
package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrNotPgx is returned when the pool's driver is not pgx's stdlib driver.
var ErrNotPgx = errors.New("pgxutil: pool driver is not pgx stdlib")

// Conn pins one pooled connection and hands fn its underlying *pgx.Conn. The
// connection goes back to the pool when fn returns.
func Conn(ctx context.Context, db *sql.DB, fn func(*pgx.Conn) error) error {
	c, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer c.Close()

	return c.Raw(func(driverConn any) error {
		std, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrNotPgx, driverConn)
		}
		return fn(std.Conn())
	})
}

// Tx runs fn in a pgx transaction. A nil return commits; an error or panic
// rolls back.
func Tx(ctx context.Context, db *sql.DB, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	return Conn(ctx, db, func(c *pgx.Conn) error {
		return pgx.BeginTxFunc(ctx, c, opts, fn)
	})
}

// SQLTx runs fn in a database/sql transaction with default options.
func SQLTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Listen holds a connection subscribed to channel and passes each
// notification payload to fn. It returns when fn reports false or an error,
// or when ctx ends.
func Listen(ctx context.Context, db *sql.DB, channel string, fn func(payload string) (bool, error)) error {
	return Conn(ctx, db, func(c *pgx.Conn) error {
		ident := pgx.Identifier{channel}.Sanitize()
		if _, err := c.Exec(ctx, "LISTEN "+ident); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		defer func() { _, _ = c.Exec(context.WithoutCancel(ctx), "UNLISTEN "+ident) }()

		for {
			n, err := c.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			if more, ferr := fn(n.Payload); ferr != nil || !more {
				return ferr
			}
		}
	})
}
