// Package errors reduces errors to a small fixed set of class labels so metric
// series and alert fields stay low-cardinality.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
)

// Class labels shared by metrics and failure notifications.
const (
	ClassTimeout     = "timeout"
	ClassCanceled    = "canceled"
	ClassDatabase    = "database"
	ClassNetwork     = "network"
	ClassInterrupted = "interrupted"
	ClassNotFound    = "not_found"
	ClassMalformed   = "malformed_output"
	ClassOther       = "other"
)

// Classify returns the class of err, or "" for nil. Application errors keep
// their code; everything else is bucketed by cause.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case goerrors.Is(err, context.Canceled):
		return ClassCanceled
	}

	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return ClassDatabase
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassOther
}

// ClassifyMessage classifies a stored job failure message, for callers that only
// have the text.
func ClassifyMessage(msg string) string {
	m := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case m == "":
		return ""
	case strings.HasPrefix(m, "interrupted"):
		return ClassInterrupted
	case strings.Contains(m, "no sitemap found"):
		return ClassNotFound
	case strings.Contains(m, "malformed"):
		return ClassMalformed
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"), strings.Contains(m, "deadline exceeded"):
		return ClassTimeout
	default:
		return ClassOther
	}
}
