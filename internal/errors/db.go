package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// "Key (field)=(value) already exists."
	keyColumn = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// `... is not present in table "x".`
	missingParent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// jobTableNouns names the job tables the way API messages refer to them.
var jobTableNouns = map[string]string{
	"sitemap_jobs":    "sitemap job",
	"crawl_jobs":      "crawl job",
	"screenshot_jobs": "screenshot job",
}

// MapDBError turns driver and context errors into AppErrors so the HTTP layer
// can pick a status. Errors it does not recognize are returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "database request timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(err, ErrCodeCanceled, "database request was canceled")
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return Wrap(err, ErrCodeNotFound, "resource not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	e := &AppError{Cause: pgErr, Field: pgErr.ColumnName}
	switch code := pgErr.Code; {
	case code == pgerrcode.UniqueViolation:
		e.Code, e.Message = ErrCodeConflict, "this value already exists"
		if e.Field == "" {
			e.Field = submatch(keyColumn, pgErr.Detail)
		}
	case code == pgerrcode.ForeignKeyViolation:
		e.Code = ErrCodeForeignKey
		e.Message = "The referenced " + tableNoun(submatch(missingParent, pgErr.Detail)) + " does not exist."
	case code == pgerrcode.CheckViolation, code == pgerrcode.NotNullViolation, pgerrcode.IsDataException(code):
		e.Code, e.Message = ErrCodeValidation, "invalid value"
		if e.Field != "" {
			e.Message = "invalid value for " + e.Field
		}
	default:
		e.Code, e.Message = ErrCodeInternal, "database error"
	}
	return e
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) == 2 {
		return m[1]
	}
	return ""
}

func tableNoun(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if noun, ok := jobTableNouns[table]; ok {
		return noun
	}
	if table == "" {
		return "item"
	}
	return strings.ReplaceAll(table, "_", " ")
}
