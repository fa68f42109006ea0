package dbutil

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErr "github.com/thehao1505/backend-capstone/internal/pkg/errors"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT\s+\?\s*,\s*\?`)

// Finalize turns a gendry statement into postgres form: MySQL style
// "LIMIT offset, count" becomes "LIMIT count OFFSET offset" and the
// placeholders are renumbered.
func Finalize(query string, args []interface{}) (string, []interface{}) {
	loc := limitRegex.FindStringIndex(query)
	if loc != nil {
		prefix := query[:loc[0]]
		qCount := strings.Count(prefix, "?")
		if qCount+1 < len(args) {
			args[qCount], args[qCount+1] = args[qCount+1], args[qCount]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}

func pgCode(err error) string {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return string(pgErr.Code)
	}
	return ""
}

func IsConflict(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// MapError translates constraint violations into the application error
// kinds; anything else is returned unchanged.
func MapError(err error) error {
	switch pgCode(err) {
	case pgUniqueViolation:
		return appErr.ErrConflict
	case pgForeignKeyViolation:
		return appErr.ErrNotFound
	}
	return err
}
