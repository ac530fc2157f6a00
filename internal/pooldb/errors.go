package pooldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// isDuplicate reports whether err is a duplicate_database or duplicate_object
// class error. DDL here is at-least-once; duplicates on re-issue are expected.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P04", "42710": // duplicate_database, duplicate_object
			return true
		}
	}
	return false
}

// quoteLiteral quotes a string literal for interpolation into DDL that does
// not accept bind parameters (CREATE ROLE ... PASSWORD). Passwords are
// generated from a known-safe alphabet; a NUL byte is rejected outright.
func quoteLiteral(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("literal contains NUL byte")
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
}
