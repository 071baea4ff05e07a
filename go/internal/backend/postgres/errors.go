package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/trivia/go/internal/apperr"
)

// SQLSTATE codes the store translates into error kinds.
const (
	codeRaiseException  = "P0001"
	codeUniqueViolation = "23505"
	codeForeignKey      = "23503"
	codeCheckViolation  = "23514"
)

// mapError classifies a driver error. Procedures raise P0001 with the
// error kind in HINT.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperr.Unavailable(op, err)
	}
	switch pgErr.Code {
	case codeRaiseException:
		if sentinel := apperr.Sentinel(apperr.Kind(pgErr.Hint)); sentinel != nil {
			return apperr.New(sentinel, "%s: %s", op, pgErr.Message)
		}
	case codeUniqueViolation:
		return apperr.New(apperr.ErrConflict, "%s: %s", op, pgErr.ConstraintName)
	case codeForeignKey:
		return apperr.New(apperr.ErrNotFound, "%s: %s", op, pgErr.ConstraintName)
	case codeCheckViolation:
		return apperr.New(apperr.ErrInvalid, "%s: %s", op, pgErr.ConstraintName)
	}
	return apperr.Unavailable(op, err)
}
