package adapter

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// isPgNoRows reports whether err is pgx's "no rows in result set".
func isPgNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// classifyPgError maps a pgx error to the engine's error taxonomy. An
// error the server itself reported (bad SQL, a missing table, a
// constraint violation from a misconfigured source) is permanent and
// must not consume retry budget; only failures to reach the server at
// all are transient.
func classifyPgError(source string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return domain.WrapError(domain.ErrKindSourceError, source, "database rejected the query", err)
	}
	return domain.WrapError(domain.ErrKindSourceUnavailable, source, "database unreachable", err)
}

// classifyHTTPStatus maps an HTTP status code to the engine's error
// taxonomy: 5xx and 429 are transient,
// authentication/authorization/not-found/schema problems are permanent.
func classifyHTTPStatus(source string, status int, body string) error {
	switch {
	case status == 429:
		return domain.WrapError(domain.ErrKindRateLimited, source, "rate limited by source", nil)
	case status >= 500:
		return domain.WrapError(domain.ErrKindSourceUnavailable, source, "source returned a server error", nil)
	case status == 401 || status == 403:
		return domain.WrapError(domain.ErrKindSourceError, source, "source rejected credentials", nil)
	case status == 404:
		return domain.ErrNotFound
	case status >= 400:
		return domain.WrapError(domain.ErrKindSourceError, source, "source rejected the request", nil)
	default:
		return nil
	}
}
