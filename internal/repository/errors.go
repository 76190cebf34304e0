package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional insert lost to an existing row.
	ErrConflict = errors.New("record already exists")
	// ErrStale is returned when a guarded update matched no row because the
	// record left the required state.
	ErrStale = errors.New("record state changed")
	// ErrCacheMiss is returned by cache lookups with no entry.
	ErrCacheMiss = errors.New("cache miss")
)

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
