package store

import (
	"errors"

	"github.com/i474232898/generation-mix-ingest/internal/common"
)

var (
	// ErrConstraint is returned when a row violates a table constraint.
	ErrConstraint = errors.New("row violates store constraint")

	// ErrLocked is returned when SQLite reports the database as busy or locked.
	ErrLocked = errors.New("database is locked")

	// ErrUnknownDriver is returned by New for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// classify maps driver errors onto the package sentinels where it can.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case common.HasAny(msg, "database is locked", "SQLITE_BUSY", "SQLITE_LOCKED"):
		return errors.Join(ErrLocked, err)
	case common.HasAny(msg, "CHECK constraint failed", "violates check constraint", "SQLSTATE 23514"):
		return errors.Join(ErrConstraint, err)
	}
	return err
}
