package mix

import (
	"errors"
	"fmt"
)

// AdapterError is returned when the Source fails (network, timeout, bad payload).
// The run made no store writes and can be retried as-is.
type AdapterError struct {
	Source string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// StoreError is returned when reading the watermark or writing the batch fails.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError describes why a single fetched row was dropped.
type ValidationError struct {
	Timestamp string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %q: %s: %s", e.Timestamp, e.Field, e.Reason)
}

// ErrNoData is returned by read paths when the requested range holds no records.
var ErrNoData = errors.New("no generation-mix data for requested range")
