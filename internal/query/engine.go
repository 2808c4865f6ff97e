package query

import (
	"context"
	"errors"
	"fmt"
)

var ErrQueryFailed = errors.New("query failed")

// Engine runs one SQL statement against a named database.
type Engine interface {
	Name() string
	Run(ctx context.Context, sql, database string) (*Table, error)
}

// FailedError is returned by Executor for every failure. It carries the
// engine's message for display.
type FailedError struct {
	SQL      string
	Database string
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("query failed on %s: %v", e.Database, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func (e *FailedError) Is(target error) bool {
	return target == ErrQueryFailed
}

// StatementError marks a failure caused by the SQL itself (syntax, unknown
// table, permission). It does not count against the engine's health.
type StatementError struct {
	Message string
}

func (e *StatementError) Error() string {
	return e.Message
}

func IsStatementError(err error) bool {
	var se *StatementError
	return errors.As(err, &se)
}
