package utils

import (
	"fmt"
	"log/slog"
)

// AppError carries the failing operation alongside a short message so a
// log line can say which subsystem broke (source fetch, store write)
// without the caller repeating that context at every return.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// LogValue renders the error as a structured group, keeping op and cause
// as separate attributes when logged with slog.Any.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("op", e.Op),
		slog.String("msg", e.Msg),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

// NewAppError wraps err with the operation and message. The cause stays
// reachable through errors.Is and errors.As.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
