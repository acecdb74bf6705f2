package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies analytics failures. The value doubles as the API error code.
type ErrorKind string

const (
	KindDataInsufficient ErrorKind = "ERR_DATA_INSUFFICIENT"
	KindInvalidRange     ErrorKind = "ERR_INVALID_RANGE"
	KindModelNotFound    ErrorKind = "ERR_MODEL_NOT_FOUND"
)

// Error is a typed analytics error. Match it with errors.Is against the sentinels.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrDataInsufficient = &Error{Kind: KindDataInsufficient, Msg: "not enough data points"}
	ErrInvalidRange     = &Error{Kind: KindInvalidRange, Msg: "invalid range"}
	ErrModelNotFound    = &Error{Kind: KindModelNotFound, Msg: "model not found"}
)

// DataInsufficient reports a sample below the minimum for the requested statistic.
func DataInsufficient(format string, a ...interface{}) error {
	return &Error{Kind: KindDataInsufficient, Msg: fmt.Sprintf(format, a...)}
}

// InvalidRange reports a malformed window or a target not after history.
func InvalidRange(format string, a ...interface{}) error {
	return &Error{Kind: KindInvalidRange, Msg: fmt.Sprintf(format, a...)}
}

// ModelNotFound reports an unknown metric, model or model version.
func ModelNotFound(format string, a ...interface{}) error {
	return &Error{Kind: KindModelNotFound, Msg: fmt.Sprintf(format, a...)}
}

// KindOf extracts the analytics error kind from a wrapped error chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
