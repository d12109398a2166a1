package common

import "errors"

// CodedError is an error carrying a stable machine-readable code alongside a
// human-readable reason; internal state never appears in the reason string
type CodedError struct {
	code   string
	reason string
}

// NewCodedError returns a typed error for the given code and reason
func NewCodedError(code, reason string) *CodedError {
	return &CodedError{code: code, reason: reason}
}

func (e *CodedError) Error() string {
	return e.reason
}

// Code returns the stable machine-readable error code
func (e *CodedError) Code() string {
	return e.code
}

// ErrorCode resolves the machine-readable code in the given error chain, if any
func ErrorCode(err error) *string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return StringOrNil(coded.Code())
	}
	return nil
}

// ErrTimeout is returned when an operation exceeds its caller-supplied deadline
var ErrTimeout = NewCodedError("timeout", "operation timed out before completion")
