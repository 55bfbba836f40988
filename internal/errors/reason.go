package errors

import (
	"errors"

	"execution-core/internal/schema"
)

var _ error = (*reasonError)(nil)

// WithReason attaches a machine-readable reason code to an error.
func WithReason(err error, code schema.ReasonCode) error {
	if err == nil {
		return nil
	}
	return &reasonError{err: err, code: code}
}

// ReasonOf extracts the first reason code found in an error chain.
func ReasonOf(err error) (schema.ReasonCode, bool) {
	var re *reasonError
	if errors.As(err, &re) {
		return re.code, true
	}
	return schema.ReasonNone, false
}

type reasonError struct {
	err  error
	code schema.ReasonCode
}

func (err reasonError) Error() string {
	return string(err.code) + sep + err.err.Error()
}

func (err reasonError) Unwrap() error {
	return err.err
}
