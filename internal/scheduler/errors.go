/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingVariant is returned when a record or submission carries no variant.
	ErrMissingVariant = errors.New("timer variant not provided")

	// ErrUnknownVariant is returned when a variant is not registered.
	ErrUnknownVariant = errors.New("timer variant not registered")

	// ErrTimerNotFound is returned by operations that need an existing timer.
	ErrTimerNotFound = errors.New("timer not found")
)

// ValidationError reports a rejected construction option. No timer is
// created when it is returned.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid timer option %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid timer option %s=%v: %s", e.Field, e.Value, e.Reason)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func invalid(field string, value any, format string, args ...any) error {
	return &ValidationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}
