package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a value that failed its format or uniqueness rule.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation marks a state transition the aggregate refuses.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrNotFound is returned by lookups that were asked for a specific identity.
	ErrNotFound = errors.New("not found")
)

// DomainError carries the failing field alongside its kind.
// Kind is one of ErrInvalidArgument or ErrInvalidOperation.
type DomainError struct {
	Kind    error
	Field   string
	Message string
}

func (e *DomainError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Is(target error) bool {
	return target == e.Kind
}

func invalidArgument(field, format string, args ...any) error {
	return &DomainError{Kind: ErrInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalidOperation(format string, args ...any) error {
	return &DomainError{Kind: ErrInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err is a validation failure.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsInvalidOperation reports whether err is a rejected state transition.
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}
