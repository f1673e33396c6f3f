package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrMissingKey      = errors.New("missing key")
	ErrNoProperties    = errors.New("no properties")
	ErrNoSuchItem      = errors.New("no such item")

	// ErrIntegrity marks a change that could not be tied to a task. It is a
	// data-model fault, never a user error.
	ErrIntegrity = errors.New("integrity fault")

	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError rejects a request without changing anything: before any
// statement runs, or when the statement matched no row.
type ValidationError struct {
	Kind   error
	Entity string
	Names  []string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrUnknownProperty:
		return fmt.Sprintf("Unknown properties for %s: %s", e.Entity, strings.Join(e.Names, ","))
	case ErrMissingKey:
		return fmt.Sprintf("Missing necessary ID(s) for %s: %s", e.Entity, strings.Join(e.Names, ","))
	case ErrNoProperties:
		return fmt.Sprintf("No properties to update for %s", e.Entity)
	case ErrNoSuchItem:
		return fmt.Sprintf("No %s found with %s", e.Entity, strings.Join(e.Names, ","))
	}
	return fmt.Sprintf("invalid request for %s", e.Entity)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
