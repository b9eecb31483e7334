package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey signals that an insert lost to an existing document with the
// same id. Stores wrap it in DuplicateKeyError.
var ErrDuplicateKey = errors.New("duplicate key")

// DuplicateKeyError carries the collection and id of a rejected insert.
type DuplicateKeyError struct {
	Collection string
	ID         string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %s already exists", e.Collection, e.ID)
}

// Unwrap allows errors.Is(err, ErrDuplicateKey).
func (e DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// ConfigError reports a fatal misconfiguration; it is never retried.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Setting, e.Reason)
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr ConfigError
	return errors.As(err, &cfgErr)
}
