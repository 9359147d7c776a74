package task

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a malformed request, such as a bad URL.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized reports a missing or unverifiable caller credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInactiveKey reports a known credential that has been disabled.
	ErrInactiveKey = errors.New("api key is inactive")
	// ErrNotFound reports a task that does not exist or is not visible to the caller.
	ErrNotFound = errors.New("task not found")
	// ErrProvider reports a failed crawl provider call.
	ErrProvider = errors.New("crawl provider error")
	// ErrStore reports a failed persistence operation.
	ErrStore = errors.New("store error")
	// ErrTerminal reports an attempt to move a task out of a terminal status.
	ErrTerminal = errors.New("task already terminal")
	// ErrConflict reports a duplicate task id.
	ErrConflict = errors.New("task already exists")
)

// ProviderFailure is implemented by provider errors that carry the upstream
// HTTP status and any progress counters reported with the failure.
type ProviderFailure interface {
	error
	StatusCode() int
	ProviderMessage() string
	Counters() (completed, total int)
}

// StoreErr wraps err with ErrStore unless it already carries a taxonomy error.
func StoreErr(op string, err error) error {
	for _, known := range []error{ErrStore, ErrNotFound, ErrConflict, ErrTerminal, ErrInvalidInput} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
