package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no instance has been launched, or the
	// provider no longer knows about it.
	ErrNotFound = errors.New("instance not found")

	// ErrTransient marks a failure the backend documents as safe to retry,
	// such as a network blip while fetching status. Wrap it with %w.
	ErrTransient = errors.New("transient provider error")
)

// LaunchError reports that the provider rejected a launch request.
type LaunchError struct {
	Provider string
	// Detail is the provider-supplied reason, e.g. "quota exceeded".
	Detail string
	Err    error
}

// NewLaunchError builds a LaunchError for the given provider.
func NewLaunchError(provider, detail string, err error) *LaunchError {
	return &LaunchError{Provider: provider, Detail: detail, Err: err}
}

func (e *LaunchError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Detail {
		return fmt.Sprintf("%s launch rejected: %s: %v", e.Provider, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s launch rejected: %s", e.Provider, e.Detail)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
