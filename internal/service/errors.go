package service

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstream marks a parsed upstream response that carried an "error" key
	ErrUpstream = errors.New("upstream returned an error")

	// ErrNoResponse marks an empty or failed raw-text response
	ErrNoResponse = errors.New("no response from upstream")

	// ErrInvalidArgument marks a guard violation detected before any network call
	ErrInvalidArgument = errors.New("invalid argument")
)

// ArgumentError reports a confirmation flag that was not set
type ArgumentError struct {
	Flag string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("Error: %s must be true", e.Flag)
}

// Is lets errors.Is match ErrInvalidArgument
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}
