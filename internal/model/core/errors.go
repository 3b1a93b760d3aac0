package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a marker already occupies the target coordinate.
	ErrConflict = errors.New("marker already exists at this location")
	// ErrRateLimited is returned when creation is attempted inside the throttle window.
	ErrRateLimited = errors.New("please wait before creating another marker")
	// ErrNetwork wraps any failed or timed out backend call.
	ErrNetwork = errors.New("network failure")
	// ErrValidation is returned when a form field is rejected before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrNoPosition is returned when the current position is unknown.
	ErrNoPosition = errors.New("could not get your current position")
	// ErrBusy is returned when the edit session has an operation in flight.
	ErrBusy = errors.New("edit session busy")
	// ErrNotSelected is returned when an operation needs a selected marker.
	ErrNotSelected = errors.New("no marker selected")
	// ErrUnknownMarker is returned when a marker is not a registry member.
	ErrUnknownMarker = errors.New("marker not in registry")
)

// ValidationError names the form field that blocked a commit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CommitError reports the field at which a sequential commit stopped.
// Fields before it were committed.
type CommitError struct {
	Field string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to update %s: %v", e.Field, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
