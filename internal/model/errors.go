package model

import (
	"errors"
	"fmt"
)

var (
	// ErrScheduleNotFound means the user has not imported a schedule yet.
	// It is distinct from a day without lessons, which is a valid result.
	ErrScheduleNotFound = errors.New("schedule not found, please set your schedule before requesting it")

	// ErrNotFound covers an exhausted deadline search and a delete whose
	// key matched nothing.
	ErrNotFound = errors.New("not found")

	ErrPlacementRequired = errors.New("the subject has a lesson on that date, choose lesson or day")
	ErrStaleSubject      = errors.New("subject does not belong to the current schedule")
	ErrEmptyDescription  = errors.New("empty description")
)

// MalformedScheduleError reports a spreadsheet that does not have the
// expected shape. The message is meant to be shown to the user as is.
type MalformedScheduleError struct {
	Reason string
}

func (e *MalformedScheduleError) Error() string {
	return "malformed schedule: " + e.Reason
}

func MalformedSchedule(format string, args ...any) error {
	return &MalformedScheduleError{Reason: fmt.Sprintf(format, args...)}
}

// MalformedDateError reports user date input that could not be accepted.
type MalformedDateError struct {
	Input  string
	Reason string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date %q: %s", e.Input, e.Reason)
}

// IsUserError reports whether err is a domain error the user can fix by
// retrying the same step.
func IsUserError(err error) bool {
	var ms *MalformedScheduleError
	var md *MalformedDateError
	return errors.As(err, &ms) || errors.As(err, &md) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlacementRequired) ||
		errors.Is(err, ErrStaleSubject) ||
		errors.Is(err, ErrEmptyDescription)
}
