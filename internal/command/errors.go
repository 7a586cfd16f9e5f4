package command

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnknownCommand is reported when no registered name matches.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrNotAuthorized is reported when the caller's group is below the
	// command's requirement.
	ErrNotAuthorized = errors.New("command: not authorized")

	// ErrDuplicateCommand is returned by Register for a name already taken.
	ErrDuplicateCommand = errors.New("command: duplicate command name")

	// ErrInvalidDescriptor is returned by Register for malformed descriptors.
	ErrInvalidDescriptor = errors.New("command: invalid descriptor")

	// ErrPendingLimit is reported when a caller already has the maximum
	// number of invocations waiting for group resolution.
	ErrPendingLimit = errors.New("command: too many pending invocations")

	// ErrPendingExpired is reported for invocations dropped because the
	// caller's group was not resolved in time.
	ErrPendingExpired = errors.New("command: permission lookup timed out")
)

// BadArgumentsError reports the first argument that failed to convert.
type BadArgumentsError struct {
	// Position is the 1-based index of the failing argument.
	Position int

	// Token is the offending input; empty when the argument is missing.
	Token string

	// Kind is the expected kind, or 0 for surplus arguments.
	Kind Kind

	// Reason is a short human-readable explanation.
	Reason string
}

func (e *BadArgumentsError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("command: argument %d: %s", e.Position, e.Reason)
	}
	return fmt.Sprintf("command: argument %d (%s): %s", e.Position, strconv.Quote(e.Token), e.Reason)
}

// HandlerError wraps a failure returned by a command handler.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("command: %s: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
