package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is returned before any backend call when no API key is supplied.
	ErrMissingCredential = errors.New("please enter your OpenAI API key to continue")
	// ErrCredentialMismatch is returned when a key other than the session owner's is presented.
	ErrCredentialMismatch = errors.New("api key does not match this session")
	// ErrSessionNotFound is returned when a host session has not been started.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRunInProgress is returned when a session already has an active run.
	ErrRunInProgress = errors.New("a run is already in progress for this session")
	// ErrStreamConsumed is returned when a response stream is iterated twice.
	ErrStreamConsumed = errors.New("response stream already consumed")
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("run not found")
)

// UnknownToolError reports a tool invocation naming a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// RunFailedError reports a run that ended in the failed state.
// Err holds the transport or context error behind the failure, if any.
type RunFailedError struct {
	RunID  string
	Code   string
	Reason string
	Err    error
}

func (e *RunFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run %s failed: %s: %s", e.RunID, e.Code, e.Reason)
	}
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Reason)
}

func (e *RunFailedError) Unwrap() error {
	return e.Err
}

// ErrorCode maps a run error to the code reported to clients.
func ErrorCode(err error) string {
	var failed *RunFailedError
	var unknown *UnknownToolError
	switch {
	case errors.As(err, &failed) && failed.Code != "":
		return failed.Code
	case errors.As(err, &unknown):
		return "unknown_tool"
	default:
		return "run_failed"
	}
}
