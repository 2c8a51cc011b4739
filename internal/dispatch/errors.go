package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConnection means the broker could not be reached at startup.
	ErrConnection = errors.New("broker connection failed")
	// ErrEnqueue means a message was not published. The side effect it
	// carried is lost; callers log and carry on.
	ErrEnqueue = errors.New("enqueue failed")
	// ErrUnknownTask means no handler is registered for the message's name.
	ErrUnknownTask = errors.New("unknown task")
	// ErrMissingHandlers means startup registration is incomplete.
	ErrMissingHandlers = errors.New("missing task handlers")
	// ErrInvalidArgs is returned by Args accessors.
	ErrInvalidArgs = errors.New("invalid task arguments")
)

// HandlerError wraps an error or panic raised by a task handler.
type HandlerError struct {
	Task string
	Args []json.RawMessage
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
