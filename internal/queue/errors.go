package queue

import (
	"errors"
	"fmt"
	"time"
)

// Error codes carried by the queue error taxonomy. The HTTP layer maps
// them onto response error codes.
const (
	CodeConfig     = "CONFIG_ERROR"
	CodeConnection = "CONNECTION_ERROR"
	CodeSend       = "SEND_ERROR"
	CodeConsume    = "CONSUME_ERROR"
	CodeTimeout    = "TIMEOUT_ERROR"
	CodeInternal   = "QUEUE_ERROR"
)

// ErrNotInitialized is returned by Manager operations invoked before
// Initialize/Start.
var ErrNotInitialized = errors.New("queue manager is not initialized")

// ConfigError reports malformed or incomplete queue configuration.
// It is fatal: construction fails, no partial state is left behind.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", CodeConfig, e.Reason)
	}
	return fmt.Sprintf("[%s] %s: %s", CodeConfig, e.Field, e.Reason)
}

// ConnectionError reports that the broker could not be reached. The
// Manager recovers from it by activating the in-process fallback.
type ConnectionError struct {
	Brokers []string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("[%s] broker unreachable %v: %v", CodeConnection, e.Brokers, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a failed send attempt. Surfaced to the caller of
// the send operations; a send either returns a task id or this error.
type SendError struct {
	TaskID string
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("[%s] %s", CodeSend, e.Reason)
	}
	return fmt.Sprintf("[%s] task %s: %s", CodeSend, e.TaskID, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }

// ConsumeError reports consumer misuse: starting without a connection,
// consuming before start, or a missing handler.
type ConsumeError struct {
	Reason string
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("[%s] %s", CodeConsume, e.Reason)
}

// TimeoutError reports a broker operation that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] %s exceeded %s", CodeTimeout, e.Op, e.Timeout)
}

// QueueError is the catch-all family for Manager-level failures. Callers
// of Manager operations only ever see the typed errors above or this one.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", CodeInternal, e.Op, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &QueueError{Op: op, Err: err}
}
