package ipc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no reply is received in time.
	ErrTimeout = errors.New("timeout waiting for reply")
	// ErrCommandTooLong indicates the command doesn't fit in a line.
	ErrCommandTooLong = errors.New("command too long")
	// ErrUnexpectedResponse indicates the response doesn't match the command.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrInvalidTable indicates an extension table has an invalid entry.
	ErrInvalidTable = errors.New("invalid command table")
	// ErrShutdown indicates the session is shut down.
	ErrShutdown = errors.New("session shut down")
)

// CommandError is an ERR reply from the peer.
type CommandError struct {
	Code int
	Text string
}

// Error implements error.
func (e *CommandError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("command error %d", e.Code)
	}
	return fmt.Sprintf("command error %d %s", e.Code, e.Text)
}
