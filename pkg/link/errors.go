package link

import "errors"

var (
	// ErrNotRegistered indicates Send is called before Register.
	ErrNotRegistered = errors.New("transport not registered")
	// ErrAlreadyRegistered indicates Register is called more than once.
	ErrAlreadyRegistered = errors.New("transport already registered")
	// ErrClosed indicates the transport has been shut down.
	ErrClosed = errors.New("transport closed")
)
