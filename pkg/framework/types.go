// Package framework runs the long-running parts of a daemon.
package framework

import "context"

// Runnable is a long-running task stopped by cancelling its context.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc is func type of Runnable.
type RunnableFunc func(context.Context) error

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Named is implemented by Runnables with a name for logging.
type Named interface {
	Name() string
}
