package ipc

import (
	"context"
	"io"
	"strings"
)

// Request is an inbound command.
type Request struct {
	Context context.Context
	// Line is the command text after the "+AT" marker.
	Line string
	// Args is Line with the keyword and following whitespace skipped.
	Args string
}

// ResponseWriter is used by a handler to talk back to the peer.
type ResponseWriter interface {
	// Respond sends a response line.
	Respond(line string) error
	// Complete sends OK (code 0) or ERR and completes the command.
	// A handler which calls Complete must return CodeResponded.
	Complete(code int) error
	// Command sends a new command to the peer without waiting for its reply.
	Command(cmd string) error
	// Console is where text for the local console goes.
	Console() io.Writer
}

// Handler serves an inbound command. The returned code decides the reply:
// 0 sends OK, a positive code sends ERR, CodeResponded sends nothing.
type Handler interface {
	ServeCommand(w ResponseWriter, req *Request) int
}

// HandlerFunc is func type of Handler.
type HandlerFunc func(ResponseWriter, *Request) int

// ServeCommand implements Handler.
func (f HandlerFunc) ServeCommand(w ResponseWriter, req *Request) int {
	return f(w, req)
}

// Entry binds a command name to a Handler.
type Entry struct {
	Name    string
	Handler Handler
}

// Table is an ordered list of entries, the first match wins.
type Table []Entry

// Validate checks every entry has a name and a handler.
func (t Table) Validate() error {
	for _, e := range t {
		if e.Name == "" || e.Handler == nil {
			return ErrInvalidTable
		}
	}
	return nil
}

// Matcher tells whether a command line selects the entry name.
type Matcher func(line, name string) bool

// PrefixMatch compares the line against the name without its last byte.
// Deployed firmware matches this way, so "GETVE" selects GETVER and
// "DBOUTX" selects DBOUT.
func PrefixMatch(line, name string) bool {
	n := len(name) - 1
	if n < 0 {
		n = 0
	}
	return len(line) >= n && line[:n] == name[:n]
}

// ExactMatch requires the keyword of the line to equal the name.
func ExactMatch(line, name string) bool {
	keyword := line
	if n := strings.IndexFunc(line, isSpace); n >= 0 {
		keyword = line[:n]
	}
	return keyword == name
}

// Lookup finds the entry for req in tables in order and invokes it.
// When nothing matches, found is false and code is CodeBadCommand.
func Lookup(w ResponseWriter, req *Request, match Matcher, tables ...Table) (found bool, code int) {
	if match == nil {
		match = PrefixMatch
	}
	for _, t := range tables {
		for _, e := range t {
			if match(req.Line, e.Name) {
				return true, e.Handler.ServeCommand(w, req)
			}
		}
	}
	return false, CodeBadCommand
}

// Dispatcher resolves commands against an extension and a common table.
type Dispatcher struct {
	Ext    Table
	Common Table
	Match  Matcher
}

// Dispatch looks up and invokes the handler of line. An empty line is
// answered with OK without a lookup.
func (d *Dispatcher) Dispatch(ctx context.Context, w ResponseWriter, line string) (found bool, code int) {
	if line == "" {
		return false, CodeOK
	}
	req := &Request{Context: ctx, Line: line, Args: nextArg(line)}
	return Lookup(w, req, d.Match, d.Ext, d.Common)
}
