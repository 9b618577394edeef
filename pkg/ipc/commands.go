package ipc

import (
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Built-in command names.
const (
	CmdDebugOut   = "DBOUT"
	CmdEcho       = "ECHO"
	CmdGetVersion = "GETVER"
)

// DefaultEchoDelay is the pause between the OK of ECHO and the echoed command.
const DefaultEchoDelay = 300 * time.Millisecond

// DebugOut prints the argument on the console, adding CRLF when the
// text doesn't end with a newline.
func DebugOut(w ResponseWriter, req *Request) int {
	if req.Args == "" {
		return CodeOK
	}
	text := req.Args
	if !strings.HasSuffix(text, "\n") {
		text += "\r\n"
	}
	if _, err := io.WriteString(w.Console(), text); err != nil {
		glog.Warningf("ipc: console write: %v", err)
	}
	return CodeOK
}

// Echo answers OK, then sends the argument back as a new command after
// delay. The delay is cut short when the request context is done.
func Echo(delay time.Duration) HandlerFunc {
	return func(w ResponseWriter, req *Request) int {
		if err := w.Complete(CodeOK); err != nil {
			return CodeResponded
		}
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-req.Context.Done():
			return CodeResponded
		}
		if err := w.Command(req.Args); err != nil {
			glog.Warningf("ipc: echo %q: %v", req.Args, err)
		}
		return CodeResponded
	}
}

// GetVersion sends "GETVER <version>", the OK follows.
func GetVersion(version func() string) HandlerFunc {
	return func(w ResponseWriter, req *Request) int {
		if err := w.Respond(CmdGetVersion + " " + version()); err != nil {
			glog.Warningf("ipc: version response: %v", err)
		}
		return CodeOK
	}
}

// Canned returns a handler which sends a fixed response line before OK.
func Canned(response string) HandlerFunc {
	return func(w ResponseWriter, req *Request) int {
		if response != "" {
			if err := w.Respond(response); err != nil {
				glog.Warningf("ipc: response %q: %v", response, err)
			}
		}
		return CodeOK
	}
}

// CommonTable returns the built-in commands.
func CommonTable(echoDelay time.Duration, version func() string) Table {
	return Table{
		{Name: CmdDebugOut, Handler: HandlerFunc(DebugOut)},
		{Name: CmdEcho, Handler: Echo(echoDelay)},
		{Name: CmdGetVersion, Handler: GetVersion(version)},
	}
}
