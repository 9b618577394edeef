package ipc

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/ardlink/pkg/link"
	"github.com/robotalks/ardlink/pkg/metrics"
	"github.com/robotalks/ardlink/pkg/version"
)

// Defaults of the reply wait.
const (
	DefaultRetryCount    = 10
	DefaultRetryInterval = 100 * time.Millisecond
)

// Option configures a Session.
type Option func(*Session)

// WithConsole sets the sink of DBOUT text, os.Stdout by default.
func WithConsole(w io.Writer) Option {
	return func(s *Session) { s.console = w }
}

// WithVersion sets the version source of GETVER.
func WithVersion(fn func() string) Option {
	return func(s *Session) { s.version = fn }
}

// WithTimeout sets the reply wait to count * interval.
func WithTimeout(count int, interval time.Duration) Option {
	return func(s *Session) { s.retryCount, s.retryInterval = count, interval }
}

// WithEchoDelay sets the delay of the ECHO command.
func WithEchoDelay(d time.Duration) Option {
	return func(s *Session) { s.echoDelay = d }
}

// WithMatcher replaces the command matcher.
func WithMatcher(m Matcher) Option {
	return func(s *Session) { s.dispatcher.Match = m }
}

// WithRejectBusy answers ERR BUSY to inbound commands received while a
// previous one is still unanswered.
func WithRejectBusy(reject bool) Option {
	return func(s *Session) { s.rejectBusy = reject }
}

// WithMetrics sets the metrics of the session.
func WithMetrics(m *metrics.Session) Option {
	return func(s *Session) { s.metrics = m }
}

// Stats is a snapshot of the session state.
type Stats struct {
	LastCommand string
	InFlight    int
	Busy        int
	Response    string
	LastError   *CommandError
}

// Session is one end of the command protocol over a transport.
type Session struct {
	transport     link.Transport
	dispatcher    Dispatcher
	console       io.Writer
	version       func() string
	echoDelay     time.Duration
	retryCount    int
	retryInterval time.Duration
	rejectBusy    bool
	metrics       *metrics.Session

	sendSem chan struct{}

	lock     sync.Mutex
	lastCmd  string
	inFlight int
	lastErr  *CommandError
	response string
	busy     int
	changed  chan struct{}
	closed   bool

	done         chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Session over t. Init starts it.
func New(t link.Transport, opts ...Option) *Session {
	s := &Session{
		transport:     t,
		console:       os.Stdout,
		version:       version.String,
		echoDelay:     DefaultEchoDelay,
		retryCount:    DefaultRetryCount,
		retryInterval: DefaultRetryInterval,
		sendSem:       make(chan struct{}, 1),
		changed:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init installs the extension table (may be nil) and registers the
// session with the transport.
func (s *Session) Init(ext Table) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	s.dispatcher.Ext = ext
	s.dispatcher.Common = CommonTable(s.echoDelay, s.version)
	return s.transport.Register(s)
}

// Name implements framework.Named.
func (s *Session) Name() string {
	return "ipc-session"
}

// Run waits until ctx is done or the transport stops, then shuts down.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.Shutdown()
		s.transport.Wait()
		return ctx.Err()
	case <-s.transport.Done():
		s.Shutdown()
		return s.transport.Err()
	}
}

// Shutdown stops the session and its transport. It is safe to call more than once.
func (s *Session) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.lock.Lock()
		s.closed = true
		s.lock.Unlock()
		close(s.done)
		s.shutdownErr = s.transport.Shutdown()
	})
	return s.shutdownErr
}

// Stats returns a snapshot of the session state.
func (s *Session) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return Stats{
		LastCommand: s.lastCmd,
		InFlight:    s.inFlight,
		Busy:        s.busy,
		Response:    s.response,
		LastError:   s.lastErr,
	}
}

// Send sends a command. With wait, it blocks until the reply arrives, the
// timeout expires or ctx is done. An ERR reply is returned as *CommandError.
func (s *Session) Send(ctx context.Context, cmd string, wait bool) error {
	_, err := s.send(ctx, cmd, wait)
	return err
}

// Query sends a command, waits for the reply and returns the response
// line received for it, if any.
func (s *Session) Query(ctx context.Context, cmd string) (string, error) {
	return s.send(ctx, cmd, true)
}

// Echo asks the peer to send text back as a command.
func (s *Session) Echo(ctx context.Context, text string) error {
	return s.Send(ctx, CmdEcho+" "+text, false)
}

// DebugOut prints text on the console of the peer.
func (s *Session) DebugOut(ctx context.Context, text string) error {
	return s.Send(ctx, CmdDebugOut+" "+text, false)
}

// PeerVersion queries the version of the peer.
func (s *Session) PeerVersion(ctx context.Context) (string, error) {
	resp, err := s.Query(ctx, CmdGetVersion)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(resp, CmdGetVersion) {
		return "", ErrUnexpectedResponse
	}
	return strings.TrimLeftFunc(resp[len(CmdGetVersion):], isSpace), nil
}

func (s *Session) send(ctx context.Context, cmd string, wait bool) (string, error) {
	if len(cmd) > MaxCommandLen {
		return "", ErrCommandTooLong
	}
	select {
	case s.sendSem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.done:
		return "", ErrShutdown
	}
	defer func() { <-s.sendSem }()

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return "", ErrShutdown
	}
	pre := s.inFlight
	s.inFlight++
	s.lastCmd, s.lastErr, s.response = cmd, nil, ""
	s.metrics.InFlight(s.inFlight)
	s.lock.Unlock()

	glog.V(2).Infof("ipc: send %q", cmd)
	if err := s.transport.Send([]byte(Marker + cmd + EOL)); err != nil {
		s.lock.Lock()
		if s.inFlight > pre {
			s.inFlight--
		}
		s.lock.Unlock()
		return "", err
	}
	s.metrics.Sent()
	if !wait {
		return "", nil
	}
	return s.wait(ctx, pre)
}

func (s *Session) wait(ctx context.Context, pre int) (string, error) {
	timer := time.NewTimer(time.Duration(s.retryCount) * s.retryInterval)
	defer timer.Stop()
	for {
		s.lock.Lock()
		if s.inFlight <= pre {
			resp, lastErr := s.response, s.lastErr
			s.lock.Unlock()
			if lastErr != nil {
				return resp, lastErr
			}
			return resp, nil
		}
		changed := s.changed
		s.lock.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			s.lock.Lock()
			answered := s.inFlight <= pre
			s.lock.Unlock()
			if answered {
				continue
			}
			s.metrics.Timeout()
			glog.Warningf("ipc: no reply for %q", s.Stats().LastCommand)
			return "", ErrTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.done:
			return "", ErrShutdown
		}
	}
}

// notify wakes up waiters, must be called with lock held.
func (s *Session) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// HandleLine implements link.LineHandler.
func (s *Session) HandleLine(ctx context.Context, raw []byte) {
	line := strings.TrimFunc(string(raw), isSpace)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, Marker) {
		s.serveCommand(ctx, strings.TrimLeftFunc(line[len(Marker):], isSpace))
		return
	}
	s.handleReply(line)
}

func (s *Session) handleReply(line string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	kind := metrics.ReplyMalformed
	var cmdErr *CommandError
	switch {
	case s.lastCmd != "" && strings.HasPrefix(line, s.lastCmd):
		kind = metrics.ReplyResponse
	case line == ReplyOK:
		kind = metrics.ReplyOK
	default:
		if e, ok := parseErrLine(line); ok {
			kind, cmdErr = metrics.ReplyError, e
		}
	}
	if kind == metrics.ReplyMalformed {
		glog.Warningf("ipc: malformed line %q", line)
		s.metrics.Reply(kind)
		return
	}
	if s.inFlight == 0 {
		glog.V(2).Infof("ipc: no command in flight, dropped %q", line)
		s.metrics.Reply(metrics.ReplyDropped)
		return
	}
	s.metrics.Reply(kind)
	switch kind {
	case metrics.ReplyResponse:
		s.response = line
	case metrics.ReplyError:
		s.lastErr = cmdErr
	}
	s.inFlight--
	s.metrics.InFlight(s.inFlight)
	s.notify()
}

func (s *Session) serveCommand(ctx context.Context, line string) {
	glog.V(2).Infof("ipc: command %q", line)
	s.lock.Lock()
	pending := s.busy
	s.busy++
	s.lock.Unlock()

	w := &responder{s: s}
	if s.rejectBusy && pending > 0 {
		glog.Warningf("ipc: busy, rejected %q", line)
		w.Complete(CodeBusy)
		s.metrics.Inbound("busy")
		return
	}

	found, code := s.dispatcher.Dispatch(ctx, w, line)
	if !found && code == CodeBadCommand {
		glog.Warningf("ipc: unknown command %q", line)
	}
	switch {
	case code < 0:
		s.metrics.Inbound("responded")
	case code == CodeOK:
		s.metrics.Inbound("ok")
		w.Complete(code)
	default:
		s.metrics.Inbound("error")
		w.Complete(code)
	}
}

// writeLine transmits one line.
func (s *Session) writeLine(line string) error {
	glog.V(2).Infof("ipc: reply %q", line)
	return s.transport.Send([]byte(line + EOL))
}

// complete sends OK or ERR and decrements the busy counter once the
// line is out.
func (s *Session) complete(code int) error {
	if err := s.writeLine(completionLine(code)); err != nil {
		glog.Warningf("ipc: send completion: %v", err)
		return err
	}
	s.lock.Lock()
	if s.busy > 0 {
		s.busy--
	}
	s.lock.Unlock()
	return nil
}

type responder struct {
	s *Session
}

func (r *responder) Respond(line string) error {
	return r.s.writeLine(line)
}

func (r *responder) Complete(code int) error {
	return r.s.complete(code)
}

func (r *responder) Command(cmd string) error {
	return r.s.writeLine(Marker + cmd)
}

func (r *responder) Console() io.Writer {
	return r.s.console
}
