// Package sh provides an interactive shell driving an IPC session.
package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/ardlink/pkg/env"
	"github.com/robotalks/ardlink/pkg/ipc"
)

// Client is the session used by the shell.
type Client interface {
	Send(ctx context.Context, cmd string, wait bool) error
	Query(ctx context.Context, cmd string) (string, error)
	Echo(ctx context.Context, text string) error
	DebugOut(ctx context.Context, text string) error
	PeerVersion(ctx context.Context) (string, error)
	Stats() ipc.Stats
	Shutdown() error
}

// Opener opens a session on the named port, empty for the configured one.
type Opener func(port string) (Client, error)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	Timeout     time.Duration

	Shell  *ishell.Shell
	Open   Opener
	Client Client
	Port   string
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	evalOnly   bool
	outputJSON bool

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendCmd,
		&QueryCmd,
		&EchoCmd,
		&DebugOutCmd,
		&VersionCmd,
		&StatusCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds adds more commands, called from init funcs.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a shell opening sessions with open.
func New(open Opener) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     2 * time.Second,
		Shell:       ishell.New(),
		Open:        open,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a session.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Client == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// Connect opens a session on port.
func (s *Shell) Connect(port string) error {
	client, err := s.Open(port)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Client, s.Port = client, port
	if s.Shell != nil {
		s.Shell.SetPrompt(fmt.Sprintf("%s > ", port))
	}
	return nil
}

// Disconnect shuts down the current session.
func (s *Shell) Disconnect() {
	if s.Client == nil {
		return
	}
	s.Client.Shutdown()
	s.Client, s.Port = nil, ""
	if s.Shell != nil {
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Result is the outcome of a shell command.
type Result struct {
	Command  string `json:"command"`
	Response string `json:"response,omitempty"`
	Code     int    `json:"code"`
	Error    string `json:"error,omitempty"`
}

// String formats the result for display.
func (r *Result) String() string {
	switch {
	case r.Error != "":
		return "ERROR " + r.Error
	case r.Response != "":
		return r.Response + "\nOK"
	default:
		return "OK"
	}
}

// Do runs a session operation and returns its result.
func (s *Shell) Do(op string, args []string) *Result {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	text := strings.Join(args, " ")
	r := &Result{Command: strings.TrimSpace(op + " " + text)}
	var err error
	switch op {
	case "send":
		err = s.Client.Send(ctx, text, false)
	case "query":
		r.Response, err = s.Client.Query(ctx, text)
	case "echo":
		err = s.Client.Echo(ctx, text)
	case "dbout":
		err = s.Client.DebugOut(ctx, text)
	case "version":
		r.Response, err = s.Client.PeerVersion(ctx)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}
	if err != nil {
		r.Code, r.Error = -1, err.Error()
		if cmdErr, ok := err.(*ipc.CommandError); ok {
			r.Code = cmdErr.Code
		}
	}
	return r
}

func (s *Shell) print(c *ishell.Context, v interface{}) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

func opFunc(op string, argsRequired bool) func(c *ishell.Context) {
	return MustBeConnected(func(c *ishell.Context) {
		if argsRequired && len(c.Args) == 0 {
			c.Err(fmt.Errorf("TEXT required"))
			return
		}
		s := ShellFrom(c)
		s.print(c, s.Do(op, c.Args))
	})
}

// Run runs the shell, or processes args as one command.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd opens a session.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[PORT]",
		Func: func(c *ishell.Context) {
			var port string
			if len(c.Args) > 0 {
				port = c.Args[0]
			}
			if err := ShellFrom(c).Connect(port); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd closes the session.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// SendCmd sends a command without waiting.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "COMMAND",
		Func: opFunc("send", true),
	}

	// QueryCmd sends a command and waits for the reply.
	QueryCmd = ishell.Cmd{
		Name:    "query",
		Aliases: []string{"q"},
		Help:    "COMMAND",
		Func:    opFunc("query", true),
	}

	// EchoCmd asks the peer to echo text back.
	EchoCmd = ishell.Cmd{
		Name: "echo",
		Help: "TEXT",
		Func: opFunc("echo", true),
	}

	// DebugOutCmd prints text on the peer console.
	DebugOutCmd = ishell.Cmd{
		Name: "dbout",
		Help: "TEXT",
		Func: opFunc("dbout", true),
	}

	// VersionCmd queries the peer version.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"ver"},
		Func:    opFunc("version", false),
	}

	// StatusCmd shows the session state.
	StatusCmd = ishell.Cmd{
		Name: "status",
		Func: MustBeConnected(func(c *ishell.Context) {
			s := ShellFrom(c)
			st := s.Client.Stats()
			if s.OutputJSON {
				s.print(c, st)
				return
			}
			c.Printf("port: %s\nlast: %q\nin-flight: %d\nbusy: %d\n", s.Port, st.LastCommand, st.InFlight, st.Busy)
			if st.LastError != nil {
				c.Printf("last error: %v\n", st.LastError)
			}
		}),
	}
)

// Main is a helper to provide a single call in main.
// env.SetupFlags must be called from init.
func Main() {
	flag.Parse()
	conf := env.MustNewConfig()
	s := New(func(port string) (Client, error) {
		c := *conf
		if port != "" {
			c.Serial.Name = port
		}
		sess, err := c.OpenSession(nil)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	if err := s.Connect(conf.Serial.Name); err != nil {
		log.Fatalf("connect %s failed: %v", conf.Serial.Name, err)
	}
	defer s.Disconnect()
	s.Run(flag.Args()...)
}
