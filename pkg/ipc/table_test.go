package ipc

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	lines   []string
	console bytes.Buffer
}

func (w *recordingWriter) Respond(line string) error {
	w.lines = append(w.lines, line)
	return nil
}

func (w *recordingWriter) Complete(code int) error {
	w.lines = append(w.lines, completionLine(code))
	return nil
}

func (w *recordingWriter) Command(cmd string) error {
	w.lines = append(w.lines, Marker+cmd)
	return nil
}

func (w *recordingWriter) Console() io.Writer {
	return &w.console
}

func TestMatchers(t *testing.T) {
	testCases := []struct {
		line   string
		name   string
		prefix bool
		exact  bool
	}{
		{"GETVER", "GETVER", true, true},
		{"GETVE", "GETVER", true, false},
		{"GETV", "GETVER", false, false},
		{"GETVERX", "GETVER", true, false},
		{"DBOUT hello", "DBOUT", true, true},
		{"DBOUX", "DBOUT", true, false},
		{"ECHO", "DBOUT", false, false},
		{"", "X", true, false},
	}
	for _, tc := range testCases {
		t.Run(tc.line+"/"+tc.name, func(t *testing.T) {
			assert.Equalf(t, tc.prefix, PrefixMatch(tc.line, tc.name), "PrefixMatch(%q, %q)", tc.line, tc.name)
			assert.Equalf(t, tc.exact, ExactMatch(tc.line, tc.name), "ExactMatch(%q, %q)", tc.line, tc.name)
		})
	}
}

func TestLookup(t *testing.T) {
	invoked := ""
	handler := func(name string, code int) Handler {
		return HandlerFunc(func(w ResponseWriter, req *Request) int {
			invoked = name
			return code
		})
	}
	ext := Table{
		{Name: "PING", Handler: handler("ext-ping", 0)},
		{Name: "GETVER", Handler: handler("ext-getver", 0)},
		{Name: "FAIL", Handler: handler("fail", 3)},
	}
	common := Table{
		{Name: "GETVER", Handler: handler("common-getver", 0)},
		{Name: "ECHO", Handler: handler("common-echo", 0)},
	}
	testCases := []struct {
		line    string
		found   bool
		code    int
		invoked string
	}{
		{"PING", true, 0, "ext-ping"},
		{"GETVER", true, 0, "ext-getver"},
		{"ECHO hi", true, 0, "common-echo"},
		{"FAIL now", true, 3, "fail"},
		{"NOPE", false, CodeBadCommand, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			invoked = ""
			req := &Request{Context: context.Background(), Line: tc.line, Args: nextArg(tc.line)}
			found, code := Lookup(&recordingWriter{}, req, nil, ext, common)
			require.Equal(t, tc.found, found)
			require.Equal(t, tc.code, code)
			require.Equal(t, tc.invoked, invoked)
		})
	}
}

func TestLookupExtensionFirst(t *testing.T) {
	invoked := ""
	handler := func(name string) Handler {
		return HandlerFunc(func(ResponseWriter, *Request) int {
			invoked = name
			return CodeOK
		})
	}
	ext := Table{{Name: "FOO", Handler: handler("ext-foo")}}
	common := Table{{Name: "FOO2", Handler: handler("common-foo2")}}
	req := &Request{Context: context.Background(), Line: "FOO bar", Args: nextArg("FOO bar")}
	found, code := Lookup(&recordingWriter{}, req, nil, ext, common)
	require.True(t, found)
	assert.Equal(t, CodeOK, code)
	assert.Equal(t, "ext-foo", invoked)

	found, _ = Lookup(&recordingWriter{}, req, nil, nil, common)
	require.True(t, found)
	assert.Equal(t, "common-foo2", invoked)
}

func TestDispatchEmptyLine(t *testing.T) {
	d := &Dispatcher{Common: CommonTable(0, func() string { return "1.0" })}
	found, code := d.Dispatch(context.Background(), &recordingWriter{}, "")
	assert.False(t, found)
	assert.Equal(t, CodeOK, code)
}

func TestValidate(t *testing.T) {
	ok := HandlerFunc(func(ResponseWriter, *Request) int { return CodeOK })
	assert.NoError(t, Table(nil).Validate())
	assert.NoError(t, Table{{Name: "A", Handler: ok}}.Validate())
	assert.Equal(t, ErrInvalidTable, Table{{Name: "", Handler: ok}}.Validate())
	assert.Equal(t, ErrInvalidTable, Table{{Name: "A"}}.Validate())
}

func TestNextArg(t *testing.T) {
	assert.Equal(t, "hello world", nextArg("DBOUT   hello world"))
	assert.Equal(t, "", nextArg("GETVER"))
	assert.Equal(t, "x", nextArg("ECHO\tx"))
}

func TestBuiltins(t *testing.T) {
	t.Run("dbout", func(t *testing.T) {
		w := &recordingWriter{}
		code := DebugOut(w, &Request{Line: "DBOUT hi", Args: "hi"})
		assert.Equal(t, CodeOK, code)
		assert.Equal(t, "hi\r\n", w.console.String())
	})
	t.Run("getver", func(t *testing.T) {
		w := &recordingWriter{}
		code := GetVersion(func() string { return "1.0 Jan  1 2024 00:00:00" })(w, &Request{Line: "GETVER"})
		assert.Equal(t, CodeOK, code)
		assert.Equal(t, []string{"GETVER 1.0 Jan  1 2024 00:00:00"}, w.lines)
	})
	t.Run("echo", func(t *testing.T) {
		w := &recordingWriter{}
		code := Echo(0)(w, &Request{Context: context.Background(), Line: "ECHO ping", Args: "ping"})
		assert.Equal(t, CodeResponded, code)
		assert.Equal(t, []string{"OK", "+ATping"}, w.lines)
	})
	t.Run("echo cancelled", func(t *testing.T) {
		w := &recordingWriter{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		code := Echo(DefaultEchoDelay)(w, &Request{Context: ctx, Line: "ECHO ping", Args: "ping"})
		assert.Equal(t, CodeResponded, code)
		assert.Equal(t, []string{"OK"}, w.lines)
	})
	t.Run("canned", func(t *testing.T) {
		w := &recordingWriter{}
		assert.Equal(t, CodeOK, Canned("BOARD rev3")(w, &Request{Line: "BOARD"}))
		assert.Equal(t, []string{"BOARD rev3"}, w.lines)
	})
}

func TestProtocolLines(t *testing.T) {
	assert.Equal(t, "OK", completionLine(CodeOK))
	assert.Equal(t, "ERR 4 BADCMD", completionLine(CodeBadCommand))
	assert.Equal(t, "ERR 7 BUSY", completionLine(CodeBusy))
	assert.Equal(t, "ERR 3", completionLine(3))
	assert.Equal(t, 35, MaxCommandLen)

	e, ok := parseErrLine("ERR 4 BADCMD")
	require.True(t, ok)
	assert.Equal(t, &CommandError{Code: 4, Text: "BADCMD"}, e)
	e, ok = parseErrLine("ERR 12")
	require.True(t, ok)
	assert.Equal(t, &CommandError{Code: 12}, e)
	_, ok = parseErrLine("ERRATA")
	assert.False(t, ok)
	assert.Equal(t, "command error 4 BADCMD", (&CommandError{Code: 4, Text: "BADCMD"}).Error())
}
