package ipc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robotalks/ardlink/pkg/link"
)

// Line markers.
const (
	Marker   = "+AT"
	EOL      = "\n"
	ReplyOK  = "OK"
	ReplyErr = "ERR"
)

// MaxCommandLen is the longest command text accepted by Send.
const MaxCommandLen = link.BufferSize - len(Marker) - 2

// Result codes returned by handlers.
const (
	CodeOK          = 0
	CodeResponded   = -1
	CodeBadCommand  = 4
	CodeBadResponse = 5
	CodeBusy        = 7
)

var codeText = map[int]string{
	CodeBadCommand: "BADCMD",
	CodeBusy:       "BUSY",
}

// CodeText returns the text sent along with an error code.
func CodeText(code int) string {
	return codeText[code]
}

func isSpace(r rune) bool {
	return r <= ' '
}

// nextArg skips the keyword of line and the whitespace after it.
func nextArg(line string) string {
	if n := strings.IndexFunc(line, isSpace); n >= 0 {
		return strings.TrimLeftFunc(line[n:], isSpace)
	}
	return ""
}

func completionLine(code int) string {
	if code == CodeOK {
		return ReplyOK
	}
	return strings.TrimRight(fmt.Sprintf("%s %d %s", ReplyErr, code, codeText[code]), " ")
}

// parseErrLine parses "ERR <code> <text>".
func parseErrLine(line string) (*CommandError, bool) {
	if !strings.HasPrefix(line, ReplyErr) {
		return nil, false
	}
	rest := line[len(ReplyErr):]
	if rest != "" && rest[0] != ' ' {
		return nil, false
	}
	e := &CommandError{}
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if code, err := strconv.Atoi(fields[0]); err == nil {
		e.Code = code
	}
	if len(fields) > 1 {
		e.Text = strings.TrimSpace(fields[1])
	}
	return e, true
}
