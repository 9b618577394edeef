// Package ipc implements the command protocol between the two processors.
//
// Both sides send commands as "+AT<command>\n" lines and answer every
// received command with exactly one "OK" or "ERR <code> <text>" line,
// optionally preceded by response lines starting with the command name.
//
// A Session owns a link.Transport. Lines starting with "+AT" are looked
// up in the extension table, then in the common table (DBOUT, ECHO,
// GETVER), and the handler's result code is sent back. Any other line is
// correlated with the command the session sent last.
package ipc
