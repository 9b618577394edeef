// Package link provides the framed line transport shared by the two
// processors on a board.
//
// Bytes arriving from a serial device are assembled into fixed size
// buffers taken from a pre-allocated pool. A buffer is complete when it
// is full or a line terminator ('\n' or NUL) arrives; '\r' is absorbed.
// Completed buffers are queued to a consumer goroutine which hands each
// line to the registered LineHandler in arrival order.
//
// The receive side never blocks on anything but the device read: when
// no buffer is free the bytes of the current line are dropped, and when
// the queue is full (which can not happen while the queue is sized to
// the pool) the buffer is released.
//
// Two variants are provided:
//
//   FIFO: the receive goroutine reads chunks and appends them to the
//         current buffer.
//   Pipe: the receive goroutine fills a small pipe buffer and a receive
//         callback consumes what it can, leaving the rest in the pipe
//         while no line buffer is free.
package link
