// Package bridge relays bytes between a host facing endpoint (USB) and
// the UART of the other processor.
//
// Each endpoint has a receive goroutine which assembles pooled line
// buffers and hands them to the transmit queue of the other endpoint.
// A monitor goroutine drains the queues to the devices until the USB
// side disconnects or the context is done.
package bridge
