// Package transport implements the byte-stream carriers a programmer
// type opens: a real serial port (go.bug.st/serial, adapted from the
// examples pack's dev.Arduino wrapper) and a plain TCP connection for
// "-P net:host:port", repurposing the teacher's telnet package's framing
// conventions for a client rather than a listening server.
package transport

import (
	"context"
	"io"
	"time"
)

// Transport is the byte-stream a programmer protocol runs over: a
// serial port, a TCP socket, or (in tests) anything else that can read
// and write bytes with a deadline.
type Transport interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	// AssertReset pulses the transport's reset line (DTR/RTS on serial,
	// a no-op on plain TCP) the way opening an Arduino's USB-CDC port
	// resets it by asserting DTR, per spec.md §5.2.
	AssertReset(ctx context.Context) error
}
