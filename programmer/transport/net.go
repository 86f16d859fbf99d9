package transport

import (
	"context"
	"net"
	"time"

	"github.com/rforge/avrctl/errs"
)

// NetTransport carries an ISP session over a plain TCP connection,
// spec.md §5.2's "-P net:host:port" escape hatch for programmers exposed
// by a network-attached relay rather than a local serial port. It has
// no reset line of its own; AssertReset is a no-op; whatever sits on the
// far end of the socket is responsible for its own reset handling.
type NetTransport struct {
	conn net.Conn
}

// DialNet opens a TCP connection to addr ("host:port").
func DialNet(ctx context.Context, addr string) (*NetTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, err, "dialing "+addr)
	}
	return &NetTransport{conn: conn}, nil
}

func (n *NetTransport) Read(p []byte) (int, error) {
	c, err := n.conn.Read(p)
	if err != nil {
		return c, errs.Wrap(errs.ErrTransport, err, "net read")
	}
	return c, nil
}

func (n *NetTransport) Write(p []byte) (int, error) {
	c, err := n.conn.Write(p)
	if err != nil {
		return c, errs.Wrap(errs.ErrTransport, err, "net write")
	}
	return c, nil
}

func (n *NetTransport) Close() error {
	return n.conn.Close()
}

func (n *NetTransport) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return n.conn.SetReadDeadline(time.Time{})
	}
	return n.conn.SetReadDeadline(time.Now().Add(d))
}

// AssertReset is a no-op: a TCP-relayed programmer resets on its own
// terms, out of band from this connection.
func (n *NetTransport) AssertReset(ctx context.Context) error {
	return nil
}
