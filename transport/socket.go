// Package transport implements the intermediate (key, value) transport
// between map workers and reduce workers (spec.md 4.2/4.3): a
// FramedSocket wrapping one TCP connection, and per-role Transports that
// fan map output out to R reducers or fan M senders into one reducer's
// inbound queue.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// FramedSocket wraps one TCP connection. Length-prefix framing lives one
// layer up in the Connectors; FramedSocket only moves bytes (spec.md
// 4.2). The Go runtime's network poller already gives every net.Conn
// non-blocking, readiness-driven I/O under the hood, so unlike the C
// original there is no separate "set non-blocking" step to model.
type FramedSocket struct {
	conn net.Conn
}

// Dial connects to addr, the mapper-side half of spec.md 4.3's "mapper:
// for each i, connect to reducer i".
func Dial(addr string) (*FramedSocket, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", addr)
	}
	return &FramedSocket{conn: conn}, nil
}

// Listen binds and listens on addr, returning a listener whose Accept
// method yields FramedSockets.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: listen %s", addr)
	}
	return &Listener{ln: ln}, nil
}

// Listener accepts incoming mapper connections on the reducer side.
type Listener struct {
	ln net.Listener
}

// Accept blocks for the next incoming connection.
func (l *Listener) Accept() (*FramedSocket, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "transport: accept")
	}
	return &FramedSocket{conn: conn}, nil
}

// Addr reports the bound address, used to discover an ephemeral port in
// tests.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Write sends b in full, blocking until done or until a socket error.
func (s *FramedSocket) Write(b []byte) error {
	if _, err := s.conn.Write(b); err != nil {
		return errors.Wrap(err, "transport: socket write")
	}
	return nil
}

// Read fills buf completely, blocking until done or until a socket
// error (including EOF, which is always fatal here: a clean close before
// the zero-length terminator frame is a protocol violation per spec.md
// 4.3's "a sender that sees a socket closed before its own end-of-stream
// logs and aborts").
func (s *FramedSocket) Read(buf []byte) error {
	n := 0
	for n < len(buf) {
		m, err := s.conn.Read(buf[n:])
		if err != nil {
			return errors.Wrap(err, "transport: socket read")
		}
		n += m
	}
	return nil
}

// CloseWrite half-closes the connection's write side, used after the
// terminator frame has been sent.
func (s *FramedSocket) CloseWrite() error {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return errors.Wrap(cw.CloseWrite(), "transport: close write")
	}
	return nil
}

// Close closes the connection fully.
func (s *FramedSocket) Close() error {
	return errors.Wrap(s.conn.Close(), "transport: close")
}
