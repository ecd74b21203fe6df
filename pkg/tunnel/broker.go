// Package tunnel implements RTSP-over-HTTP: an RTSP session multiplexed
// across two ordinary HTTP connections, joined by a shared
// x-sessioncookie value — a GET carries the server-to-client byte
// stream as an unbounded response body, and a POST carries
// base64-encoded client-to-server bytes in its request body. Broker is
// the process-wide table mapping a cookie to the in-flight Conn a
// waiting GET and a later POST rendezvous on.
package tunnel

import (
	"fmt"
	"io"
	"sync"
)

// Conn bridges a GET response stream and a POST request stream into a
// single full-duplex io.ReadWriteCloser an RTSP session can read/write
// exactly like a TCP connection.
type Conn struct {
	cookie string

	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	closeOnce sync.Once
}

func newConn(cookie string) *Conn {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &Conn{cookie: cookie, outR: outR, outW: outW, inR: inR, inW: inW}
}

// Read returns bytes the POST side forwarded from the client.
func (c *Conn) Read(p []byte) (int, error) { return c.inR.Read(p) }

// Write sends bytes out over the GET side's response stream.
func (c *Conn) Write(p []byte) (int, error) { return c.outW.Write(p) }

// outboundReader is what the GET handler copies to the HTTP response.
func (c *Conn) outboundReader() io.Reader { return c.outR }

func (c *Conn) deliverInbound(payload []byte) error {
	_, err := c.inW.Write(payload)
	return err
}

// Close tears down both pipe halves; safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.outW.Close()
		c.inW.Close()
	})
	return nil
}

// Broker is the process-wide x-sessioncookie -> Conn table.
type Broker struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// New allocates an empty Broker.
func New() *Broker {
	return &Broker{conns: make(map[string]*Conn)}
}

// Register creates (or, if the GET arrives twice, replaces) the Conn for
// cookie, for the GET handler that just opened the outbound half.
func (b *Broker) Register(cookie string) *Conn {
	conn := newConn(cookie)
	b.mu.Lock()
	b.conns[cookie] = conn
	b.mu.Unlock()
	return conn
}

// Lookup finds the Conn a GET previously registered for cookie, for the
// POST handler delivering the inbound half.
func (b *Broker) Lookup(cookie string) (*Conn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[cookie]
	return conn, ok
}

// Forward decodes nothing itself — payload must already be raw bytes —
// and delivers it to the Conn registered for cookie, or errors if no GET
// has registered that cookie yet.
func (b *Broker) Forward(cookie string, payload []byte) error {
	conn, ok := b.Lookup(cookie)
	if !ok {
		return fmt.Errorf("no tunnel registered for session cookie %q", cookie)
	}
	return conn.deliverInbound(payload)
}

// Release removes and closes the Conn for cookie, e.g. once the RTSP
// session that owns it tears down.
func (b *Broker) Release(cookie string) {
	b.mu.Lock()
	conn, ok := b.conns[cookie]
	delete(b.conns, cookie)
	b.mu.Unlock()
	if ok {
		conn.Close()
	}
}
