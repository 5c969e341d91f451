package ebusgw

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/mlanger/ebusgw/enhanced"
	"github.com/mlanger/ebusgw/queue"
	"github.com/mlanger/ebusgw/symbol"
)

// sendWindow is the nominal per-client send-buffer capacity reported to
// queue.Deliver; it is not a real socket buffer size, only a coarse
// backpressure signal, matching the spec's "Available capacity" note for
// §4.8 (per-client send buffer is not owned by the core).
const sendWindow = 4096

// clientConn is the shared bookkeeping behind both TCP port kinds: a
// connection id (for log correlation, not routing), the registered
// queue.ClientID (the routing identifier), and a simple outstanding-byte
// counter standing in for real socket buffer occupancy.
type clientConn struct {
	id     xid.ID
	slot   queue.ClientID
	conn   net.Conn
	writer *bufio.Writer
	log    *logrus.Entry

	mu          sync.Mutex
	outstanding int
	closed      bool
}

func newClientConn(conn net.Conn, log *logrus.Logger) *clientConn {
	id := xid.New()
	return &clientConn{
		id:     id,
		conn:   conn,
		writer: bufio.NewWriter(conn),
		log:    log.WithFields(logrus.Fields{"client": id.String(), "remote": conn.RemoteAddr().String()}),
	}
}

func (c *clientConn) Available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	return sendWindow - c.outstanding
}

func (c *clientConn) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if err != nil && err != io.EOF {
		c.log.WithError(err).Info("client connection closed")
	}
	c.conn.Close()
}

func (c *clientConn) flush(n int) {
	c.mu.Lock()
	c.outstanding += n
	c.mu.Unlock()
	if err := c.writer.Flush(); err != nil {
		c.closeWith(err)
		return
	}
	c.mu.Lock()
	c.outstanding -= n
	c.mu.Unlock()
}

// rawClient is the Sink behind both raw TCP ports: it forwards every
// observed bus byte verbatim and, unless read-only, writes every byte it
// reads from the client straight to the serial port from its own
// goroutine, bypassing the queue and the transaction machine.
type rawClient struct {
	*clientConn
	adapter  *Adapter
	readOnly bool
}

func newRawClient(conn net.Conn, a *Adapter, readOnly bool) clientHandler {
	return &rawClient{clientConn: newClientConn(conn, a.log), adapter: a, readOnly: readOnly}
}

func (c *rawClient) Write(ev queue.Event) {
	if ev.Enhanced {
		return
	}
	if err := c.writer.WriteByte(ev.Data); err != nil {
		c.closeWith(err)
		return
	}
	c.flush(1)
}

func (c *rawClient) serve() {
	defer c.closeWith(nil)

	slot, err := c.adapter.clients.Register(c)
	if err != nil {
		c.log.WithError(err).Warn("raw client rejected, table full")
		return
	}
	c.slot = slot
	defer c.adapter.clients.Unregister(slot)

	if c.readOnly {
		// A read-only port still needs its read side drained so the
		// peer's FIN/close is observed promptly.
		io.Copy(io.Discard, c.conn)
		return
	}
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		for _, b := range buf[:n] {
			if writeErr := c.adapter.port.WriteByte(b); writeErr != nil {
				c.log.WithError(writeErr).Error("forwarding client byte to bus failed")
			}
		}
		if err != nil {
			return
		}
	}
}

// enhancedClient is the Sink behind the enhanced TCP port: it decodes
// CMD_* requests and encodes outbound events in the two-byte tagged form.
type enhancedClient struct {
	*clientConn
	adapter *Adapter
	reader  *bufio.Reader
	sendBuf []byte // accumulates CMD_SEND data bytes until CMD_START
}

func newEnhancedClient(conn net.Conn, a *Adapter, _ bool) clientHandler {
	return &enhancedClient{clientConn: newClientConn(conn, a.log), adapter: a, reader: bufio.NewReader(conn)}
}

func (c *enhancedClient) Write(ev queue.Event) {
	if !ev.Enhanced {
		return
	}
	buf := enhanced.EncodeEvent(nil, ev.Tag, ev.Data)
	if _, err := c.writer.Write(buf); err != nil {
		c.closeWith(err)
		return
	}
	c.flush(len(buf))
}

func (c *enhancedClient) serve() {
	defer c.closeWith(nil)
	slot, err := c.adapter.clients.Register(c)
	if err != nil {
		c.log.WithError(err).Warn("enhanced client rejected, table full")
		return
	}
	c.slot = slot
	defer c.adapter.clients.Unregister(slot)
	defer c.adapter.CancelTransaction(slot)

	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return
		}
		frame, err := enhanced.Decode(b, c.reader.ReadByte)
		if err != nil {
			c.log.WithError(err).Info("malformed enhanced frame, dropping client")
			return
		}
		c.dispatch(frame)
	}
}

func (c *enhancedClient) dispatch(frame enhanced.Frame) {
	switch frame.Cmd {
	case enhanced.CmdSend:
		c.sendBuf = append(c.sendBuf, frame.Data)
	case enhanced.CmdStart:
		message := c.sendBuf
		c.sendBuf = nil
		if frame.Data == symbol.SYN {
			c.adapter.CancelTransaction(c.slot)
			break
		}
		if !c.adapter.StartTransaction(c.slot, frame.Data, message) {
			c.log.Debug("CMD_START rejected: invalid own address or bus already claimed by another client")
		}
	case enhanced.CmdInit:
		c.sendBuf = nil
		c.adapter.CancelTransaction(c.slot)
	case enhanced.CmdInfo:
		// reserved: decoded and acknowledged implicitly, no action taken.
	}
}

// clientHandler is the minimal surface listen needs from either client
// kind: something that can run its own read loop.
type clientHandler interface {
	serve()
}
