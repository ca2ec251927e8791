package quic

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/quic-go/quic-go"
)

type frame struct {
	data     []byte
	reliable bool
}

// connection pumps one QUIC connection for either endpoint. A reliable
// frame rides its own unidirectional stream and is read to EOF, so the
// stream boundary is the frame boundary; unreliable frames are
// datagrams. Streams are accepted and read one at a time, which is
// what keeps the reliable path FIFO.
type connection struct {
	qc     quic.Connection
	send   chan frame
	closed atomic.Bool
}

func newConnection(qc quic.Connection) *connection {
	return &connection{
		qc:   qc,
		send: make(chan frame, 256),
	}
}

// queue hands a frame to the write loop without blocking the caller.
func (c *connection) queue(data []byte, reliable bool) error {
	if c.closed.Load() {
		return ErrTransportClosed
	}
	select {
	case c.send <- frame{data: data, reliable: reliable}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *connection) writeLoop(ctx context.Context, onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.send:
			if err := c.write(ctx, f); err != nil {
				onError(err)
				if c.closed.Load() {
					return
				}
			}
		}
	}
}

func (c *connection) write(ctx context.Context, f frame) error {
	if !f.reliable {
		return c.qc.SendDatagram(f.data)
	}
	stream, err := c.qc.OpenUniStreamSync(ctx)
	if err != nil {
		return err
	}
	if _, err := stream.Write(f.data); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

// streamLoop delivers reliable frames in arrival order until the
// connection dies.
func (c *connection) streamLoop(ctx context.Context, deliver func([]byte)) {
	for {
		stream, err := c.qc.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		data, err := io.ReadAll(stream)
		if err != nil {
			return
		}
		if len(data) > 0 {
			deliver(data)
		}
	}
}

func (c *connection) datagramLoop(ctx context.Context, deliver func([]byte)) {
	for {
		data, err := c.qc.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		deliver(data)
	}
}

func (c *connection) close(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.qc.CloseWithError(quic.ApplicationErrorCode(code), reason)
}
