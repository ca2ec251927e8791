package quic

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ClientTransport implements transport.Client over one dialed QUIC
// connection, sharing the connection pumps with the server side.
type ClientTransport struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	conn *connection

	messageChan chan []byte
	errorChan   chan error

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

func NewClient(address string, tlsConf *tls.Config, config *quic.Config) *ClientTransport {
	return &ClientTransport{
		address:     address,
		tlsConfig:   tlsConf,
		quicConfig:  config,
		messageChan: make(chan []byte, 100),
		errorChan:   make(chan error, 5),
	}
}

// Dial connects and starts the pumps. ctx bounds the dial only; the
// connection lives until Close.
func (t *ClientTransport) Dial(ctx context.Context) error {
	qc, err := quic.DialAddr(ctx, t.address, t.tlsConfig, t.quicConfig)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.conn = newConnection(qc)

	deliver := func(data []byte) {
		select {
		case t.messageChan <- data:
		case <-time.After(sendTimeout):
		}
	}
	go t.conn.writeLoop(runCtx, t.transmitError)
	go t.conn.datagramLoop(runCtx, deliver)
	go t.conn.streamLoop(runCtx, deliver)
	return nil
}

func (t *ClientTransport) Send(data []byte, reliable bool) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if t.conn == nil {
		return ErrNotDialed
	}
	return t.conn.queue(data, reliable)
}

func (t *ClientTransport) Messages() <-chan []byte { return t.messageChan }
func (t *ClientTransport) Errors() <-chan error { return t.errorChan }

func (t *ClientTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.cancel != nil {
			t.cancel()
		}
		if t.conn != nil {
			t.conn.close(0, "client closed")
		}
	})
	return nil
}

func (t *ClientTransport) transmitError(err error) {
	select {
	case t.errorChan <- err:
	case <-time.After(sendTimeout):
	}
}
