// Package quic implements transport.Server and transport.Client on
// quic-go. Reliable frames each ride one unidirectional stream read to
// EOF; unreliable frames are datagrams, so callers wanting them must
// enable datagram support in their quic.Config.
package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"entsync/pkg/transport"
)

const sendTimeout = time.Second

type ServerTransport struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	conns  map[string]*connection
	connMu sync.RWMutex

	connectChan    chan string
	disconnectChan chan string
	messageChan    chan transport.Message
	errorChan      chan error

	idGenerator transport.IDGenerator

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
}

func NewServer(address string, tlsConf *tls.Config, config *quic.Config) *ServerTransport {
	return &ServerTransport{
		address:        address,
		tlsConfig:      tlsConf,
		quicConfig:     config,
		conns:          make(map[string]*connection),
		connectChan:    make(chan string, 10),
		disconnectChan: make(chan string, 10),
		messageChan:    make(chan transport.Message, 100),
		errorChan:      make(chan error, 5),
	}
}

func (t *ServerTransport) SetIDGenerator(gen transport.IDGenerator) {
	t.idGenerator = gen
}

func (t *ServerTransport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	listener, err := quic.ListenAddr(t.address, t.tlsConfig, t.quicConfig)
	if err != nil {
		cancel()
		return err
	}
	t.listener = listener

	go t.acceptLoop(ctx)
	return nil
}

// Addr reports the bound listen address, useful when the configured
// port was 0.
func (t *ServerTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *ServerTransport) acceptLoop(ctx context.Context) {
	for {
		qc, err := t.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.transmitError(err)
			continue
		}

		id := t.newClientID()
		c := newConnection(qc)

		t.connMu.Lock()
		t.conns[id] = c
		t.connMu.Unlock()

		go t.serveClient(ctx, id, c)

		select {
		case t.connectChan <- id:
		case <-time.After(sendTimeout):
		}
	}
}

// serveClient runs the three pumps of one accepted connection and
// unregisters it when the reliable path dies.
func (t *ServerTransport) serveClient(ctx context.Context, id string, c *connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliver := func(data []byte) {
		select {
		case t.messageChan <- transport.Message{ClientID: id, Data: data}:
		case <-time.After(sendTimeout):
		}
	}

	go c.writeLoop(ctx, t.transmitError)
	go c.datagramLoop(ctx, deliver)
	c.streamLoop(ctx, deliver)

	t.connMu.Lock()
	delete(t.conns, id)
	t.connMu.Unlock()
	c.close(0, "connection lost")

	select {
	case t.disconnectChan <- id:
	case <-time.After(sendTimeout):
	}
}

func (t *ServerTransport) newClientID() string {
	if t.idGenerator != nil {
		return t.idGenerator()
	}
	return uuid.New().String()
}

func (t *ServerTransport) Send(clientID string, data []byte, reliable bool) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.connMu.RLock()
	c, ok := t.conns[clientID]
	t.connMu.RUnlock()
	if !ok {
		return ErrClientNotFound{ClientID: clientID}
	}
	return c.queue(data, reliable)
}

func (t *ServerTransport) CloseClient(clientID string, code int, reason string) error {
	t.connMu.Lock()
	c, ok := t.conns[clientID]
	if ok {
		delete(t.conns, clientID)
	}
	t.connMu.Unlock()
	if !ok {
		return ErrClientNotFound{ClientID: clientID}
	}
	c.close(code, reason)
	return nil
}

func (t *ServerTransport) ClientIDs() []string {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	return ids
}

func (t *ServerTransport) Messages() <-chan transport.Message { return t.messageChan }
func (t *ServerTransport) Connections() <-chan string { return t.connectChan }
func (t *ServerTransport) Disconnections() <-chan string { return t.disconnectChan }
func (t *ServerTransport) Errors() <-chan error { return t.errorChan }

func (t *ServerTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.cancel != nil {
			t.cancel()
		}

		t.connMu.Lock()
		for id, c := range t.conns {
			delete(t.conns, id)
			c.close(0, "server shutting down")
		}
		t.connMu.Unlock()

		if t.listener != nil {
			err = t.listener.Close()
		}
	})
	return err
}

func (t *ServerTransport) transmitError(err error) {
	select {
	case t.errorChan <- err:
	case <-time.After(sendTimeout):
	}
}
