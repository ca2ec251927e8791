// Package websocket implements transport.Server and transport.Client
// using gorilla/websocket. Every frame is a binary message; the
// reliable flag is ignored because TCP gives only the reliable path.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"entsync/pkg/transport"
)

const (
	writeWait      = 10 * time.Second
	sendTimeout    = time.Second
	sendBufferSize = 256
)

type ServerOptions struct {
	// InboundRate limits messages accepted per client per second; zero
	// disables limiting. Burst is the limiter bucket size; zero counts
	// as 1.
	InboundRate float64
	Burst       int
}

// ServerTransport upgrades HTTP requests itself. With a listen address,
// Start serves Handler at /sync on its own HTTP server; with an empty
// address Start does nothing and Handler can be mounted on any mux of
// an existing server.
type ServerTransport struct {
	address  string
	upgrader websocket.Upgrader
	options  ServerOptions

	httpServer *http.Server

	clients  map[string]*wsClient
	clientMu sync.RWMutex

	connectChan    chan string
	disconnectChan chan string
	messageChan    chan transport.Message
	errorChan      chan error

	idGenerator transport.IDGenerator

	closed    atomic.Bool
	closeOnce sync.Once
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	closed  atomic.Bool
}

func NewServer(address string, options ServerOptions) *ServerTransport {
	return &ServerTransport{
		address:        address,
		upgrader:       websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		options:        options,
		clients:        make(map[string]*wsClient),
		connectChan:    make(chan string, 10),
		disconnectChan: make(chan string, 10),
		messageChan:    make(chan transport.Message, 100),
		errorChan:      make(chan error, 5),
	}
}

func (t *ServerTransport) SetIDGenerator(gen transport.IDGenerator) {
	t.idGenerator = gen
}

// Handler upgrades one request into a client connection.
func (t *ServerTransport) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.transmitError(err)
		return
	}

	id := t.newClientID()
	c := &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if t.options.InboundRate > 0 {
		burst := t.options.Burst
		if burst == 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(t.options.InboundRate), burst)
	}

	t.clientMu.Lock()
	t.clients[id] = c
	t.clientMu.Unlock()

	go c.readPump(t)
	go c.writePump(t)

	select {
	case t.connectChan <- id:
	case <-time.After(sendTimeout):
	}
}

func (t *ServerTransport) newClientID() string {
	if t.idGenerator != nil {
		return t.idGenerator()
	}
	return uuid.New().String()
}

func (t *ServerTransport) Start(ctx context.Context) error {
	if t.address == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", t.Handler)
	t.httpServer = &http.Server{Addr: t.address, Handler: mux}

	go func() {
		if err := t.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.transmitError(err)
		}
	}()
	go func() {
		<-ctx.Done()
		t.Close()
	}()
	return nil
}

func (t *ServerTransport) Send(clientID string, data []byte, _ bool) error {
	t.clientMu.RLock()
	c, ok := t.clients[clientID]
	t.clientMu.RUnlock()
	if !ok {
		return ErrClientNotFound{ClientID: clientID}
	}
	select {
	case c.send <- data:
		return nil
	case <-time.After(sendTimeout):
		return ErrSendTimeout{ClientID: clientID}
	}
}

func (t *ServerTransport) CloseClient(clientID string, code int, reason string) error {
	t.clientMu.Lock()
	c, ok := t.clients[clientID]
	if ok {
		delete(t.clients, clientID)
	}
	t.clientMu.Unlock()
	if !ok {
		return ErrClientNotFound{ClientID: clientID}
	}
	c.closeWith(code, reason)
	return nil
}

func (t *ServerTransport) ClientIDs() []string {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()
	ids := make([]string, 0, len(t.clients))
	for id := range t.clients {
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

		t.clientMu.Lock()
		for id, c := range t.clients {
			delete(t.clients, id)
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
		t.clientMu.Unlock()

		if t.httpServer != nil {
			err = t.httpServer.Close()
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

func (c *wsClient) readPump(t *ServerTransport) {
	defer func() {
		t.clientMu.Lock()
		delete(t.clients, c.id)
		t.clientMu.Unlock()
		c.closeWith(websocket.CloseNormalClosure, "")
		select {
		case t.disconnectChan <- c.id:
		case <-time.After(sendTimeout):
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Flooding clients get their excess dropped, not the
		// connection cut; an authoritative snapshot corrects whatever
		// state the drop cost them.
		if c.limiter != nil && !c.limiter.Allow() {
			continue
		}
		select {
		case t.messageChan <- transport.Message{ClientID: c.id, Data: data}:
		case <-time.After(sendTimeout):
		}
	}
}

func (c *wsClient) writePump(t *ServerTransport) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			t.transmitError(err)
			return
		}
	}
}

func (c *wsClient) closeWith(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.send)
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	c.conn.Close()
}
