package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ClientTransport implements transport.Client over one dialed
// websocket connection.
type ClientTransport struct {
	url string

	conn   *websocket.Conn
	connMu sync.Mutex

	messageChan chan []byte
	errorChan   chan error

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewClient(url string) *ClientTransport {
	return &ClientTransport{
		url:         url,
		messageChan: make(chan []byte, 100),
		errorChan:   make(chan error, 5),
	}
}

func (t *ClientTransport) Dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}
	t.conn = conn
	go t.readPump()
	return nil
}

func (t *ClientTransport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				select {
				case t.errorChan <- err:
				case <-time.After(sendTimeout):
				}
			}
			return
		}
		select {
		case t.messageChan <- data:
		case <-time.After(sendTimeout):
		}
	}
}

func (t *ClientTransport) Send(data []byte, _ bool) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.connMu.Lock()
	defer t.connMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *ClientTransport) Messages() <-chan []byte { return t.messageChan }
func (t *ClientTransport) Errors() <-chan error { return t.errorChan }

func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.conn != nil {
			t.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			err = t.conn.Close()
		}
	})
	return err
}
