package websocket

import (
	"errors"
	"fmt"
)

var ErrTransportClosed = errors.New("transport is closed")

type ErrClientNotFound struct {
	ClientID string
}

func (e ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %s not found", e.ClientID)
}

type ErrSendTimeout struct {
	ClientID string
}

func (e ErrSendTimeout) Error() string {
	return fmt.Sprintf("timeout sending to client %s", e.ClientID)
}
