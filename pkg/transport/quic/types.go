package quic

import (
	"errors"
	"fmt"
)

type ErrClientNotFound struct {
	ClientID string
}

func (e ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %s not found", e.ClientID)
}

var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrNotDialed       = errors.New("transport has not been dialed")
	ErrSendQueueFull   = errors.New("send queue full")
)
