package transport

import (
	"context"
	"iter"
	"sync"

	"entsync/pkg/eslog"
	"entsync/pkg/proto"
	"entsync/pkg/transport/wire"
)

// ServerBinding adapts a byte transport to the server syncer's network
// contract. A pump goroutine moves decoded frames into per-client
// queues; the syncer drains them non-blockingly on its own tick.
type ServerBinding struct {
	tr    Server
	codec *wire.Codec
	log   eslog.Logger

	// unreliableStates sends state batches over the transport's
	// unreliable channel, compact-encoded when the states fit.
	unreliableStates bool

	mu     sync.Mutex
	order  []string
	known  map[string]bool
	queues map[string][]proto.InputMessage
}

type BindOption func(*ServerBinding)

func WithUnreliableStates() BindOption {
	return func(b *ServerBinding) { b.unreliableStates = true }
}

func BindServer(tr Server, codec *wire.Codec, log eslog.Logger, opts ...BindOption) *ServerBinding {
	b := &ServerBinding{
		tr:     tr,
		codec:  codec,
		log:    eslog.OrNop(log),
		known:  make(map[string]bool),
		queues: make(map[string][]proto.InputMessage),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run pumps transport events until the context ends. Call it once,
// after Start on the transport.
func (b *ServerBinding) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case clientID := <-b.tr.Connections():
			b.mu.Lock()
			if !b.known[clientID] {
				b.known[clientID] = true
				b.order = append(b.order, clientID)
			}
			b.mu.Unlock()

		case clientID := <-b.tr.Disconnections():
			// The slot stays registered; a reconnecting client keeps
			// its queue position.
			b.log.Debug("client disconnected", "client", clientID)

		case msg := <-b.tr.Messages():
			frame, err := b.codec.Decode(msg.Data)
			if err != nil {
				b.log.Warn("dropping undecodable frame", "client", msg.ClientID, "error", err)
				continue
			}
			if frame.Kind != proto.KindInput {
				b.log.Warn("dropping unexpected frame kind", "client", msg.ClientID, "kind", frame.Kind.String())
				continue
			}
			b.mu.Lock()
			if !b.known[msg.ClientID] {
				b.known[msg.ClientID] = true
				b.order = append(b.order, msg.ClientID)
			}
			b.queues[msg.ClientID] = append(b.queues[msg.ClientID], frame.Inputs...)
			b.mu.Unlock()

		case err := <-b.tr.Errors():
			b.log.Error("transport error", "error", err)
		}
	}
}

func (b *ServerBinding) ClientIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

func (b *ServerBinding) Drain(clientID string) iter.Seq[proto.InputMessage] {
	b.mu.Lock()
	msgs := b.queues[clientID]
	b.queues[clientID] = nil
	b.mu.Unlock()

	return func(yield func(proto.InputMessage) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}

func (b *ServerBinding) Broadcast(perClient map[string][]proto.StateMessage) error {
	for clientID, msgs := range perClient {
		if len(msgs) == 0 {
			continue
		}
		data, reliable, err := b.encodeStates(msgs)
		if err != nil {
			return err
		}
		if err := b.tr.Send(clientID, data, reliable); err != nil {
			b.log.Warn("failed sending state batch", "client", clientID, "error", err)
		}
	}
	return nil
}

func (b *ServerBinding) encodeStates(msgs []proto.StateMessage) (data []byte, reliable bool, err error) {
	if b.unreliableStates {
		data, err = b.codec.EncodeCompactStateBatch(msgs)
		if err == nil {
			return data, false, nil
		}
		if err != wire.ErrNotCompact {
			return nil, false, err
		}
		// States too rich for the compact model still go unreliable,
		// just JSON-encoded.
		data, err = b.codec.EncodeStateBatch(msgs)
		return data, false, err
	}
	data, err = b.codec.EncodeStateBatch(msgs)
	return data, true, err
}

// ClientBinding adapts a dialed byte transport to the client syncer's
// network contract.
type ClientBinding struct {
	tr    Client
	codec *wire.Codec
	log   eslog.Logger

	mu     sync.Mutex
	states []proto.StateMessage
}

func BindClient(tr Client, codec *wire.Codec, log eslog.Logger) *ClientBinding {
	return &ClientBinding{tr: tr, codec: codec, log: eslog.OrNop(log)}
}

// Run pumps inbound frames until the context ends.
func (b *ClientBinding) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case data := <-b.tr.Messages():
			frame, err := b.codec.Decode(data)
			if err != nil {
				b.log.Warn("dropping undecodable frame", "error", err)
				continue
			}
			if frame.Kind != proto.KindState {
				b.log.Warn("dropping unexpected frame kind", "kind", frame.Kind.String())
				continue
			}
			b.mu.Lock()
			b.states = append(b.states, frame.States...)
			b.mu.Unlock()

		case err := <-b.tr.Errors():
			b.log.Error("transport error", "error", err)
		}
	}
}

func (b *ClientBinding) Send(msgs ...proto.InputMessage) {
	if len(msgs) == 0 {
		return
	}
	data, err := b.codec.EncodeInputBatch(msgs)
	if err != nil {
		b.log.Error("failed encoding input batch", "error", err)
		return
	}
	if err := b.tr.Send(data, true); err != nil {
		b.log.Warn("failed sending input batch", "error", err)
	}
}

func (b *ClientBinding) Drain() iter.Seq[proto.StateMessage] {
	b.mu.Lock()
	msgs := b.states
	b.states = nil
	b.mu.Unlock()

	return func(yield func(proto.StateMessage) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}
