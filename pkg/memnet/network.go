// Package memnet is the in-memory transport used to exercise the sync
// core without sockets: one queue pair per connected client, with a
// configurable per-message delay and the same per-sender FIFO guarantee
// a real transport must provide.
package memnet

import (
	"errors"
	"iter"
	"sync"

	"entsync/pkg/clock"
	"entsync/pkg/events"
	"entsync/pkg/proto"
)

var ErrSendBeforeConnect = errors.New("memnet: send to a client that never connected")

type pair struct {
	toServer *pipe[proto.InputMessage]
	toClient *pipe[proto.StateMessage]
}

// Network owns every queued message between enqueue and dequeue.
// Send and receive both execute on the calling endpoint's goroutine;
// the mutex only protects the case of several interval runners
// sharing one network, as LocalWorld.Start sets up.
type Network struct {
	mu    sync.Mutex
	clk   clock.Clock
	order []string
	pairs map[string]*pair

	nextBatch  uint64
	serverRefs map[uint64]int

	// ClientSent and ServerSent fire synchronously inside Send /
	// Broadcast with the full batch.
	ClientSent events.Emitter[[]proto.InputMessage]
	ServerSent events.Emitter[[]proto.StateMessage]
}

func New(clk clock.Clock) *Network {
	return &Network{
		clk:        clk,
		pairs:      make(map[string]*pair),
		serverRefs: make(map[uint64]int),
	}
}

// Connect registers a client slot and returns the client-side port of
// its buffer pair. Connecting an id twice replaces nothing; the first
// pair stays.
func (n *Network) Connect(clientID string) *ClientPort {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.pairs[clientID]; !ok {
		n.pairs[clientID] = &pair{
			toServer: newPipe[proto.InputMessage](n.clk),
			toClient: newPipe[proto.StateMessage](n.clk),
		}
		n.order = append(n.order, clientID)
	}
	return &ClientPort{net: n, id: clientID}
}

// SetLag sets the delay applied to batches sent after this call, in
// both directions of the client's pair.
func (n *Network) SetLag(clientID string, lagMs int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.pairs[clientID]
	if !ok {
		return ErrSendBeforeConnect
	}
	p.toServer.setLag(lagMs)
	p.toClient.setLag(lagMs)
	return nil
}

// ClientIDs lists connected clients in connection order. This is also
// the order the server polls them in.
func (n *Network) ClientIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Drain returns the ready inputs of one client, FIFO.
func (n *Network) Drain(clientID string) iter.Seq[proto.InputMessage] {
	n.mu.Lock()
	defer n.mu.Unlock()

	p, ok := n.pairs[clientID]
	if !ok {
		return seqOf[proto.InputMessage](nil)
	}
	return seqOf(p.toServer.drainReady())
}

// Broadcast enqueues one server batch. Every addressed client shares a
// single reference-counted batch record; the count drops as each client
// receives its share and the record disappears with the last one.
func (n *Network) Broadcast(perClient map[string][]proto.StateMessage) error {
	n.mu.Lock()

	for id := range perClient {
		if _, ok := n.pairs[id]; !ok {
			n.mu.Unlock()
			return ErrSendBeforeConnect
		}
	}

	n.nextBatch++
	batchID := n.nextBatch

	var all []proto.StateMessage
	recipients := 0
	for _, id := range n.order {
		msgs := perClient[id]
		if len(msgs) == 0 {
			continue
		}
		recipients++
		all = append(all, msgs...)
		n.pairs[id].toClient.push(msgs, func() {
			decrementOrRemove(n.serverRefs, batchID)
		})
	}
	if recipients > 0 {
		n.serverRefs[batchID] = recipients
	}
	n.mu.Unlock()

	if len(all) > 0 {
		n.ServerSent.Emit(all)
	}
	return nil
}

// PendingServerBatches reports undelivered broadcast records.
// Introspection only.
func (n *Network) PendingServerBatches() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.serverRefs)
}

// decrementOrRemove deletes the key when the count reaches zero instead
// of leaving a zero entry behind.
func decrementOrRemove(m map[uint64]int, key uint64) {
	v, ok := m[key]
	if !ok {
		return
	}
	if v <= 1 {
		delete(m, key)
		return
	}
	m[key] = v - 1
}

// ClientPort is the client-side end of a buffer pair. It satisfies the
// client syncer's network contract.
type ClientPort struct {
	net *Network
	id  string
}

func (c *ClientPort) ID() string { return c.id }

func (c *ClientPort) Send(msgs ...proto.InputMessage) {
	if len(msgs) == 0 {
		return
	}
	c.net.mu.Lock()
	p := c.net.pairs[c.id]
	p.toServer.push(msgs, nil)
	c.net.mu.Unlock()

	c.net.ClientSent.Emit(msgs)
}

func (c *ClientPort) Drain() iter.Seq[proto.StateMessage] {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	p := c.net.pairs[c.id]
	return seqOf(p.toClient.drainReady())
}

// SetSendLag delays only the client's own sends; SetLag on the network
// covers both directions.
func (c *ClientPort) SetSendLag(lagMs int64) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.pairs[c.id].toServer.setLag(lagMs)
}

// SetReceiveLag delays server-to-client batches sent after this call.
func (c *ClientPort) SetReceiveLag(lagMs int64) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.net.pairs[c.id].toClient.setLag(lagMs)
}
