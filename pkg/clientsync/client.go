// Package clientsync owns the client side of the sync core: it sends
// and locally predicts inputs for owned entities, reconciles them
// against authoritative snapshots, and reconstructs remote entities by
// interpolation or dead reckoning.
package clientsync

import (
	"iter"

	"entsync/pkg/clock"
	"entsync/pkg/entity"
	"entsync/pkg/eslog"
	"entsync/pkg/events"
	"entsync/pkg/interval"
	"entsync/pkg/proto"
)

// ClientNetwork is the client's view of a transport. The memnet client
// port satisfies it directly, real transports via transport.BindClient.
type ClientNetwork interface {
	Send(msgs ...proto.InputMessage)
	Drain() iter.Seq[proto.StateMessage]
}

type timedState struct {
	receivedAtMs int64
	state        entity.State
}

type Options struct {
	Clock   clock.Clock
	Logger  eslog.Logger
	Network ClientNetwork
	Handler NewEntityHandler
	Inputs  InputCollectionStrategy

	// ServerUpdateRateHz fixes the render delay: interpolation runs one
	// server frame behind now.
	ServerUpdateRateHz float64

	// UpdateRateHz is the client's own tick rate, independent of the
	// server's.
	UpdateRateHz float64
}

type Client struct {
	clk     clock.Clock
	log     eslog.Logger
	net     ClientNetwork
	handler checkedHandler
	inputs  InputCollectionStrategy

	serverRateHz float64
	rateHz       float64

	// entities holds every known entity; the strategy buckets hold the
	// same references, keyed for the reconstruction pass.
	entities       *entity.Collection[entity.Entity]
	interpolatable map[entity.ID]entity.Interpolator
	reckonable     map[entity.ID]entity.Reckoner
	stateBuffers   map[entity.ID][]timedState
	playerIDs      map[entity.ID]struct{}

	pending      []proto.InputMessage
	seq          uint64
	lastInputAt  int64
	hasLastInput bool

	// Synchronized fires at the end of every connected tick with an
	// id-keyed view of the entities.
	Synchronized events.Emitter[map[entity.ID]entity.Entity]

	runner *interval.Runner
}

func New(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}
	if opts.ServerUpdateRateHz == 0 {
		opts.ServerUpdateRateHz = 10
	}
	if opts.UpdateRateHz == 0 {
		opts.UpdateRateHz = 60
	}
	if opts.Inputs == nil {
		opts.Inputs = NoInputs{}
	}
	return &Client{
		clk:            opts.Clock,
		log:            eslog.OrNop(opts.Logger),
		net:            opts.Network,
		handler:        checkedHandler{inner: opts.Handler},
		inputs:         opts.Inputs,
		serverRateHz:   opts.ServerUpdateRateHz,
		rateHz:         opts.UpdateRateHz,
		entities:       entity.NewCollection[entity.Entity](),
		interpolatable: make(map[entity.ID]entity.Interpolator),
		reckonable:     make(map[entity.ID]entity.Reckoner),
		stateBuffers:   make(map[entity.ID][]timedState),
		playerIDs:      make(map[entity.ID]struct{}),
		// Sequence numbers start at 1: a snapshot acking 0 means the
		// server has processed nothing yet, so reconciliation keeps
		// every pending input.
		seq: 1,
	}
}

// Connected means at least one entity is known; until the first
// snapshot arrives the client does nothing but poll.
func (c *Client) Connected() bool {
	return c.entities.Len() > 0
}

func (c *Client) Entities() *entity.Collection[entity.Entity] {
	return c.entities
}

// PendingInputs returns the not-yet-acknowledged input messages, oldest
// first.
func (c *Client) PendingInputs() []proto.InputMessage {
	out := make([]proto.InputMessage, len(c.pending))
	copy(out, c.pending)
	return out
}

// OwnsEntity reports whether the entity belongs to the local player.
func (c *Client) OwnsEntity(id entity.ID) bool {
	_, ok := c.playerIDs[id]
	return ok
}

// Tick runs one client update: drain snapshots, then — once connected —
// collect and predict inputs, reconstruct remote entities, and publish
// the synchronized view.
func (c *Client) Tick() error {
	if err := c.processServerMessages(); err != nil {
		return err
	}
	if !c.Connected() {
		return nil
	}
	c.processInputs()
	c.interpolateEntities()
	c.Synchronized.Emit(c.entities.AsMap())
	return nil
}

func (c *Client) processServerMessages() error {
	now := c.clk.NowMs()

	for msg := range c.net.Drain() {
		id := msg.Entity.ID
		if !c.entities.Has(id) {
			if err := c.registerEntity(msg); err != nil {
				return err
			}
		}
		e, ok := c.entities.Get(id)
		if !ok {
			return ErrInternalInconsistency
		}

		if c.OwnsEntity(id) {
			e.SetState(msg.Entity.State.Clone())
			c.reconcile(msg)
		}
		if r, ok := c.reckonable[id]; ok {
			r.Reckon(now - msg.TimestampMs)
		}
		if _, ok := c.interpolatable[id]; ok {
			c.stateBuffers[id] = append(c.stateBuffers[id], timedState{
				receivedAtMs: now,
				state:        msg.Entity.State.Clone(),
			})
		}
	}
	return nil
}

func (c *Client) registerEntity(msg proto.StateMessage) error {
	if msg.Entity.Local {
		e, err := c.handler.CreateLocal(msg)
		if err != nil {
			return err
		}
		if err := c.entities.Add(e); err != nil {
			return err
		}
		c.playerIDs[e.ID()] = struct{}{}
		return nil
	}

	e, strategy, err := c.handler.CreateNonLocal(msg)
	if err != nil {
		return err
	}
	if err := c.entities.Add(e); err != nil {
		return err
	}
	switch strategy {
	case entity.Raw:
	case entity.Interpolation:
		in, ok := e.(entity.Interpolator)
		if !ok {
			return ErrUnexpectedSyncStrategy
		}
		c.interpolatable[e.ID()] = in
		c.stateBuffers[e.ID()] = nil
	case entity.DeadReckoning:
		r, ok := e.(entity.Reckoner)
		if !ok {
			return ErrUnexpectedSyncStrategy
		}
		c.reckonable[e.ID()] = r
	default:
		return ErrUnexpectedSyncStrategy
	}
	return nil
}

// reconcile drops every input the snapshot acknowledges and replays the
// rest on top of the freshly adopted authoritative state. Afterwards
// the predicted state equals fold(ApplyInput, authoritative, pending).
func (c *Client) reconcile(msg proto.StateMessage) {
	kept := c.pending[:0]
	for _, in := range c.pending {
		if in.Seq > msg.LastProcessedSeq {
			kept = append(kept, in)
		}
	}
	c.pending = kept

	for _, in := range c.pending {
		e, ok := c.entities.Get(in.EntityID)
		if !ok {
			c.log.Warn("dropping pending input for unknown entity",
				"entity", string(in.EntityID), "seq", in.Seq)
			continue
		}
		applier, ok := e.(entity.InputApplier)
		if !ok {
			c.log.Warn("dropping pending input for non-applier entity",
				"entity", string(in.EntityID), "seq", in.Seq)
			continue
		}
		applier.ApplyInput(in.Input)
	}
}

func (c *Client) processInputs() {
	now := c.clk.NowMs()
	last := now
	if c.hasLastInput {
		last = c.lastInputAt
	}
	elapsed := now - last
	c.lastInputAt = now
	c.hasLastInput = true

	inputs := c.inputs.GetInputs(elapsed)
	if len(inputs) == 0 {
		return
	}

	batch := make([]proto.InputMessage, 0, len(inputs))
	for _, in := range inputs {
		e, ok := c.entities.Get(in.EntityID)
		if !ok {
			c.log.Warn("dropping input for unknown entity", "entity", string(in.EntityID))
			continue
		}
		applier, ok := e.(entity.InputApplier)
		if !ok {
			c.log.Warn("dropping input for non-applier entity", "entity", string(in.EntityID))
			continue
		}

		msg := proto.InputMessage{EntityID: in.EntityID, Input: in.Input, Seq: c.seq}
		applier.ApplyInput(in.Input)
		batch = append(batch, msg)
		c.pending = append(c.pending, msg)
	}
	if len(batch) == 0 {
		return
	}
	c.net.Send(batch...)

	// One sequence number covers the whole collection batch, so a
	// single ack can span every entity this client owns.
	c.seq++
}

func (c *Client) interpolateEntities() {
	now := c.clk.NowMs()
	renderTs := now - int64(1000/c.serverRateHz)

	for id, e := range c.interpolatable {
		if c.OwnsEntity(id) {
			continue
		}
		buf := c.stateBuffers[id]

		for len(buf) >= 2 && buf[1].receivedAtMs <= renderTs {
			buf = buf[1:]
		}
		if len(buf) >= 2 && buf[0].receivedAtMs <= renderTs && renderTs <= buf[1].receivedAtMs {
			span := buf[1].receivedAtMs - buf[0].receivedAtMs
			ratio := float64(renderTs-buf[0].receivedAtMs) / float64(span)
			e.Interpolate(buf[0].state, buf[1].state, ratio)
		}
		c.stateBuffers[id] = buf
	}
}

// Start drives Tick on the client's own interval; Stop halts at the
// next boundary.
func (c *Client) Start() {
	if c.runner == nil {
		c.runner = interval.NewRunner(func() {
			if err := c.Tick(); err != nil {
				c.log.Error("client tick failed", "error", err)
			}
		}, interval.FromHz(c.rateHz))
	}
	c.runner.Start()
}

func (c *Client) Stop() {
	if c.runner != nil {
		c.runner.Stop()
	}
}

func (c *Client) IsRunning() bool {
	return c.runner != nil && c.runner.IsRunning()
}
