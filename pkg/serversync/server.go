// Package serversync owns the authoritative side of the sync core: it
// drains client inputs in received order, advances the simulation,
// snapshots history at the tick rate, broadcasts per-client state, and
// hosts the lag compensator.
package serversync

import (
	"iter"

	"entsync/pkg/clock"
	"entsync/pkg/entity"
	"entsync/pkg/eslog"
	"entsync/pkg/hist"
	"entsync/pkg/interval"
	"entsync/pkg/proto"
)

// WorldState is the snapshot unit recorded into history: every entity's
// state keyed by id.
type WorldState map[entity.ID]entity.State

// ServerNetwork is what the server needs from a transport: the memnet
// network satisfies it directly, real transports are adapted via
// transport.BindServer.
type ServerNetwork interface {
	ClientIDs() []string
	Drain(clientID string) iter.Seq[proto.InputMessage]
	Broadcast(perClient map[string][]proto.StateMessage) error
}

type Options struct {
	Clock   clock.Clock
	Logger  eslog.Logger
	Network ServerNetwork

	UpdateRateHz float64

	// HistoryWindowMs bounds the lag-compensation horizon. It should
	// cover the worst-case client round trip.
	HistoryWindowMs int64

	// Advance runs server-driven simulation (environment, AI) between
	// input application and the snapshot. Optional.
	Advance func(elapsedMs int64)
}

type Server struct {
	clk clock.Clock
	log eslog.Logger
	net ServerNetwork

	rateHz  float64
	advance func(elapsedMs int64)

	entities *entity.Collection[entity.InputApplier]
	history  *hist.Buffer[WorldState]
	owners   map[entity.ID]string

	// lastProcessed remembers the newest applied sequence number per
	// (client, entity); ackMax is its per-client maximum, which is what
	// goes on the wire. Per-batch sequence numbers and FIFO delivery
	// make the maximum a sound ack for every entity of the client.
	lastProcessed map[string]map[entity.ID]uint64
	ackMax        map[string]uint64

	lastTickMs int64
	ticked     bool

	runner *interval.Runner
	comp   *Compensator[WorldState]
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.SystemClock{}
	}
	if opts.UpdateRateHz == 0 {
		opts.UpdateRateHz = 10
	}
	if opts.HistoryWindowMs == 0 {
		opts.HistoryWindowMs = 1000
	}
	s := &Server{
		clk:           opts.Clock,
		log:           eslog.OrNop(opts.Logger),
		net:           opts.Network,
		rateHz:        opts.UpdateRateHz,
		advance:       opts.Advance,
		entities:      entity.NewCollection[entity.InputApplier](),
		history:       hist.New[WorldState](opts.HistoryWindowMs),
		owners:        make(map[entity.ID]string),
		lastProcessed: make(map[string]map[entity.ID]uint64),
		ackMax:        make(map[string]uint64),
	}
	return s
}

// AddEntity registers an authoritative entity. ownerClientID is empty
// for server-owned entities (environment, AI).
func (s *Server) AddEntity(e entity.InputApplier, ownerClientID string) error {
	if err := s.entities.Add(e); err != nil {
		return err
	}
	if ownerClientID != "" {
		s.owners[e.ID()] = ownerClientID
	}
	return nil
}

func (s *Server) Entities() *entity.Collection[entity.InputApplier] {
	return s.entities
}

func (s *Server) History() *hist.Buffer[WorldState] {
	return s.history
}

func (s *Server) UpdateRateHz() float64 {
	return s.rateHz
}

// SetLagCompensation installs the compensation hooks over the server's
// own history buffer.
func (s *Server) SetLagCompensation(
	validate Validator[WorldState],
	apply Applicator[WorldState],
	resim Resimmer[WorldState],
) *Compensator[WorldState] {
	s.comp = NewCompensator(s.history, validate, apply, resim)
	return s.comp
}

// ProcessRequest runs one lag-compensation request against history.
// False means the request was too old or rejected, or that no
// compensator was installed; history is untouched in every such case.
func (s *Server) ProcessRequest(req Request) (bool, error) {
	if s.comp == nil {
		return false, nil
	}
	return s.comp.Process(req)
}

// Tick runs one authoritative update. Inputs drain per client in FIFO
// order; clients themselves are polled in connection order. The
// snapshot is recorded and broadcast only after every drained input has
// been applied.
func (s *Server) Tick() error {
	now := s.clk.NowMs()

	clientIDs := s.net.ClientIDs()
	for _, clientID := range clientIDs {
		for msg := range s.net.Drain(clientID) {
			e, ok := s.entities.Get(msg.EntityID)
			if !ok {
				s.log.Warn("dropping input for unknown entity",
					"client", clientID, "entity", string(msg.EntityID), "seq", msg.Seq)
				continue
			}
			e.ApplyInput(msg.Input)
			s.ack(clientID, msg.EntityID, msg.Seq)
		}
	}

	if s.advance != nil {
		elapsed := int64(0)
		if s.ticked {
			elapsed = now - s.lastTickMs
		}
		s.advance(elapsed)
	}
	s.lastTickMs = now
	s.ticked = true

	if err := s.history.Record(now, s.Snapshot()); err != nil {
		// Non-monotonic snapshot times mean the tick rate and clock
		// disagree; that is not survivable.
		return err
	}

	return s.broadcast(now, clientIDs)
}

// Snapshot deep-copies the current state of every entity.
func (s *Server) Snapshot() WorldState {
	w := make(WorldState, s.entities.Len())
	for id, e := range s.entities.All() {
		w[id] = e.State().Clone()
	}
	return w
}

func (s *Server) broadcast(nowMs int64, clientIDs []string) error {
	if len(clientIDs) == 0 {
		return nil
	}
	perClient := make(map[string][]proto.StateMessage, len(clientIDs))
	for _, clientID := range clientIDs {
		msgs := make([]proto.StateMessage, 0, s.entities.Len())
		for id, e := range s.entities.All() {
			msgs = append(msgs, proto.StateMessage{
				Entity: proto.EntityView{
					ID:    id,
					State: e.State().Clone(),
					Local: s.owners[id] == clientID,
				},
				LastProcessedSeq: s.ackMax[clientID],
				TimestampMs:      nowMs,
			})
		}
		perClient[clientID] = msgs
	}
	return s.net.Broadcast(perClient)
}

func (s *Server) ack(clientID string, entityID entity.ID, seq uint64) {
	m, ok := s.lastProcessed[clientID]
	if !ok {
		m = make(map[entity.ID]uint64)
		s.lastProcessed[clientID] = m
	}
	m[entityID] = seq
	if seq > s.ackMax[clientID] || !s.hasAck(clientID) {
		s.ackMax[clientID] = seq
	}
}

func (s *Server) hasAck(clientID string) bool {
	_, ok := s.ackMax[clientID]
	return ok
}

// LastProcessedSeq reports the newest applied sequence number for a
// (client, entity) pair.
func (s *Server) LastProcessedSeq(clientID string, entityID entity.ID) (uint64, bool) {
	m, ok := s.lastProcessed[clientID]
	if !ok {
		return 0, false
	}
	seq, ok := m[entityID]
	return seq, ok
}

// Start drives Tick on a fixed interval; Stop halts at the next
// boundary. Tick stays callable directly for tests.
func (s *Server) Start() {
	if s.runner == nil {
		s.runner = interval.NewRunner(func() {
			if err := s.Tick(); err != nil {
				s.log.Error("server tick failed", "error", err)
			}
		}, interval.FromHz(s.rateHz))
	}
	s.runner.Start()
}

func (s *Server) Stop() {
	if s.runner != nil {
		s.runner.Stop()
	}
}

func (s *Server) IsRunning() bool {
	return s.runner != nil && s.runner.IsRunning()
}
