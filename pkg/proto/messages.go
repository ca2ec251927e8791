// Package proto defines the two message shapes exchanged between
// client and server. Both carry a kind discriminator so a single typed
// channel can route them; encoding is the transport's concern.
package proto

import "entsync/pkg/entity"

type Kind uint8

const (
	KindInput Kind = iota + 1
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// InputMessage carries one predicted input command. Seq is assigned per
// input-collection batch, not per input, so a single server ack can
// cover every entity the client owns.
type InputMessage struct {
	EntityID entity.ID
	Input    entity.Input
	Seq      uint64
}

func (InputMessage) Kind() Kind { return KindInput }

// EntityView is the per-recipient projection of an entity inside a
// StateMessage. Local is true exactly when the entity belongs to the
// recipient client.
type EntityView struct {
	ID    entity.ID
	State entity.State
	Local bool
}

// StateMessage is one authoritative snapshot of a single entity,
// addressed to a single client.
type StateMessage struct {
	Entity           EntityView
	LastProcessedSeq uint64
	TimestampMs      int64
}

func (StateMessage) Kind() Kind { return KindState }
