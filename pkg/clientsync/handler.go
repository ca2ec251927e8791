package clientsync

import (
	"entsync/pkg/entity"
	"entsync/pkg/proto"
)

// NewEntityHandler instantiates entities the first time a snapshot
// mentions them. CreateLocal builds an entity the local player owns (it
// must be able to apply inputs); CreateNonLocal builds a remote entity
// and declares how it should be reconstructed.
type NewEntityHandler interface {
	CreateLocal(msg proto.StateMessage) (entity.InputApplier, error)
	CreateNonLocal(msg proto.StateMessage) (entity.Entity, entity.SyncStrategy, error)
}

// HandlerFuncs adapts plain functions to NewEntityHandler.
type HandlerFuncs struct {
	Local    func(msg proto.StateMessage) (entity.InputApplier, error)
	NonLocal func(msg proto.StateMessage) (entity.Entity, entity.SyncStrategy, error)
}

func (h HandlerFuncs) CreateLocal(msg proto.StateMessage) (entity.InputApplier, error) {
	return h.Local(msg)
}

func (h HandlerFuncs) CreateNonLocal(msg proto.StateMessage) (entity.Entity, entity.SyncStrategy, error) {
	return h.NonLocal(msg)
}

// checkedHandler enforces the handler contract: the returned entity
// must carry the id of the message it was created from.
type checkedHandler struct {
	inner NewEntityHandler
}

func (c checkedHandler) CreateLocal(msg proto.StateMessage) (entity.InputApplier, error) {
	e, err := c.inner.CreateLocal(msg)
	if err != nil {
		return nil, err
	}
	if e.ID() != msg.Entity.ID {
		return nil, ErrEntityIDMismatch
	}
	return e, nil
}

func (c checkedHandler) CreateNonLocal(msg proto.StateMessage) (entity.Entity, entity.SyncStrategy, error) {
	e, strategy, err := c.inner.CreateNonLocal(msg)
	if err != nil {
		return nil, strategy, err
	}
	if e.ID() != msg.Entity.ID {
		return nil, strategy, ErrEntityIDMismatch
	}
	return e, strategy, nil
}
