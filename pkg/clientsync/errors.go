package clientsync

import "errors"

var (
	// ErrEntityIDMismatch means a NewEntityHandler returned an entity
	// whose id differs from the message that asked for it.
	ErrEntityIDMismatch = errors.New("clientsync: handler returned entity with mismatched id")

	// ErrUnexpectedSyncStrategy means a non-local entity does not
	// implement the capability its declared strategy requires.
	ErrUnexpectedSyncStrategy = errors.New("clientsync: entity does not support its sync strategy")

	// ErrInternalInconsistency means an entity that was just registered
	// cannot be found again.
	ErrInternalInconsistency = errors.New("clientsync: entity missing after registration")
)
