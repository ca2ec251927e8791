package clientsync

import "entsync/pkg/entity"

// EntityInput pairs a command with the owned entity it drives.
type EntityInput struct {
	EntityID entity.ID
	Input    entity.Input
}

// InputCollectionStrategy turns elapsed time into this tick's input
// batch. Device I/O is the collaborator's problem; the strategy must be
// pure with respect to elapsed time.
type InputCollectionStrategy interface {
	GetInputs(elapsedMs int64) []EntityInput
}

// InputCollectionFunc adapts a function to the strategy interface.
type InputCollectionFunc func(elapsedMs int64) []EntityInput

func (f InputCollectionFunc) GetInputs(elapsedMs int64) []EntityInput {
	return f(elapsedMs)
}

// NoInputs is the strategy of a spectator client.
type NoInputs struct{}

func (NoInputs) GetInputs(int64) []EntityInput { return nil }
