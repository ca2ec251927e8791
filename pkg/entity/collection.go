package entity

import (
	"errors"
	"iter"
)

var ErrDuplicateEntity = errors.New("entity: id already present in collection")

// Collection keys entities by id and iterates them in insertion order.
// Entity retirement is out of scope, so there is no removal.
type Collection[E Entity] struct {
	order []ID
	byID  map[ID]E
}

func NewCollection[E Entity]() *Collection[E] {
	return &Collection[E]{byID: make(map[ID]E)}
}

func (c *Collection[E]) Add(e E) error {
	id := e.ID()
	if _, ok := c.byID[id]; ok {
		return ErrDuplicateEntity
	}
	c.byID[id] = e
	c.order = append(c.order, id)
	return nil
}

func (c *Collection[E]) Get(id ID) (E, bool) {
	e, ok := c.byID[id]
	return e, ok
}

func (c *Collection[E]) Has(id ID) bool {
	_, ok := c.byID[id]
	return ok
}

func (c *Collection[E]) Len() int {
	return len(c.order)
}

func (c *Collection[E]) All() iter.Seq2[ID, E] {
	return func(yield func(ID, E) bool) {
		for _, id := range c.order {
			if !yield(id, c.byID[id]) {
				return
			}
		}
	}
}

// AsMap returns a fresh id-keyed map of the members. Mutating the map
// does not affect the collection.
func (c *Collection[E]) AsMap() map[ID]E {
	out := make(map[ID]E, len(c.byID))
	for id, e := range c.byID {
		out[id] = e
	}
	return out
}
