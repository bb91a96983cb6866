package event

import (
	"errors"
	"fmt"
)

// SpareCapacity is the number of slots reserved beyond the initial count of
// every dynamic collection, for entries discovered mid-run.
const SpareCapacity = 16

// ErrCapacityExceeded is the panic value raised when a collection would have
// to grow past its reservation after handles to its elements were given out.
var ErrCapacityExceeded = errors.New("dynamic collection grew past its reserved capacity")

// Collection is a named, append-only set of records. Every element is
// allocated on its own and handed out as a stable *T; the slot table is
// reserved once. Growing past the reservation is allowed only while no
// handle has been given out, otherwise it panics with ErrCapacityExceeded.
type Collection[T any] struct {
	names     []string
	items     []*T
	byName    map[string]int
	handedOut bool
}

// reserve empties the collection and reserves room for n elements plus
// SpareCapacity.
func (c *Collection[T]) reserve(n int) {
	c.names = make([]string, 0, n+SpareCapacity)
	c.items = make([]*T, 0, n+SpareCapacity)
	c.byName = make(map[string]int, n+SpareCapacity)
	c.handedOut = false
}

func (c *Collection[T]) add(name string, v *T) int {
	if c.byName == nil {
		c.reserve(0)
	}
	if len(c.items) == cap(c.items) && c.handedOut {
		panic(fmt.Errorf("adding %q to a collection of %d: %w", name, len(c.items), ErrCapacityExceeded))
	}
	i := len(c.items)
	c.names = append(c.names, name)
	c.items = append(c.items, v)
	c.byName[name] = i
	return i
}

// Len returns the number of elements.
func (c *Collection[T]) Len() int { return len(c.items) }

// Cap returns the number of elements the collection can hold without
// growing its slot table.
func (c *Collection[T]) Cap() int { return cap(c.items) }

// Names returns the element names in insertion order.
func (c *Collection[T]) Names() []string { return append([]string(nil), c.names...) }

// Name returns the name of element i.
func (c *Collection[T]) Name(i int) string { return c.names[i] }

// Handle returns element i. The pointer stays valid for the life of the
// collection.
func (c *Collection[T]) Handle(i int) *T {
	c.handedOut = true
	return c.items[i]
}

// Lookup returns the element with the given name.
func (c *Collection[T]) Lookup(name string) (*T, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.Handle(i), true
}

// Index returns the position of a named element.
func (c *Collection[T]) Index(name string) (int, bool) {
	i, ok := c.byName[name]
	return i, ok
}

// each calls fn for every element without marking handles as given out.
func (c *Collection[T]) each(fn func(*T)) {
	for _, v := range c.items {
		fn(v)
	}
}
