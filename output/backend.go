package output

import (
	"github.com/beamrec/beamrec/rec"
	"github.com/beamrec/beamrec/store"
)

// Sink is an open output file. Branches are declared per tree before the
// tree's first Fill; Fill commits the current state of every bound record of
// the tree as one row. Close must not return before the file is durable.
type Sink interface {
	Branch(tree, name string, r rec.Record) error
	Fill(tree string) error
	Entries(tree string) int64
	Close() error
	Path() string
}

// Backend creates sinks.
type Backend interface {
	Create(path string) (Sink, error)
}

// StoreBackend writes store files.
type StoreBackend struct {
	Options store.Options
}

func (b StoreBackend) Create(path string) (Sink, error) {
	w, err := store.Create(path, b.Options)
	if err != nil {
		return nil, err
	}
	return w, nil
}
