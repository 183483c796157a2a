package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/roadnet-simulator/kb"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// ErrUnknownEdge is returned when a ledger operation names an edge that was
// not part of the registry the ledger was built from.
var ErrUnknownEdge = errors.New("edge not in ledger")

// Ledger records which agents of one population are associated with each
// edge. Every registry edge gets an entry when the ledger is created and
// keeps it for the ledger's lifetime; Attach and Detach only change the
// entry's contents. The ledger does not enforce exclusion of any kind.
type Ledger struct {
	mu      sync.RWMutex
	kind    model.PopulationKind
	entries map[model.EdgeID][]Agent
}

// NewLedger creates one empty entry per edge in reg.
func NewLedger(kind model.PopulationKind, reg *kb.Registry) *Ledger {
	l := &Ledger{
		kind:    kind,
		entries: make(map[model.EdgeID][]Agent),
	}
	if reg == nil {
		return l
	}
	for _, e := range reg.Edges() {
		l.entries[e.ID] = []Agent{}
	}
	return l
}

// Kind returns the population the ledger belongs to.
func (l *Ledger) Kind() model.PopulationKind { return l.kind }

// Attach appends a to the edge's sequence.
func (l *Ledger) Attach(edge model.EdgeID, a Agent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, ok := l.entries[edge]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEdge, edge)
	}
	l.entries[edge] = append(seq, a)
	return nil
}

// Detach removes the first occurrence of a from the edge's sequence. It
// reports whether an entry was removed.
func (l *Ledger) Detach(edge model.EdgeID, a Agent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.entries[edge]
	for i, cur := range seq {
		if cur == a {
			l.entries[edge] = append(seq[:i:i], seq[i+1:]...)
			return true
		}
	}
	return false
}

// Occupants returns a copy of the edge's sequence in insertion order.
func (l *Ledger) Occupants(edge model.EdgeID) []Agent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Agent(nil), l.entries[edge]...)
}

// Count returns the number of agents recorded on edge.
func (l *Ledger) Count(edge model.EdgeID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[edge])
}

// Has reports whether the ledger holds an entry for edge, empty or not.
func (l *Ledger) Has(edge model.EdgeID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[edge]
	return ok
}

// Total returns the number of (edge, agent) associations in the ledger.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, seq := range l.entries {
		n += len(seq)
	}
	return n
}

// Occupied returns the number of edges holding at least one agent.
func (l *Ledger) Occupied() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, seq := range l.entries {
		if len(seq) > 0 {
			n++
		}
	}
	return n
}

// Edges returns the identifiers of every entry, sorted.
func (l *Ledger) Edges() []model.EdgeID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]model.EdgeID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// clear empties every entry while keeping the entries themselves.
func (l *Ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.entries {
		l.entries[id] = []Agent{}
	}
}
