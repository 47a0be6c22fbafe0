package unit

import (
	"sync"
	"sync/atomic"

	"github.com/rafabd1/Nightshade/internal/target"
)

// ID indexes a unit in its Arena.
type ID = int

// NoID is the ID of a unit that has not been registered.
const NoID ID = target.NoParent

type node struct {
	unit      Unit
	parent    ID
	completed atomic.Bool
}

// Arena owns every matched unit. Each node stores its parent's ID rather
// than a pointer, so lineage walks are index chases.
type Arena struct {
	mu    sync.RWMutex
	nodes []*node
}

// NewArena creates an empty Arena.
func NewArena() *Arena {
	return &Arena{}
}

// Add registers u and assigns its ID. The parent is the unit that produced
// u's target.
func (a *Arena) Add(u Unit) ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := len(a.nodes)
	a.nodes = append(a.nodes, &node{unit: u, parent: u.Target().Parent()})
	u.base().id = id
	return id
}

func (a *Arena) node(id ID) *node {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if id < 0 || id >= len(a.nodes) {
		return nil
	}
	return a.nodes[id]
}

// Get returns the unit with the given ID, or nil.
func (a *Arena) Get(id ID) Unit {
	if n := a.node(id); n != nil {
		return n.unit
	}
	return nil
}

// Len returns the number of registered units.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Completed reports the completion latch of a unit.
func (a *Arena) Completed(id ID) bool {
	if n := a.node(id); n != nil {
		return n.completed.Load()
	}
	return false
}

// Complete latches completion on id and every ancestor up to the origin.
func (a *Arena) Complete(id ID) {
	for n := a.node(id); n != nil; n = a.node(n.parent) {
		n.completed.Store(true)
	}
}

// Ancestors returns the IDs of id's ancestors, root first.
func (a *Arena) Ancestors(id ID) []ID {
	var chain []ID
	n := a.node(id)
	for n != nil && n.parent != NoID {
		chain = append(chain, n.parent)
		n = a.node(n.parent)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Root returns the ID of id's root-most ancestor (id itself for roots).
func (a *Arena) Root(id ID) ID {
	root := id
	for n := a.node(id); n != nil && n.parent != NoID; n = a.node(n.parent) {
		root = n.parent
	}
	return root
}

// Each calls fn for every registered unit in ID order.
func (a *Arena) Each(fn func(Unit)) {
	a.mu.RLock()
	units := make([]Unit, len(a.nodes))
	for i, n := range a.nodes {
		units[i] = n.unit
	}
	a.mu.RUnlock()
	for _, u := range units {
		fn(u)
	}
}
