// Package inventory holds the Address->Actor directory: get-or-create,
// drop, and drop-all, guarded by an RW-lock held across map mutations and
// across the factory call that creates a missing entry.
package inventory

import (
	"sync"

	"github.com/nereid-labs/instrumentd/internal/addr"
)

// Entry is anything the inventory can hold: an actor handle the dispatcher
// forwards requests to, plus a teardown hook.
type Entry interface {
	// Stop tears down the actor (mailbox loop, listener tasks, open
	// handle). Must be safe to call once.
	Stop()
}

// Factory creates a new Entry for address on first use. GetOrCreate calls
// it with the write lock held. Creation may open a transport: a CAN entry
// opens its CAN bus here, so that open runs under the lock.
type Factory func(address addr.Address) Entry

// Inventory is the concurrent Address->Entry directory.
type Inventory struct {
	mu      sync.RWMutex
	actors  map[addr.Address]Entry
	factory Factory
}

// New returns an empty Inventory that creates entries via factory.
func New(factory Factory) *Inventory {
	return &Inventory{actors: make(map[addr.Address]Entry), factory: factory}
}

// GetOrCreate returns the existing entry for address or installs a new one.
func (inv *Inventory) GetOrCreate(address addr.Address) Entry {
	inv.mu.RLock()
	e, ok := inv.actors[address]
	inv.mu.RUnlock()
	if ok {
		return e
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if e, ok := inv.actors[address]; ok {
		return e
	}
	e = inv.factory(address)
	inv.actors[address] = e
	return e
}

// Drop stops and removes the entry for address, if present.
func (inv *Inventory) Drop(address addr.Address) {
	inv.mu.Lock()
	e, ok := inv.actors[address]
	if ok {
		delete(inv.actors, address)
	}
	inv.mu.Unlock()
	if ok {
		e.Stop()
	}
}

// DropAll stops and removes every entry.
func (inv *Inventory) DropAll() {
	inv.mu.Lock()
	all := inv.actors
	inv.actors = make(map[addr.Address]Entry)
	inv.mu.Unlock()
	for _, e := range all {
		e.Stop()
	}
}

// List returns every currently installed address, used to answer
// ListConnectedInstruments.
func (inv *Inventory) List() []addr.Address {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]addr.Address, 0, len(inv.actors))
	for a := range inv.actors {
		out = append(out, a)
	}
	return out
}
