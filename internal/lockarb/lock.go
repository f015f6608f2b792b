// Package lockarb implements the cross-client lock arbitrator: exclusive,
// time-bounded access to an instrument address, with a FIFO waitlist and
// automatic release on client disconnect or expiry.
package lockarb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nereid-labs/instrumentd/internal/addr"
	"github.com/nereid-labs/instrumentd/internal/ioerrs"
)

// ID is a lock identifier, a random v4 UUID string.
type ID string

func newID() ID { return ID(uuid.New().String()) }

type liveLock struct {
	id         ID
	acquiredAt time.Time
	timeout    time.Duration
	released   bool
	expiry     *time.Timer
}

type waiter struct {
	ch      chan ID
	timeout time.Duration
}

// Arbitrator holds one live lock per address plus a FIFO waitlist of
// pending acquirers.
type Arbitrator struct {
	mu      sync.Mutex
	locks   map[addr.Address]*liveLock
	waiters map[addr.Address][]*waiter
}

// New returns an empty Arbitrator.
func New() *Arbitrator {
	return &Arbitrator{
		locks:   make(map[addr.Address]*liveLock),
		waiters: make(map[addr.Address][]*waiter),
	}
}

// ErrLockMismatch is returned when a request's lock id does not match the
// address's currently held lock.
var ErrLockMismatch = fmt.Errorf("lockarb: lock id mismatch")

// Lock requests exclusive access to address, returning a fresh ID if free
// or, once granted from the waitlist, after waiting up to timeout. A
// timed-out wait returns Protocol::Timeout.
func (a *Arbitrator) Lock(ctx context.Context, address addr.Address, timeout time.Duration) (ID, error) {
	a.mu.Lock()
	if _, held := a.locks[address]; !held {
		id := newID()
		a.grant(address, id, timeout)
		a.mu.Unlock()
		return id, nil
	}
	w := &waiter{ch: make(chan ID, 1), timeout: timeout}
	a.waiters[address] = append(a.waiters[address], w)
	a.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-w.ch:
		return id, nil
	case <-timer.C:
		a.removeWaiter(address, w)
		return "", ioerrs.Timeout("lock_wait")
	case <-ctx.Done():
		a.removeWaiter(address, w)
		return "", ioerrs.Internal("lock_wait", ctx.Err())
	}
}

// grant must be called with a.mu held; it installs the lock and arms its
// expiry timer.
func (a *Arbitrator) grant(address addr.Address, id ID, timeout time.Duration) {
	ll := &liveLock{id: id, acquiredAt: time.Now(), timeout: timeout}
	ll.expiry = time.AfterFunc(timeout, func() { a.expire(address, id) })
	a.locks[address] = ll
}

func (a *Arbitrator) expire(address addr.Address, id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ll, ok := a.locks[address]
	if !ok || ll.id != id || ll.released {
		return
	}
	a.releaseLocked(address)
}

// Unlock verifies ownership and releases the lock held on address,
// granting the next waiter (if any).
func (a *Arbitrator) Unlock(address addr.Address, id ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ll, ok := a.locks[address]
	if !ok || ll.id != id {
		return ErrLockMismatch
	}
	a.releaseLocked(address)
	return nil
}

// releaseLocked must be called with a.mu held. It flips the released flag,
// stops the expiry timer, and grants the next waiter if present.
func (a *Arbitrator) releaseLocked(address addr.Address) {
	if ll, ok := a.locks[address]; ok {
		ll.released = true
		if ll.expiry != nil {
			ll.expiry.Stop()
		}
	}
	delete(a.locks, address)

	queue := a.waiters[address]
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		a.waiters[address] = queue
		id := newID()
		select {
		case next.ch <- id:
			a.grant(address, id, next.timeout)
			return
		default:
			// waiter already gave up (timed out/canceled); try the next.
			continue
		}
	}
	delete(a.waiters, address)
}

func (a *Arbitrator) removeWaiter(address addr.Address, w *waiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	queue := a.waiters[address]
	for i, q := range queue {
		if q == w {
			a.waiters[address] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
}

// Check reports whether a request bearing optional heldID may proceed
// against address: either no lock is held, or heldID matches the current
// lock.
func (a *Arbitrator) Check(address addr.Address, heldID ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ll, ok := a.locks[address]
	if !ok {
		return nil
	}
	if ll.id != heldID {
		return ErrLockMismatch
	}
	return nil
}

// ReleaseAllOwnedBy releases every lock in ids, used when a client session
// disconnects (the dispatcher tracks issued lock ids per session).
func (a *Arbitrator) ReleaseAllOwnedBy(owned map[addr.Address]ID) {
	for address, id := range owned {
		_ = a.Unlock(address, id)
	}
}
