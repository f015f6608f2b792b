package cankit

import (
	"sync"

	"github.com/notnil/canbus"

	"github.com/nereid-labs/instrumentd/internal/notify"
)

// loopbackBus is the process-wide broadcast channel bridging every
// loopback sender and receiver; it is one of the three named singletons,
// initialized lazily on first use.
var (
	loopbackOnce sync.Once
	loopbackBus  *notify.Hub[canbus.Frame]
)

// LoopbackBus returns the process-wide loopback hub.
func LoopbackBus() *notify.Hub[canbus.Frame] {
	loopbackOnce.Do(func() { loopbackBus = notify.NewHub[canbus.Frame]() })
	return loopbackBus
}

// Loopback implements canbus.Bus purely in-process: Send broadcasts to
// the shared bus, Receive reads from this instance's own subscription.
type Loopback struct {
	mu     sync.Mutex
	sub    *notify.Subscriber[canbus.Frame]
	closed bool
}

// NewLoopback subscribes a fresh bus instance to the process-wide hub.
func NewLoopback() *Loopback {
	return &Loopback{sub: LoopbackBus().Subscribe(notify.DropNewest, notify.DefaultCapacity)}
}

func (l *Loopback) Send(w canbus.Frame) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return canbus.ErrClosed
	}
	LoopbackBus().Broadcast(w)
	return nil
}

func (l *Loopback) Receive() (canbus.Frame, error) {
	w, ok := <-l.sub.C()
	if !ok {
		return canbus.Frame{}, canbus.ErrClosed
	}
	return w, nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		l.sub.Close()
	}
	return nil
}
