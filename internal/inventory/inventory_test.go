package inventory

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nereid-labs/instrumentd/internal/addr"
)

type fakeEntry struct {
	stops atomic.Int64
}

func (e *fakeEntry) Stop() { e.stops.Add(1) }

func TestGetOrCreateReusesExistingEntry(t *testing.T) {
	var created atomic.Int64
	inv := New(func(a addr.Address) Entry {
		created.Add(1)
		return &fakeEntry{}
	})
	address := addr.Serial("/dev/ttyUSB0")

	e1 := inv.GetOrCreate(address)
	e2 := inv.GetOrCreate(address)
	if e1 != e2 {
		t.Fatal("expected the same entry on a second GetOrCreate")
	}
	if created.Load() != 1 {
		t.Fatalf("expected exactly one factory call, got %d", created.Load())
	}
}

func TestGetOrCreateConcurrentCallersGetOneEntry(t *testing.T) {
	var created atomic.Int64
	inv := New(func(a addr.Address) Entry {
		created.Add(1)
		return &fakeEntry{}
	})
	address := addr.Tcp("host", 502)

	var wg sync.WaitGroup
	entries := make([]Entry, 50)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i] = inv.GetOrCreate(address)
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(entries); i++ {
		if entries[i] != entries[0] {
			t.Fatal("concurrent GetOrCreate callers received different entries")
		}
	}
	if created.Load() != 1 {
		t.Fatalf("expected exactly one factory call under concurrency, got %d", created.Load())
	}
}

func TestDropStopsAndRemoves(t *testing.T) {
	inv := New(func(a addr.Address) Entry { return &fakeEntry{} })
	address := addr.Serial("/dev/ttyUSB1")

	entry := inv.GetOrCreate(address).(*fakeEntry)
	inv.Drop(address)
	if entry.stops.Load() != 1 {
		t.Fatalf("expected Stop to be called once, got %d", entry.stops.Load())
	}
	if len(inv.List()) != 0 {
		t.Fatal("expected the inventory to be empty after Drop")
	}

	// Dropping an address with no entry must be a no-op, not a panic.
	inv.Drop(address)
}

func TestDropAllStopsEveryEntry(t *testing.T) {
	inv := New(func(a addr.Address) Entry { return &fakeEntry{} })
	addrs := []addr.Address{addr.Serial("a"), addr.Serial("b"), addr.Serial("c")}
	entries := make([]*fakeEntry, len(addrs))
	for i, a := range addrs {
		entries[i] = inv.GetOrCreate(a).(*fakeEntry)
	}

	inv.DropAll()

	for i, e := range entries {
		if e.stops.Load() != 1 {
			t.Fatalf("entry %d not stopped", i)
		}
	}
	if got := inv.List(); len(got) != 0 {
		t.Fatalf("expected empty inventory after DropAll, got %v", got)
	}
}

func TestListReturnsAllAddresses(t *testing.T) {
	inv := New(func(a addr.Address) Entry { return &fakeEntry{} })
	addrs := []addr.Address{addr.Serial("a"), addr.Tcp("h", 1)}
	for _, a := range addrs {
		inv.GetOrCreate(a)
	}
	list := inv.List()
	if len(list) != len(addrs) {
		t.Fatalf("expected %d addresses, got %d", len(addrs), len(list))
	}
	seen := map[addr.Address]bool{}
	for _, a := range list {
		seen[a] = true
	}
	for _, a := range addrs {
		if !seen[a] {
			t.Fatalf("missing address %v in List()", a)
		}
	}
}
