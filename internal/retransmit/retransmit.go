// Package retransmit implements the per-(id,peer) retransmission detector
// described by the forwarder pipeline: a UDP client that does not receive a
// timely answer commonly retransmits the identical query while the first
// attempt is still in flight.  Detecting that forces the second attempt
// into fallback-only mode rather than piling more load onto upstreams that
// are already slow.
package retransmit

import (
	"sync"

	"github.com/AdguardTeam/dnsproxy-core/internal/aghalg"
)

// Key identifies an in-flight query by its wire id and the peer address
// that sent it.
type Key struct {
	ID   uint16
	Peer string
}

// compareKeys orders Keys by id then by peer, giving the table's backing
// [aghalg.SortedMap] a deterministic iteration order.
func compareKeys(a, b Key) (res int) {
	if a.ID != b.ID {
		if a.ID < b.ID {
			return -1
		}

		return 1
	}

	switch {
	case a.Peer < b.Peer:
		return -1
	case a.Peer > b.Peer:
		return 1
	default:
		return 0
	}
}

// Table is a thread-safe (id, peer) -> count table, ordered by
// [compareKeys] so [Table.Snapshot] and [Table.Len] see keys in a
// deterministic order rather than Go's randomized map iteration. The zero
// Table is ready to use.
type Table struct {
	mu     sync.Mutex
	counts *aghalg.SortedMap[Key, int]
}

// NewTable returns a new, empty Table.
func NewTable() (t *Table) {
	m := aghalg.NewSortedMap[Key, int](compareKeys)

	return &Table{counts: &m}
}

// ensure lazily initializes t.counts, so a zero-value Table (not
// constructed via [NewTable]) still works.
func (t *Table) ensure() {
	if t.counts == nil {
		m := aghalg.NewSortedMap[Key, int](compareKeys)
		t.counts = &m
	}
}

// Register increments the count for key and returns the count after the
// increment.  A returned count greater than 1 means this is a retransmit of
// a query that is still in flight.
func (t *Table) Register(key Key) (count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure()

	count, _ = t.counts.Get(key)
	count++
	t.counts.Set(key, count)

	return count
}

// Deregister decrements the count for key, removing the entry once it
// reaches zero.  Calling Deregister more times than Register for the same
// key is a no-op past zero.
func (t *Table) Deregister(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure()

	count, ok := t.counts.Get(key)
	if !ok {
		return
	}

	if count <= 1 {
		t.counts.Del(key)

		return
	}

	t.counts.Set(key, count-1)
}

// Len returns the number of distinct in-flight keys currently tracked.
func (t *Table) Len() (n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure()

	t.counts.Range(func(Key, int) (cont bool) {
		n++

		return true
	})

	return n
}

// Snapshot returns every currently tracked key and its in-flight count,
// ordered by id then peer, for diagnostics and deterministic test
// assertions over the table's contents.
func (t *Table) Snapshot() (keys []Key, counts []int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure()

	t.counts.Range(func(k Key, c int) (cont bool) {
		keys = append(keys, k)
		counts = append(counts, c)

		return true
	})

	return keys, counts
}
