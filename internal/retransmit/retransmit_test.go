package retransmit_test

import (
	"testing"

	"github.com/AdguardTeam/dnsproxy-core/internal/retransmit"
	"github.com/stretchr/testify/assert"
)

func TestTable_RegisterDeregister(t *testing.T) {
	tbl := retransmit.NewTable()
	key := retransmit.Key{ID: 42, Peer: "10.0.0.1:53"}

	assert.Equal(t, 1, tbl.Register(key))
	assert.Equal(t, 2, tbl.Register(key), "a retransmit while the first is in flight")
	assert.Equal(t, 1, tbl.Len())

	tbl.Deregister(key)
	assert.Equal(t, 1, tbl.Len())

	tbl.Deregister(key)
	assert.Equal(t, 0, tbl.Len())

	// Deregistering past zero must not panic or go negative.
	tbl.Deregister(key)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_DistinctPeers(t *testing.T) {
	tbl := retransmit.NewTable()
	a := retransmit.Key{ID: 1, Peer: "10.0.0.1:53"}
	b := retransmit.Key{ID: 1, Peer: "10.0.0.2:53"}

	assert.Equal(t, 1, tbl.Register(a))
	assert.Equal(t, 1, tbl.Register(b))
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_SnapshotIsOrdered(t *testing.T) {
	tbl := retransmit.NewTable()

	c := retransmit.Key{ID: 5, Peer: "10.0.0.1:53"}
	a := retransmit.Key{ID: 1, Peer: "10.0.0.2:53"}
	b := retransmit.Key{ID: 1, Peer: "10.0.0.1:53"}

	tbl.Register(c)
	tbl.Register(a)
	tbl.Register(b)
	tbl.Register(b)

	keys, counts := tbl.Snapshot()
	assert.Equal(t, []retransmit.Key{b, a, c}, keys)
	assert.Equal(t, []int{2, 1, 1}, counts)
}
