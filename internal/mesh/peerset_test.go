package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerSetEvictsExactlyAtTTL(t *testing.T) {
	set := NewPeerSet(120_000)
	require.NoError(t, set.Register(Entry{PeerID: "p1"}, 0))

	require.Empty(t, set.EvictStale(120_000-1))
	require.Equal(t, 1, set.Len())

	evicted := set.EvictStale(120_000)
	require.Equal(t, []string{"p1"}, evicted)
	require.Equal(t, 0, set.Len())
}

func TestMergeExternalAdvancesLastSeenToMax(t *testing.T) {
	set := NewPeerSet(120_000)
	require.NoError(t, set.Register(Entry{PeerID: "p1"}, 100))

	added := set.MergeExternal(Entry{PeerID: "p1", LastSeenMs: 50})
	require.False(t, added)
	e, _ := set.Get("p1")
	require.Equal(t, int64(100), e.LastSeenMs)

	added = set.MergeExternal(Entry{PeerID: "p1", LastSeenMs: 200})
	require.False(t, added)
	e, _ = set.Get("p1")
	require.Equal(t, int64(200), e.LastSeenMs)

	added = set.MergeExternal(Entry{PeerID: "p2", LastSeenMs: 1})
	require.True(t, added)
	require.Equal(t, 2, set.Len())
}

func TestMostRecentlySeenCapsAndOrders(t *testing.T) {
	set := NewPeerSet(120_000)
	for i := 0; i < 5; i++ {
		require.NoError(t, set.Register(Entry{PeerID: string(rune('a' + i))}, int64(i)))
	}
	top := set.MostRecentlySeen(2)
	require.Len(t, top, 2)
	require.Equal(t, string(rune('a'+4)), top[0].PeerID)
	require.Equal(t, string(rune('a'+3)), top[1].PeerID)
}
