package mesh

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTransport routes peer-exchange ingestion directly between in-memory
// PeerSets, modeling the five-node chain of the seed scenario (spec §8.1)
// without real sockets.
type fakeTransport struct {
	setsByURL map[string]*PeerSet
}

func (f *fakeTransport) FetchIdentity(ctx context.Context, url string) (IdentityResponse, error) {
	return IdentityResponse{}, nil
}
func (f *fakeTransport) RegisterPeer(ctx context.Context, url string, self IdentityResponse) error {
	return nil
}
func (f *fakeTransport) FetchPeers(ctx context.Context, url string) ([]Entry, error) { return nil, nil }

func (f *fakeTransport) Ingest(ctx context.Context, url string, msg MessageEnvelope) error {
	set, ok := f.setsByURL[url]
	if !ok {
		return nil
	}
	return IngestPeerExchange(set, msg.Payload)
}

func TestGossipChainPropagationAcrossFiveNodes(t *testing.T) {
	const n = 5
	urls := make([]string, n)
	sets := make([]*PeerSet, n)
	for i := 0; i < n; i++ {
		urls[i] = string(rune('A' + i))
		sets[i] = NewPeerSet(120_000)
	}
	// node i starts out knowing only its chain neighbours i-1 and i+1 (the
	// link register-peer creates in both directions), forming the
	// 0<->1<->2<->3<->4 chain.
	for i := 0; i < n; i++ {
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= n {
				continue
			}
			_ = sets[i].Register(Entry{PeerID: urls[j], URL: urls[j]}, int64(j))
		}
	}

	transport := &fakeTransport{setsByURL: map[string]*PeerSet{}}
	for i := range urls {
		transport.setsByURL[urls[i]] = sets[i]
	}

	// two exchange cycles: every node broadcasts its view to every peer
	// it knows, twice.
	for cycle := 0; cycle < 2; cycle++ {
		for i := range sets {
			payload := BuildPeerExchangePayload(sets[i])
			raw, err := json.Marshal(payload)
			require.NoError(t, err)
			for _, peer := range sets[i].All() {
				_ = transport.Ingest(context.Background(), peer.URL, MessageEnvelope{Payload: raw})
			}
		}
	}

	for i := range sets {
		require.Equal(t, n, sets[i].Len(), "node %d should know all peers after gossip", i)
	}
}
