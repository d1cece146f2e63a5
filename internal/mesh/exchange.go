package mesh

import (
	"context"
	"encoding/json"

	"github.com/edgecoder/coordinator/internal/protocol"
)

const maxExchangedPeers = 50

// peerExchangePayload is the payload of a peer_exchange gossip message
// (spec §4.2).
type peerExchangePayload struct {
	Peers []exchangedPeer `json:"peers"`
}

type exchangedPeer struct {
	PeerID      string `json:"peerId"`
	Role        string `json:"role"`
	NetworkMode string `json:"networkMode"`
	URL         string `json:"url"`
	LastSeenMs  int64  `json:"lastSeenMs"`
}

// BuildPeerExchangePayload snapshots the up-to-50 most-recently-seen peers
// for the periodic peer_exchange broadcast.
func BuildPeerExchangePayload(peers *PeerSet) peerExchangePayload {
	recent := peers.MostRecentlySeen(maxExchangedPeers)
	out := peerExchangePayload{Peers: make([]exchangedPeer, 0, len(recent))}
	for _, e := range recent {
		out.Peers = append(out.Peers, exchangedPeer{
			PeerID:      e.PeerID,
			Role:        string(e.Role),
			NetworkMode: string(e.NetworkMode),
			URL:         e.URL,
			LastSeenMs:  e.LastSeenMs,
		})
	}
	return out
}

// BroadcastPeerExchange runs one peer_exchange cycle (spec §4.2, default
// every 30s).
func (b *Broadcaster) BroadcastPeerExchange(ctx context.Context) (BroadcastResult, error) {
	return b.Broadcast(ctx, protocol.KindPeerExchange, BuildPeerExchangePayload(b.peers), 60_000)
}

// IngestPeerExchange merges a received peer_exchange payload into the
// local peer table (spec §4.2: "merge entries whose peerId is unknown;
// for known peers, advance lastSeenMs to the max").
func IngestPeerExchange(peers *PeerSet, payload json.RawMessage) error {
	var decoded peerExchangePayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	for _, p := range decoded.Peers {
		peers.MergeExternal(Entry{
			PeerID:      p.PeerID,
			Role:        roleFrom(p.Role),
			NetworkMode: networkModeFrom(p.NetworkMode),
			URL:         p.URL,
			LastSeenMs:  p.LastSeenMs,
		})
	}
	return nil
}
