package mesh

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/edgecoder/coordinator/internal/identity"
	"github.com/edgecoder/coordinator/internal/metrics"
	"github.com/edgecoder/coordinator/internal/protocol"
)

var log = logrus.WithField("component", "mesh")

// BroadcastResult is returned by Broadcaster.Broadcast (spec §4.2).
type BroadcastResult struct {
	Delivered int
	Failed    int
}

// Broadcaster signs and fans a message out to every known peer in
// parallel, per spec §4.2/§5: "fans out to every peer URL in parallel;
// returns {delivered, failed}... Delivery is at-least-once and
// best-effort."
type Broadcaster struct {
	self      *identity.Identity
	peers     *PeerSet
	transport Transport
	perPeerTimeout time.Duration
}

func NewBroadcaster(self *identity.Identity, peers *PeerSet, transport Transport, perPeerTimeout time.Duration) *Broadcaster {
	return &Broadcaster{self: self, peers: peers, transport: transport, perPeerTimeout: perPeerTimeout}
}

// Broadcast constructs, signs, and fans out a message of the given type.
func (b *Broadcaster) Broadcast(ctx context.Context, kind protocol.Kind, payload interface{}, ttlMs int64) (BroadcastResult, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return BroadcastResult{}, err
	}
	msg := protocol.Message{
		ID:         newMessageID(),
		Type:       kind,
		FromPeerID: b.self.PeerID(),
		IssuedAtMs: protocol.NowMs(),
		TTLMs:      ttlMs,
		Payload:    rawPayload,
	}
	signed, err := protocol.Sign(b.self, msg)
	if err != nil {
		return BroadcastResult{}, err
	}
	envelope := MessageEnvelope{
		ID:         signed.ID,
		Type:       string(signed.Type),
		FromPeerID: signed.FromPeerID,
		IssuedAtMs: signed.IssuedAtMs,
		TTLMs:      signed.TTLMs,
		Payload:    signed.Payload,
		Signature:  signed.Signature,
	}

	targets := b.peers.All()
	var delivered, failed int32
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range targets {
		peer := peer
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, b.perPeerTimeout)
			defer cancel()
			if err := b.transport.Ingest(callCtx, peer.URL, envelope); err != nil {
				log.WithError(err).WithField("peer", peer.PeerID).Warn("gossip delivery failed")
				atomic.AddInt32(&failed, 1)
				metrics.GossipFanoutTotal.WithLabelValues("failed").Inc()
				return nil // best-effort: one peer's failure must not cancel the others
			}
			atomic.AddInt32(&delivered, 1)
			metrics.GossipFanoutTotal.WithLabelValues("delivered").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return BroadcastResult{Delivered: int(delivered), Failed: int(failed)}, nil
}

func newMessageID() string {
	return uuidV4()
}
