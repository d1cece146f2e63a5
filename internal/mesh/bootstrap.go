package mesh

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/edgecoder/coordinator/internal/identity"
	"github.com/edgecoder/coordinator/internal/protocol"
)

// Bootstrapper drives the startup sequence of spec §4.2: for each seed
// URL, fetch identity then register; then fetch that seed's peer list;
// then register with every newly-learned peer.
type Bootstrapper struct {
	self      *identity.Identity
	peers     *PeerSet
	transport Transport
	sf        singleflight.Group
}

func NewBootstrapper(self *identity.Identity, peers *PeerSet, transport Transport) *Bootstrapper {
	return &Bootstrapper{self: self, peers: peers, transport: transport}
}

func (b *Bootstrapper) selfIdentity() IdentityResponse {
	pub, _ := b.self.ExportPublicPEM()
	return IdentityResponse{
		PeerID:       b.self.PeerID(),
		PublicKeyPem: string(pub),
		URL:          b.self.URL(),
		NetworkMode:  string(b.self.NetworkMode()),
		Role:         string(b.self.Role()),
	}
}

// Bootstrap runs the three-step sequence against every configured seed
// URL. Failures against one seed do not abort the others; the first
// failure is returned even when other seeds succeeded, and the caller
// decides how to retry.
func (b *Bootstrapper) Bootstrap(ctx context.Context, seedURLs []string) error {
	self := b.selfIdentity()
	var firstErr error
	for _, seed := range seedURLs {
		if err := b.bootstrapOne(ctx, seed, self); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mesh: bootstrap seed %s: %w", seed, err)
		}
	}
	return firstErr
}

func (b *Bootstrapper) bootstrapOne(ctx context.Context, seedURL string, self IdentityResponse) error {
	// singleflight collapses concurrent bootstrap retries against the
	// same seed into one in-flight call.
	_, err, _ := b.sf.Do(seedURL, func() (interface{}, error) {
		seedIdentity, err := b.transport.FetchIdentity(ctx, seedURL)
		if err != nil {
			return nil, err
		}
		if err := b.transport.RegisterPeer(ctx, seedURL, self); err != nil {
			return nil, err
		}
		key, err := identity.DecodePublicPEM([]byte(seedIdentity.PublicKeyPem))
		if err != nil {
			return nil, err
		}
		_ = b.peers.Register(Entry{
			PeerID:      seedIdentity.PeerID,
			PublicKey:   key,
			Role:        roleFrom(seedIdentity.Role),
			NetworkMode: networkModeFrom(seedIdentity.NetworkMode),
			URL:         seedIdentity.URL,
		}, protocol.NowMs())

		learned, err := b.transport.FetchPeers(ctx, seedURL)
		if err != nil {
			return nil, err
		}
		for _, p := range learned {
			if p.PeerID == b.self.PeerID() {
				continue
			}
			if _, known := b.peers.Get(p.PeerID); known {
				continue
			}
			if err := b.registerWith(ctx, p, self); err != nil {
				log.WithError(err).WithField("peer", p.PeerID).Warn("bootstrap: failed to register with newly-learned peer")
				continue
			}
		}
		return nil, nil
	})
	return err
}

func (b *Bootstrapper) registerWith(ctx context.Context, p Entry, self IdentityResponse) error {
	remoteIdentity, err := b.transport.FetchIdentity(ctx, p.URL)
	if err != nil {
		return err
	}
	if err := b.transport.RegisterPeer(ctx, p.URL, self); err != nil {
		return err
	}
	key, err := identity.DecodePublicPEM([]byte(remoteIdentity.PublicKeyPem))
	if err != nil {
		return err
	}
	return b.peers.Register(Entry{
		PeerID:      remoteIdentity.PeerID,
		PublicKey:   key,
		Role:        roleFrom(remoteIdentity.Role),
		NetworkMode: networkModeFrom(remoteIdentity.NetworkMode),
		URL:         remoteIdentity.URL,
	}, protocol.NowMs())
}
