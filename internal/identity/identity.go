// Package identity manages a coordinator's Ed25519 keypair and the
// grace-period key rotation window described in spec §3 (Peer).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	errNoActiveKey    = errors.New("identity: no active key loaded")
	errInvalidPEMType = errors.New("identity: unexpected PEM block type")
)

const (
	pemPrivateType = "PRIVATE KEY"
	pemPublicType  = "PUBLIC KEY"
)

// Role mirrors spec §3's Peer.role enum.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleAgent       Role = "agent"
	RolePhone       Role = "phone"
)

// NetworkMode mirrors spec §3's Peer.networkMode enum.
type NetworkMode string

const (
	NetworkPublicMesh       NetworkMode = "public_mesh"
	NetworkEnterpriseOverlay NetworkMode = "enterprise_overlay"
)

// keyEpoch is one generation of an Ed25519 keypair, retained for the
// grace-period window after rotation so in-flight signatures still verify.
type keyEpoch struct {
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey
	rotatedAt time.Time
}

// Identity owns exactly one coordinator's signing key material, with a
// bounded grace window of previously-active keys (spec §3: "Keys may
// rotate with a grace-period window in which the previous key still
// verifies").
type Identity struct {
	mu          sync.RWMutex
	peerID      string
	role        Role
	networkMode NetworkMode
	url         string
	active      keyEpoch
	grace       []keyEpoch
	graceWindow time.Duration
}

// New generates a fresh Ed25519 keypair and assigns it a stable peerId.
func New(role Role, networkMode NetworkMode, url string, graceWindow time.Duration) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &Identity{
		peerID:      uuid.NewString(),
		role:        role,
		networkMode: networkMode,
		url:         url,
		active:      keyEpoch{priv: priv, pub: pub, rotatedAt: time.Now()},
		graceWindow: graceWindow,
	}, nil
}

// Load reconstructs an Identity from a previously-persisted PKCS#8 PEM
// private key and peerId, as produced by ExportPrivatePEM.
func Load(peerID string, role Role, networkMode NetworkMode, url string, privPEM []byte, graceWindow time.Duration) (*Identity, error) {
	priv, err := decodePrivatePEM(privPEM)
	if err != nil {
		return nil, err
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("identity: private key has no ed25519 public key")
	}
	return &Identity{
		peerID:      peerID,
		role:        role,
		networkMode: networkMode,
		url:         url,
		active:      keyEpoch{priv: priv, pub: pub, rotatedAt: time.Now()},
		graceWindow: graceWindow,
	}, nil
}

func (id *Identity) PeerID() string             { return id.peerID }
func (id *Identity) Role() Role                 { return id.role }
func (id *Identity) NetworkMode() NetworkMode    { return id.networkMode }
func (id *Identity) URL() string                { return id.url }

// PublicKey returns the currently-active public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.active.pub
}

// Sign signs data under the currently-active private key.
func (id *Identity) Sign(data []byte) []byte {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return ed25519.Sign(id.active.priv, data)
}

// Rotate generates a new keypair, retaining the previous one in the
// grace window so peers mid-flight with the old signature still verify.
func (id *Identity) Rotate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("identity: rotate: %w", err)
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	id.grace = append(id.grace, id.active)
	id.active = keyEpoch{priv: priv, pub: pub, rotatedAt: time.Now()}
	id.pruneGraceLocked()
	return nil
}

func (id *Identity) pruneGraceLocked() {
	cutoff := time.Now().Add(-id.graceWindow)
	kept := id.grace[:0]
	for _, e := range id.grace {
		if e.rotatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	id.grace = kept
}

// VerifyWithOwnKeys reports whether sig verifies under the active key or
// any key still within its rotation grace window.
func (id *Identity) VerifyWithOwnKeys(data, sig []byte) bool {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.active.pub == nil {
		return false
	}
	if ed25519.Verify(id.active.pub, data, sig) {
		return true
	}
	for _, e := range id.grace {
		if ed25519.Verify(e.pub, data, sig) {
			return true
		}
	}
	return false
}

// Verify checks data/sig against an arbitrary remote public key. Used by
// mesh/trust/ledger verification paths where the key comes from the peer
// table, not from this Identity.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// ExportPrivatePEM returns the active private key as a PKCS#8 PEM block,
// the persisted form referenced by spec §3 ("persisted in secure storage").
func (id *Identity) ExportPrivatePEM() ([]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.active.priv == nil {
		return nil, errNoActiveKey
	}
	der, err := marshalPKCS8(id.active.priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateType, Bytes: der}), nil
}

// ExportPublicPEM returns the active public key as an SPKI PEM block, the
// form returned by GET /identity (spec §4.1).
func (id *Identity) ExportPublicPEM() ([]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	der, err := marshalPKIXPublic(id.active.pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicType, Bytes: der}), nil
}

func decodePrivatePEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPrivateType {
		return nil, errInvalidPEMType
	}
	return unmarshalPKCS8(block.Bytes)
}

// DecodePublicPEM parses a SPKI PEM block into an Ed25519 public key, used
// when ingesting a remote peer's published key.
func DecodePublicPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicType {
		return nil, errInvalidPEMType
	}
	return unmarshalPKIXPublic(block.Bytes)
}
