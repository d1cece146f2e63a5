// Package protocol implements the canonical mesh message envelope and its
// validation rules (spec §3 MeshMessage, §4.1 Peer & Protocol).
package protocol

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind enumerates the gossip message types used across the mesh.
type Kind string

const (
	KindPeerExchange      Kind = "peer_exchange"
	KindCapabilitySummary Kind = "capability_summary"
	KindTaskOffer         Kind = "task_offer"
	KindTaskComplete      Kind = "task_complete"
	KindBlacklistUpdate   Kind = "blacklist_update"
)

var (
	ErrDuplicateMessage = errors.New("duplicate_message")
	ErrMessageExpired   = errors.New("message_expired")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// Message is the wire envelope of spec §3 MeshMessage / §6's
// canonical-message envelope.
type Message struct {
	ID         string          `json:"id"`
	Type       Kind            `json:"type"`
	FromPeerID string          `json:"fromPeerId"`
	IssuedAtMs int64           `json:"issuedAtMs"`
	TTLMs      int64           `json:"ttlMs"`
	Payload    json.RawMessage `json:"payload"`
	Signature  string          `json:"signature"`
}

// canonicalEnvelope carries exactly the fields that are signed, in the
// fixed key order spec §4.1 requires ("any deviation invalidates
// signatures"). encoding/json preserves struct field order, so this type
// alone is the canonical form.
type canonicalEnvelope struct {
	ID         string          `json:"id"`
	Type       Kind            `json:"type"`
	FromPeerID string          `json:"fromPeerId"`
	IssuedAtMs int64           `json:"issuedAtMs"`
	TTLMs      int64           `json:"ttlMs"`
	Payload    json.RawMessage `json:"payload"`
}

// Canonical returns the deterministic byte encoding signed by the sender.
func (m Message) Canonical() ([]byte, error) {
	env := canonicalEnvelope{
		ID:         m.ID,
		Type:       m.Type,
		FromPeerID: m.FromPeerID,
		IssuedAtMs: m.IssuedAtMs,
		TTLMs:      m.TTLMs,
		Payload:    m.Payload,
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: canonicalize: %w", err)
	}
	// json.Marshal never emits trailing whitespace; Compact defends
	// against any future encoder change that might.
	var out bytes.Buffer
	if err := json.Compact(&out, buf); err != nil {
		return nil, fmt.Errorf("protocol: compact: %w", err)
	}
	return out.Bytes(), nil
}

// Signer produces a signature, implemented by identity.Identity.
type Signer interface {
	Sign(data []byte) []byte
}

// Sign builds the canonical encoding and attaches a base64 signature.
func Sign(signer Signer, m Message) (Message, error) {
	canon, err := m.Canonical()
	if err != nil {
		return Message{}, err
	}
	m.Signature = base64Encode(signer.Sign(canon))
	return m, nil
}

// Verify checks a message's signature under senderKey and returns nil on
// success or one of ErrInvalidSignature.
func Verify(m Message, senderKey ed25519.PublicKey) error {
	canon, err := m.Canonical()
	if err != nil {
		return err
	}
	sig, err := base64Decode(m.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(senderKey, canon, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// Dedup is the bounded LRU of previously-accepted message ids (spec §4.1:
// "A bounded LRU (~5000 ids) deduplicates").
type Dedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewDedup constructs a Dedup with the given capacity.
func NewDedup(capacity int) *Dedup {
	c, _ := lru.New[string, struct{}](capacity)
	return &Dedup{cache: c}
}

// Seen reports whether id was already recorded, and records it if not.
// A single call performs both the check and the insert so callers cannot
// race between the two.
func (d *Dedup) Seen(id string) bool {
	if _, ok := d.cache.Get(id); ok {
		return true
	}
	d.cache.Add(id, struct{}{})
	return false
}

// KeyResolver looks up the verifying key(s) for a peer, including any
// grace-window former key, returning false if the peer is unknown.
type KeyResolver interface {
	VerifyingKeys(peerID string) ([]ed25519.PublicKey, bool)
}

// Validate implements spec §4.1's validate(msg, senderKey) state machine:
// duplicate / expiry / signature checks, in that priority order so a
// replayed-and-expired message is reported as a duplicate first.
func Validate(m Message, dedup *Dedup, resolver KeyResolver, nowMs int64) error {
	if dedup.Seen(m.ID) {
		return ErrDuplicateMessage
	}
	if m.IssuedAtMs+m.TTLMs < nowMs {
		return ErrMessageExpired
	}
	keys, ok := resolver.VerifyingKeys(m.FromPeerID)
	if !ok {
		return ErrInvalidSignature
	}
	for _, k := range keys {
		if Verify(m, k) == nil {
			return nil
		}
	}
	return ErrInvalidSignature
}

// NowMs is the canonical "now" used across the protocol layer.
func NowMs() int64 { return time.Now().UnixMilli() }
