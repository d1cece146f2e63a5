package protocol

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	keys map[string][]ed25519.PublicKey
}

func (r staticResolver) VerifyingKeys(peerID string) ([]ed25519.PublicKey, bool) {
	k, ok := r.keys[peerID]
	return k, ok
}

type rawSigner struct{ priv ed25519.PrivateKey }

func (s rawSigner) Sign(data []byte) []byte { return ed25519.Sign(s.priv, data) }

func newSignedMessage(t *testing.T, priv ed25519.PrivateKey, from string, issuedAt, ttl int64) Message {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"hello": "world"})
	require.NoError(t, err)
	m := Message{ID: "msg-1", Type: KindTaskOffer, FromPeerID: from, IssuedAtMs: issuedAt, TTLMs: ttl, Payload: payload}
	signed, err := Sign(rawSigner{priv}, m)
	require.NoError(t, err)
	return signed
}

func TestValidateAcceptsFreshSignedMessage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	msg := newSignedMessage(t, priv, "peer-a", 1000, 5000)
	resolver := staticResolver{keys: map[string][]ed25519.PublicKey{"peer-a": {pub}}}
	dedup := NewDedup(10)

	require.NoError(t, Validate(msg, dedup, resolver, 1500))
}

func TestValidateRejectsDuplicate(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := newSignedMessage(t, priv, "peer-a", 1000, 5000)
	resolver := staticResolver{keys: map[string][]ed25519.PublicKey{"peer-a": {pub}}}
	dedup := NewDedup(10)

	require.NoError(t, Validate(msg, dedup, resolver, 1500))
	require.ErrorIs(t, Validate(msg, dedup, resolver, 1500), ErrDuplicateMessage)
}

func TestValidateRejectsExpired(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := newSignedMessage(t, priv, "peer-a", 1000, 500)
	resolver := staticResolver{keys: map[string][]ed25519.PublicKey{"peer-a": {pub}}}
	dedup := NewDedup(10)

	require.ErrorIs(t, Validate(msg, dedup, resolver, 2000), ErrMessageExpired)
}

func TestValidateRejectsBadSignature(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	_, otherPriv, _ := ed25519.GenerateKey(nil)
	msg := newSignedMessage(t, otherPriv, "peer-a", 1000, 5000)
	resolver := staticResolver{keys: map[string][]ed25519.PublicKey{"peer-a": {pub}}}
	dedup := NewDedup(10)

	require.ErrorIs(t, Validate(msg, dedup, resolver, 1500), ErrInvalidSignature)
}

func TestCanonicalRoundTripPreservesSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := newSignedMessage(t, priv, "peer-a", 1000, 5000)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var roundTripped Message
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	require.NoError(t, Verify(roundTripped, pub))
}

func TestValidateBoundarySkew(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := newSignedMessage(t, priv, "peer-a", 1000, 1000)
	resolver := staticResolver{keys: map[string][]ed25519.PublicKey{"peer-a": {pub}}}

	require.NoError(t, Validate(msg, NewDedup(10), resolver, 2000))
	require.ErrorIs(t, Validate(msg, NewDedup(10), resolver, 2001), ErrMessageExpired)
}
