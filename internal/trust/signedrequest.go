// Package trust implements signed-request verification with replay/nonce
// protection and release-manifest verification (spec §4.8).
package trust

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrMissingHeader  = errors.New("mesh_unauthorized")
	ErrTimestampSkew  = errors.New("timestamp_skew")
	ErrReplayDetected = errors.New("replay_detected")
	ErrInvalidSignature = errors.New("invalid_signature")
)

const DefaultMaxSkewMs = 30_000

// SignedRequest carries the headers of spec §4.8's signed-request scheme.
type SignedRequest struct {
	AgentID   string
	TimestampMs int64
	Nonce     string
	BodySha256 string
	Signature string
	Method    string
	Path      string
}

func (r SignedRequest) hasAllHeaders() bool {
	return r.AgentID != "" && r.TimestampMs != 0 && r.Nonce != "" && r.BodySha256 != "" && r.Signature != ""
}

// canonicalPayload builds spec §4.8's signed payload:
// "timestamp\nnonce\nmethod\npath\nbodyHash".
func canonicalPayload(r SignedRequest) []byte {
	return []byte(fmt.Sprintf("%d\n%s\n%s\n%s\n%s", r.TimestampMs, r.Nonce, r.Method, r.Path, r.BodySha256))
}

// NonceCache is the replay-prevention cache of spec §4.8, keyed by
// (agentId, nonce) and bounded to the skew window by the caller evicting
// old entries (modeled here with an LRU sized generously above expected
// in-window concurrency; entries naturally age out as the cache fills).
type NonceCache struct {
	seen *lru.Cache[string, struct{}]
}

func NewNonceCache(capacity int) *NonceCache {
	c, _ := lru.New[string, struct{}](capacity)
	return &NonceCache{seen: c}
}

func (n *NonceCache) key(agentID, nonce string) string { return agentID + "|" + nonce }

// Claim records (agentId, nonce) and reports whether it was already
// claimed (a replay).
func (n *NonceCache) Claim(agentID, nonce string) (replayed bool) {
	k := n.key(agentID, nonce)
	if _, ok := n.seen.Get(k); ok {
		return true
	}
	n.seen.Add(k, struct{}{})
	return false
}

// KeyResolver looks up an agent's verifying key.
type KeyResolver interface {
	VerifyingKey(agentID string) (ed25519.PublicKey, bool)
}

// Verify implements spec §4.8's full signed-request check: missing
// headers, skew, replay, then signature, in that order.
func Verify(r SignedRequest, resolver KeyResolver, nonces *NonceCache, nowMs int64, maxSkewMs int64) error {
	if !r.hasAllHeaders() {
		return ErrMissingHeader
	}
	skew := nowMs - r.TimestampMs
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkewMs {
		return ErrTimestampSkew
	}
	if nonces.Claim(r.AgentID, r.Nonce) {
		return ErrReplayDetected
	}
	key, ok := resolver.VerifyingKey(r.AgentID)
	if !ok {
		return ErrInvalidSignature
	}
	sig, err := decodeSignature(r.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(key, canonicalPayload(r), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// BodyHash computes the x-body-sha256 header value for a request body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
