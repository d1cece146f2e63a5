package trust

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticResolver struct{ key ed25519.PublicKey }

func (r staticResolver) VerifyingKey(agentID string) (ed25519.PublicKey, bool) { return r.key, true }

func sign(t *testing.T, priv ed25519.PrivateKey, r SignedRequest) SignedRequest {
	t.Helper()
	sig := ed25519.Sign(priv, canonicalPayload(r))
	r.Signature = encodeSignature(sig)
	return r
}

func encodeSignature(b []byte) string {
	return base64Encode(b)
}

func TestSignedRequestReplayDetection(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	resolver := staticResolver{pub}
	nonces := NewNonceCache(100)

	req := sign(t, priv, SignedRequest{AgentID: "agent-1", TimestampMs: 1_000_000, Nonce: "n1", BodySha256: "abc", Method: "POST", Path: "/submit"})

	require.NoError(t, Verify(req, resolver, nonces, 1_000_000, DefaultMaxSkewMs))
	require.ErrorIs(t, Verify(req, resolver, nonces, 1_000_000, DefaultMaxSkewMs), ErrReplayDetected)
}

func TestSignedRequestStaleTimestamp(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	resolver := staticResolver{pub}
	nonces := NewNonceCache(100)

	req := sign(t, priv, SignedRequest{AgentID: "agent-1", TimestampMs: 1_000_000, Nonce: "n2", BodySha256: "abc", Method: "POST", Path: "/submit"})

	require.ErrorIs(t, Verify(req, resolver, nonces, 1_000_000+DefaultMaxSkewMs+1, DefaultMaxSkewMs), ErrTimestampSkew)
}

func TestSignedRequestBoundarySkewAccepted(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	resolver := staticResolver{pub}
	nonces := NewNonceCache(100)

	req := sign(t, priv, SignedRequest{AgentID: "agent-1", TimestampMs: 1_000_000, Nonce: "n3", BodySha256: "abc", Method: "POST", Path: "/submit"})

	require.NoError(t, Verify(req, resolver, nonces, 1_000_000+DefaultMaxSkewMs, DefaultMaxSkewMs))
}
