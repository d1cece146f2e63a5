package ledger

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedSigner struct{ priv ed25519.PrivateKey }

func (s fixedSigner) Sign(data []byte) []byte { return ed25519.Sign(s.priv, data) }

type staticKeyResolver struct {
	key ed25519.PublicKey
}

func (r staticKeyResolver) VerifyingKey(actorID string) (ed25519.PublicKey, bool) { return r.key, true }

func TestOrderingChainAppendAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	chain := NewOrderingChain()
	signer := fixedSigner{priv}

	for i := 0; i < 3; i++ {
		_, err := chain.Append(QueueEventRecord{ID: string(rune('a' + i)), EventType: EventTaskComplete, ActorID: "coord-1"}, signer)
		require.NoError(t, err)
	}

	result := Verify(chain.Snapshot(), staticKeyResolver{pub})
	require.True(t, result.OK)
}

func TestOrderingChainTamperDetection(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	chain := NewOrderingChain()
	signer := fixedSigner{priv}

	for i := 0; i < 3; i++ {
		_, err := chain.Append(QueueEventRecord{ID: string(rune('a' + i)), EventType: EventTaskComplete, ActorID: "coord-1"}, signer)
		require.NoError(t, err)
	}

	records := chain.Snapshot()
	records[1].PayloadJSON = []byte(`{"tampered":true}`)

	result := Verify(records, staticKeyResolver{pub})
	require.False(t, result.OK)
	require.Equal(t, BreakHashMismatch, result.Reason)
	require.Equal(t, 1, result.Breakpoint)
}

func TestOrderingChainSequenceMonotonic(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	chain := NewOrderingChain()
	signer := fixedSigner{priv}

	first, err := chain.Append(QueueEventRecord{ID: "a", ActorID: "c"}, signer)
	require.NoError(t, err)
	second, err := chain.Append(QueueEventRecord{ID: "b", ActorID: "c"}, signer)
	require.NoError(t, err)

	require.Equal(t, int64(1), first.Sequence)
	require.Equal(t, int64(2), second.Sequence)
	require.Equal(t, first.Hash, second.PrevHash)
}
