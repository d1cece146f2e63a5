// Package ledger implements the hash-chained ordering chain, the quorum
// ledger, rolling issuance, and checkpoint anchoring of spec §4.5.
package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Break classifies a chain verification failure (spec §4.5).
type Break string

const (
	BreakSequenceGap      Break = "sequence_gap"
	BreakHashMismatch     Break = "hash_mismatch"
	BreakChainBreak       Break = "chain_break"
	BreakInvalidSignature Break = "invalid_signature"
)

// GenesisHash is the constant prevHash of the first record in any chain
// (spec §3: "prevHash equals the previous record's hash (genesis =
// constant)").
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var errNotFound = errors.New("ledger: record not found")

// hashHex returns the lowercase hex SHA-256 digest of data, the hash
// format required by spec §6 ("all hashes lowercase hex of SHA-256").
func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals v deterministically. encoding/json preserves
// struct field declaration order, which together with a fixed field set
// per record type gives the canonical encoding the hash is computed over.
func canonicalJSON(v interface{}) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalize: %w", err)
	}
	return buf, nil
}

// KeyResolver looks up an actor's current verifying key; the ordering
// chain's Verify uses it to check each record's Ed25519 signer by id.
type KeyResolver interface {
	VerifyingKey(actorID string) (ed25519.PublicKey, bool)
}

// VerificationResult is returned by each chain's Verify.
type VerificationResult struct {
	OK         bool
	Reason     Break
	Breakpoint int // sequence/index of the first offending record, -1 if OK
}
