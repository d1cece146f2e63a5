// Package security implements the signed-evidence, hash-chained
// blacklist and audit log of spec §4.6.
package security

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"

	"github.com/edgecoder/coordinator/internal/ledger"
)

// BlacklistRecord mirrors spec §3 exactly.
type BlacklistRecord struct {
	EventID                   string `json:"eventId"`
	AgentID                   string `json:"agentId"`
	Reason                    string `json:"reason"`
	ReasonCode                string `json:"reasonCode"`
	EvidenceHashSha256        string `json:"evidenceHashSha256"`
	ReporterID                string `json:"reporterId"`
	ReporterSignature         string `json:"reporterSignature,omitempty"`
	EvidenceSignatureVerified bool   `json:"evidenceSignatureVerified"`
	SourceCoordinatorID       string `json:"sourceCoordinatorId"`
	TimestampMs               int64  `json:"timestampMs"`
	ExpiresAtMs               int64  `json:"expiresAtMs,omitempty"`
	PrevEventHash             string `json:"prevEventHash"`
	EventHash                 string `json:"eventHash"`
	CoordinatorSignature      string `json:"coordinatorSignature"`
}

// eventHashInput is every field the eventHash covers (spec §4.6: "eventHash
// = H(canonical(eventId, agentId, reasonCode, reason, evidenceHashSha256,
// reporterId, sourceCoordinatorId, timestampMs, expiresAtMs?,
// prevEventHash, evidenceSignatureVerified))").
type eventHashInput struct {
	EventID                   string `json:"eventId"`
	AgentID                   string `json:"agentId"`
	ReasonCode                string `json:"reasonCode"`
	Reason                    string `json:"reason"`
	EvidenceHashSha256        string `json:"evidenceHashSha256"`
	ReporterID                string `json:"reporterId"`
	SourceCoordinatorID       string `json:"sourceCoordinatorId"`
	TimestampMs               int64  `json:"timestampMs"`
	ExpiresAtMs               int64  `json:"expiresAtMs,omitempty"`
	PrevEventHash             string `json:"prevEventHash"`
	EvidenceSignatureVerified bool   `json:"evidenceSignatureVerified"`
}

func (r BlacklistRecord) hashInput() eventHashInput {
	return eventHashInput{
		EventID: r.EventID, AgentID: r.AgentID, ReasonCode: r.ReasonCode, Reason: r.Reason,
		EvidenceHashSha256: r.EvidenceHashSha256, ReporterID: r.ReporterID,
		SourceCoordinatorID: r.SourceCoordinatorID, TimestampMs: r.TimestampMs,
		ExpiresAtMs: r.ExpiresAtMs, PrevEventHash: r.PrevEventHash,
		EvidenceSignatureVerified: r.EvidenceSignatureVerified,
	}
}

func computeEventHash(r BlacklistRecord) (string, error) {
	buf, err := json.Marshal(r.hashInput())
	if err != nil {
		return "", err
	}
	return sha256Hex(buf), nil
}

// EvidenceInput is a BlacklistEvidenceInput as reported by the reporter
// before a coordinator ingests it (spec §4.6).
type EvidenceInput struct {
	AgentID            string
	Reason             string
	ReasonCode         string
	EvidenceHashSha256 string
	ReporterID         string
	ReporterPublicKey  ed25519.PublicKey
}

// evidenceSignedPayload is the canonical content a reporter signs.
type evidenceSignedPayload struct {
	AgentID            string `json:"agentId"`
	Reason             string `json:"reason"`
	ReasonCode         string `json:"reasonCode"`
	EvidenceHashSha256 string `json:"evidenceHashSha256"`
	ReporterID         string `json:"reporterId"`
}

// VerifyEvidence checks a reporter's signature over the evidence input
// (spec §4.6: "canonically serialized and signed by the reporter").
func VerifyEvidence(input EvidenceInput, signature []byte) bool {
	buf, err := json.Marshal(evidenceSignedPayload{
		AgentID: input.AgentID, Reason: input.Reason, ReasonCode: input.ReasonCode,
		EvidenceHashSha256: input.EvidenceHashSha256, ReporterID: input.ReporterID,
	})
	if err != nil {
		return false
	}
	return ed25519.Verify(input.ReporterPublicKey, buf, signature)
}

var (
	ErrHashMismatch              = errors.New("hash_mismatch")
	ErrCoordinatorSignatureInvalid = errors.New("coordinator_signature_invalid")
	ErrChainBreak                = errors.New("chain_break")
)

// Chain is one coordinator's local blacklist/audit hash chain.
type Chain struct {
	mu      sync.RWMutex
	records []BlacklistRecord
}

func NewChain() *Chain { return &Chain{} }

// Signer produces a signature, implemented by identity.Identity.
type Signer interface {
	Sign(data []byte) []byte
}

// Append builds, hashes, and signs a new blacklist record on top of the
// local chain tail (spec §4.6).
func (c *Chain) Append(input BlacklistRecord, coordinatorID string, signer Signer) (BlacklistRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ledger.GenesisHash
	if len(c.records) > 0 {
		prevHash = c.records[len(c.records)-1].EventHash
	}
	input.PrevEventHash = prevHash
	input.SourceCoordinatorID = coordinatorID

	hash, err := computeEventHash(input)
	if err != nil {
		return BlacklistRecord{}, err
	}
	input.EventHash = hash
	input.CoordinatorSignature = base64Encode(signer.Sign([]byte(hash)))

	c.records = append(c.records, input)
	return input, nil
}

// IngestRemote validates and appends a record received via gossip
// (spec §4.6: "Received events pass the same validation and are chained
// locally").
func (c *Chain) IngestRemote(record BlacklistRecord, coordinatorKey ed25519.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	recomputed, err := computeEventHash(record)
	if err != nil || recomputed != record.EventHash {
		return ErrHashMismatch
	}
	sig, err := base64Decode(record.CoordinatorSignature)
	if err != nil || !ed25519.Verify(coordinatorKey, []byte(record.EventHash), sig) {
		return ErrCoordinatorSignatureInvalid
	}
	expectedPrev := ledger.GenesisHash
	if len(c.records) > 0 {
		expectedPrev = c.records[len(c.records)-1].EventHash
	}
	if record.PrevEventHash != expectedPrev {
		return ErrChainBreak
	}
	c.records = append(c.records, record)
	return nil
}

// Snapshot returns a copy of the full audit chain.
func (c *Chain) Snapshot() []BlacklistRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BlacklistRecord, len(c.records))
	copy(out, c.records)
	return out
}

// IsBlacklisted reports whether agentID has an unexpired blacklist entry.
func (c *Chain) IsBlacklisted(agentID string, nowMs int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.records) - 1; i >= 0; i-- {
		r := c.records[i]
		if r.AgentID != agentID {
			continue
		}
		if r.ExpiresAtMs == 0 || r.ExpiresAtMs > nowMs {
			return true
		}
	}
	return false
}
