package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"
)

// RecordType mirrors spec §3 QuorumLedgerRecord.recordType.
type RecordType string

const (
	RecordProposal   RecordType = "proposal"
	RecordVote       RecordType = "vote"
	RecordCommit     RecordType = "commit"
	RecordCheckpoint RecordType = "checkpoint"
)

// QuorumLedgerRecord mirrors spec §3 exactly.
type QuorumLedgerRecord struct {
	RecordID      string          `json:"recordId"`
	RecordType    RecordType      `json:"recordType"`
	EpochID       string          `json:"epochId"`
	CoordinatorID string          `json:"coordinatorId"`
	PrevHash      string          `json:"prevHash"`
	Hash          string          `json:"hash"`
	PayloadJSON   json.RawMessage `json:"payloadJson"`
	Signature     string          `json:"signature"`
	CreatedAtMs   int64           `json:"createdAtMs"`
}

type quorumHashInput struct {
	RecordID      string          `json:"recordId"`
	RecordType    RecordType      `json:"recordType"`
	EpochID       string          `json:"epochId"`
	CoordinatorID string          `json:"coordinatorId"`
	PrevHash      string          `json:"prevHash"`
	PayloadJSON   json.RawMessage `json:"payloadJson"`
	CreatedAtMs   int64           `json:"createdAtMs"`
}

func (r QuorumLedgerRecord) hashInput() quorumHashInput {
	return quorumHashInput{
		RecordID: r.RecordID, RecordType: r.RecordType, EpochID: r.EpochID,
		CoordinatorID: r.CoordinatorID, PrevHash: r.PrevHash, PayloadJSON: r.PayloadJSON,
		CreatedAtMs: r.CreatedAtMs,
	}
}

func computeQuorumHash(r QuorumLedgerRecord) (string, error) {
	buf, err := canonicalJSON(r.hashInput())
	if err != nil {
		return "", err
	}
	return hashHex(buf), nil
}

// QuorumChain is the per-epoch proposal -> vote -> commit -> checkpoint
// chain of spec §4.5. One QuorumChain instance models one epoch's records.
type QuorumChain struct {
	mu      sync.Mutex
	records []QuorumLedgerRecord
}

func NewQuorumChain() *QuorumChain { return &QuorumChain{} }

func (c *QuorumChain) Append(input QuorumLedgerRecord, signer Signer) (QuorumLedgerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := GenesisHash
	if len(c.records) > 0 {
		prevHash = c.records[len(c.records)-1].Hash
	}
	input.PrevHash = prevHash
	hash, err := computeQuorumHash(input)
	if err != nil {
		return QuorumLedgerRecord{}, err
	}
	input.Hash = hash
	input.Signature = base64(signer.Sign([]byte(hash)))
	c.records = append(c.records, input)
	return input, nil
}

func (c *QuorumChain) Snapshot() []QuorumLedgerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QuorumLedgerRecord, len(c.records))
	copy(out, c.records)
	return out
}

var errTamperedVote = errors.New("ledger: vote signature invalid")

// Vote is one coordinator's signed approve/reject decision on a proposal
// (spec §4.5: "Votes are signed; tampered votes fail verification").
type Vote struct {
	CoordinatorID string
	Approve       bool
}

// votePayload is the canonical signed content of a vote.
type votePayload struct {
	CoordinatorID string `json:"coordinatorId"`
	Approve       bool   `json:"approve"`
}

// VerifyVote checks a vote's signature under the voting coordinator's key.
func VerifyVote(v Vote, sig []byte, key ed25519.PublicKey) error {
	buf, err := canonicalJSON(votePayload{CoordinatorID: v.CoordinatorID, Approve: v.Approve})
	if err != nil {
		return err
	}
	if !ed25519.Verify(key, buf, sig) {
		return errTamperedVote
	}
	return nil
}

// RequiredApprovals implements spec §4.5's quorum threshold:
// floor(approvedCoordinators/2) + 1.
func RequiredApprovals(totalCoordinators int) int {
	return totalCoordinators/2 + 1
}

// HasQuorum reports whether enough approve votes were collected among the
// verified votes to commit the epoch.
func HasQuorum(approveCount, totalCoordinators int) bool {
	return approveCount >= RequiredApprovals(totalCoordinators)
}
