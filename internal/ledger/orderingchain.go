package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"
)

// EventType enumerates spec §3 QueueEventRecord.eventType values relevant
// to the scheduler and credit flows this chain records.
type EventType string

const (
	EventTaskComplete EventType = "task_complete"
	EventTaskClaimed  EventType = "task_claimed"
	EventTaskRequeued EventType = "task_requeued"
	EventCheckpoint   EventType = "checkpoint"
)

// QueueEventRecord mirrors spec §3 exactly.
type QueueEventRecord struct {
	ID               string          `json:"id"`
	EventType        EventType       `json:"eventType"`
	TaskID           string          `json:"taskId"`
	SubtaskID        string          `json:"subtaskId,omitempty"`
	ActorID          string          `json:"actorId"`
	Sequence         int64           `json:"sequence"`
	IssuedAtMs       int64           `json:"issuedAtMs"`
	PrevHash         string          `json:"prevHash"`
	Hash             string          `json:"hash"`
	Signature        string          `json:"signature"`
	CoordinatorID    string          `json:"coordinatorId,omitempty"`
	CheckpointHeight int64           `json:"checkpointHeight,omitempty"`
	CheckpointHash   string          `json:"checkpointHash,omitempty"`
	PayloadJSON      json.RawMessage `json:"payloadJson,omitempty"`
}

// hashableRecord is the subset of fields the hash is computed over: every
// field except hash and signature (spec §3 invariant).
type hashableRecord struct {
	ID               string          `json:"id"`
	EventType        EventType       `json:"eventType"`
	TaskID           string          `json:"taskId"`
	SubtaskID        string          `json:"subtaskId,omitempty"`
	ActorID          string          `json:"actorId"`
	Sequence         int64           `json:"sequence"`
	IssuedAtMs       int64           `json:"issuedAtMs"`
	PrevHash         string          `json:"prevHash"`
	CoordinatorID    string          `json:"coordinatorId,omitempty"`
	CheckpointHeight int64           `json:"checkpointHeight,omitempty"`
	CheckpointHash   string          `json:"checkpointHash,omitempty"`
	PayloadJSON      json.RawMessage `json:"payloadJson,omitempty"`
}

func (r QueueEventRecord) hashInput() hashableRecord {
	return hashableRecord{
		ID: r.ID, EventType: r.EventType, TaskID: r.TaskID, SubtaskID: r.SubtaskID,
		ActorID: r.ActorID, Sequence: r.Sequence, IssuedAtMs: r.IssuedAtMs, PrevHash: r.PrevHash,
		CoordinatorID: r.CoordinatorID, CheckpointHeight: r.CheckpointHeight,
		CheckpointHash: r.CheckpointHash, PayloadJSON: r.PayloadJSON,
	}
}

func computeHash(r QueueEventRecord) (string, error) {
	buf, err := canonicalJSON(r.hashInput())
	if err != nil {
		return "", err
	}
	return hashHex(buf), nil
}

// Signer produces a signature over arbitrary bytes, implemented by
// identity.Identity.
type Signer interface {
	Sign(data []byte) []byte
}

// OrderingChain is a single coordinator's append-only chain of
// QueueEventRecords (spec §4.5). Appends are serialized per chain;
// readers may run concurrently against a snapshot (spec §5).
type OrderingChain struct {
	mu      sync.RWMutex
	records []QueueEventRecord
}

func NewOrderingChain() *OrderingChain {
	return &OrderingChain{}
}

var errEmptyChain = errors.New("ledger: chain is empty")

// Tail returns the most recently appended record.
func (c *OrderingChain) Tail() (QueueEventRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return QueueEventRecord{}, errEmptyChain
	}
	return c.records[len(c.records)-1], nil
}

// Append computes hash/prevHash/sequence, signs the record under signer,
// and appends it (spec §4.5 append(input)).
func (c *OrderingChain) Append(input QueueEventRecord, signer Signer) (QueueEventRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := GenesisHash
	var nextSeq int64 = 1
	if len(c.records) > 0 {
		tail := c.records[len(c.records)-1]
		prevHash = tail.Hash
		nextSeq = tail.Sequence + 1
	}

	input.PrevHash = prevHash
	input.Sequence = nextSeq
	hash, err := computeHash(input)
	if err != nil {
		return QueueEventRecord{}, err
	}
	input.Hash = hash
	input.Signature = base64(signer.Sign([]byte(hash)))

	c.records = append(c.records, input)
	return input, nil
}

// Snapshot returns a copy of every record, for concurrent readers (spec
// §5: "Readers may run concurrently with a single writer via copy-on-read
// snapshots").
func (c *OrderingChain) Snapshot() []QueueEventRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]QueueEventRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Verify iterates the chain from genesis, recomputing each hash and
// verifying signatures (spec §4.5).
func Verify(records []QueueEventRecord, resolver KeyResolver) VerificationResult {
	prevHash := GenesisHash
	var prevSeq int64
	for i, r := range records {
		if r.PrevHash != prevHash {
			return VerificationResult{OK: false, Reason: BreakChainBreak, Breakpoint: i}
		}
		if i > 0 && r.Sequence != prevSeq+1 {
			return VerificationResult{OK: false, Reason: BreakSequenceGap, Breakpoint: i}
		}
		recomputed, err := computeHash(r)
		if err != nil || recomputed != r.Hash {
			return VerificationResult{OK: false, Reason: BreakHashMismatch, Breakpoint: i}
		}
		key, ok := resolver.VerifyingKey(r.ActorID)
		if !ok {
			return VerificationResult{OK: false, Reason: BreakInvalidSignature, Breakpoint: i}
		}
		sig, err := base64Decode(r.Signature)
		if err != nil || !ed25519.Verify(key, []byte(r.Hash), sig) {
			return VerificationResult{OK: false, Reason: BreakInvalidSignature, Breakpoint: i}
		}
		prevHash = r.Hash
		prevSeq = r.Sequence
	}
	return VerificationResult{OK: true, Breakpoint: -1}
}
