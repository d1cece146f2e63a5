// Package mesh implements the gossip peer table, peer exchange, broadcast
// fan-out, capability gossip and reconnection backoff of spec §4.2.
package mesh

import (
	"crypto/ed25519"
	"errors"
	"sort"
	"sync"

	"github.com/edgecoder/coordinator/internal/identity"
)

var (
	errAlreadyRegistered = errors.New("mesh: peer already registered")
	errNotRegistered     = errors.New("mesh: peer not registered")
	errClosed            = errors.New("mesh: peer table closed")
)

// Entry is a peer-table row (spec §3 Peer + lastSeenMs).
type Entry struct {
	PeerID      string
	PublicKey   ed25519.PublicKey
	Role        identity.Role
	NetworkMode identity.NetworkMode
	URL         string
	LastSeenMs  int64
}

// PeerSet is the coordinator's view of the mesh, keyed by peerId. All
// mutation is serialized through a single mutex (spec §5: "Per-peer
// reconnection state is mutated under a peer-specific lock" for dial
// state; the table itself uses one lock since membership changes are
// infrequent relative to reads).
type PeerSet struct {
	mu      sync.RWMutex
	closed  bool
	peers   map[string]*Entry
	ttlMs   int64
}

// NewPeerSet constructs an empty table with the given eviction TTL
// (default 120s per spec §4.2).
func NewPeerSet(ttlMs int64) *PeerSet {
	return &PeerSet{peers: make(map[string]*Entry), ttlMs: ttlMs}
}

// Register adds or refreshes a peer, bumping lastSeenMs.
func (s *PeerSet) Register(e Entry, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	e.LastSeenMs = nowMs
	s.peers[e.PeerID] = &e
	return nil
}

// Touch advances an existing peer's lastSeenMs to max(current, seenMs),
// used by peer-exchange merges (spec §4.2).
func (s *PeerSet) Touch(peerID string, seenMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peers[peerID]
	if !ok {
		return false
	}
	if seenMs > e.LastSeenMs {
		e.LastSeenMs = seenMs
	}
	return true
}

// MergeExternal merges a remote peer-exchange entry: unknown peers are
// added, known peers have lastSeenMs advanced to the max, per spec §4.2.
func (s *PeerSet) MergeExternal(e Entry) (added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.peers[e.PeerID]
	if !ok {
		cp := e
		s.peers[e.PeerID] = &cp
		return true
	}
	if e.LastSeenMs > existing.LastSeenMs {
		existing.LastSeenMs = e.LastSeenMs
	}
	return false
}

// Get returns a copy of the peer entry, or false if unknown.
func (s *PeerSet) Get(peerID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[peerID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len reports the number of known peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// All returns a snapshot of every peer, sorted by peerId for determinism.
func (s *PeerSet) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.peers))
	for _, e := range s.peers {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// MostRecentlySeen returns up to n peers ordered by lastSeenMs descending,
// the set broadcast in each peer_exchange message (spec §4.2: "up to 50
// most-recently-seen peers").
func (s *PeerSet) MostRecentlySeen(n int) []Entry {
	all := s.All()
	sort.Slice(all, func(i, j int) bool { return all[i].LastSeenMs > all[j].LastSeenMs })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// EvictStale removes every peer whose lastSeenMs is ttlMs or more before
// nowMs, run by the periodic eviction sweep (spec §4.2, default 120s).
func (s *PeerSet) EvictStale(nowMs int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	cutoff := nowMs - s.ttlMs
	for id, e := range s.peers {
		if e.LastSeenMs <= cutoff {
			evicted = append(evicted, id)
			delete(s.peers, id)
		}
	}
	return evicted
}

// Remove deletes a peer outright (e.g. after reconnection exhaustion).
func (s *PeerSet) Remove(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peerID]; !ok {
		return errNotRegistered
	}
	delete(s.peers, peerID)
	return nil
}

// Close marks the table closed; further Register calls fail.
func (s *PeerSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// VerifyingKeys implements protocol.KeyResolver against this peer table's
// currently-known keys. Grace-window former keys live in identity.Identity,
// not here, since a remote peer's grace state is not visible to us.
func (s *PeerSet) VerifyingKeys(peerID string) ([]ed25519.PublicKey, bool) {
	e, ok := s.Get(peerID)
	if !ok || e.PublicKey == nil {
		return nil, false
	}
	return []ed25519.PublicKey{e.PublicKey}, true
}

// VerifyingKey implements the single-key KeyResolver shape shared by
// ledger and trust (spec §4.5/§4.8), which only ever check against a
// peer's single currently-known key.
func (s *PeerSet) VerifyingKey(peerID string) (ed25519.PublicKey, bool) {
	e, ok := s.Get(peerID)
	if !ok || e.PublicKey == nil {
		return nil, false
	}
	return e.PublicKey, true
}
