package mesh

import (
	"math/rand"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

const maxReconnectAttempts = 8

// dialState tracks one peer's reconnection backoff (spec §4.2: "Per-peer
// exponential backoff with base 500 ms, cap 30 s, ±10% jitter, max 8
// attempts... A peer that exhausts attempts is marked 'gave up'").
type dialState struct {
	b        *backoff.Backoff
	attempts int
	gaveUp   bool
}

// ReconnectManager owns the per-peer backoff state machine. One mutex
// guards the state of every peer; there is no per-peer lock, so calls for
// different peers are serialized.
type ReconnectManager struct {
	mu    sync.Mutex
	peers map[string]*dialState
}

func NewReconnectManager() *ReconnectManager {
	return &ReconnectManager{peers: make(map[string]*dialState)}
}

func newDialState() *dialState {
	return &dialState{b: &backoff.Backoff{
		Min: 500 * time.Millisecond,
		Max: 30 * time.Second,
	}}
}

// NextDelay returns the delay to wait before the next reconnection
// attempt for peerID, and whether the peer has given up.
func (r *ReconnectManager) NextDelay(peerID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.peers[peerID]
	if !ok {
		st = newDialState()
		r.peers[peerID] = st
	}
	if st.gaveUp {
		return 0, true
	}
	if st.attempts >= maxReconnectAttempts {
		st.gaveUp = true
		return 0, true
	}
	st.attempts++
	// ±10% jitter around the exponential delay.
	d := st.b.Duration()
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64())), false
}

// Succeeded resets a peer's backoff state after a successful interaction
// (spec §4.2: "Successful interactions reset state").
func (r *ReconnectManager) Succeeded(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}

// Reset clears a "gave up" peer's state so peer-exchange re-learning or
// an operator action can restart reconnection.
func (r *ReconnectManager) Reset(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
}

// GaveUp reports whether peerID has exhausted its reconnection attempts.
func (r *ReconnectManager) GaveUp(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.peers[peerID]
	return ok && st.gaveUp
}
