package trust

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"time"
)

// ManifestOutcome mirrors spec §4.8's verification outcomes.
type ManifestOutcome string

const (
	OutcomeVerified          ManifestOutcome = "verified"
	OutcomeUnverified         ManifestOutcome = "unverified"
	OutcomeSignatureMismatch  ManifestOutcome = "signature_mismatch"
	OutcomeHashMismatch       ManifestOutcome = "hash_mismatch"
)

// ReleaseManifest is the signed record a release key publishes for one
// releaseVersion (spec §4.8).
type ReleaseManifest struct {
	ReleaseVersion string
	DistTreeHash   string
	Signature      []byte
}

type manifestPayload struct {
	ReleaseVersion string `json:"releaseVersion"`
	DistTreeHash   string `json:"distTreeHash"`
}

// releaseKeyEpoch is one generation of the release signing key, with the
// same grace-window rotation shape as identity.Identity's own keys (spec
// §4.8: "with time-bounded rotation").
type releaseKeyEpoch struct {
	key       ed25519.PublicKey
	rotatedAt time.Time
}

// ManifestVerifier caches fetched manifests per release version and
// verifies agent-reported distHash/releaseVersion/releaseSignature
// tuples against them (spec §4.8).
type ManifestVerifier struct {
	mu          sync.RWMutex
	active      releaseKeyEpoch
	grace       []releaseKeyEpoch
	graceWindow time.Duration
	cache       map[string]ReleaseManifest
	fetch       func(releaseVersion string) (ReleaseManifest, error)
}

func NewManifestVerifier(activeKey ed25519.PublicKey, graceWindow time.Duration, fetch func(string) (ReleaseManifest, error)) *ManifestVerifier {
	return &ManifestVerifier{
		active:      releaseKeyEpoch{key: activeKey, rotatedAt: time.Now()},
		graceWindow: graceWindow,
		cache:       make(map[string]ReleaseManifest),
		fetch:       fetch,
	}
}

// RotateKey installs a new active release key, retaining the previous one
// in the grace window.
func (m *ManifestVerifier) RotateKey(newKey ed25519.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grace = append(m.grace, m.active)
	m.active = releaseKeyEpoch{key: newKey, rotatedAt: time.Now()}
	cutoff := time.Now().Add(-m.graceWindow)
	kept := m.grace[:0]
	for _, e := range m.grace {
		if e.rotatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.grace = kept
}

func (m *ManifestVerifier) verifyManifestSignature(man ReleaseManifest) bool {
	buf, err := json.Marshal(manifestPayload{ReleaseVersion: man.ReleaseVersion, DistTreeHash: man.DistTreeHash})
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ed25519.Verify(m.active.key, buf, man.Signature) {
		return true
	}
	for _, e := range m.grace {
		if ed25519.Verify(e.key, buf, man.Signature) {
			return true
		}
	}
	return false
}

func (m *ManifestVerifier) manifestFor(releaseVersion string) (ReleaseManifest, error) {
	m.mu.RLock()
	cached, ok := m.cache[releaseVersion]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}
	fetched, err := m.fetch(releaseVersion)
	if err != nil {
		return ReleaseManifest{}, err
	}
	m.mu.Lock()
	m.cache[releaseVersion] = fetched
	m.mu.Unlock()
	return fetched, nil
}

// Verify implements spec §4.8's release-manifest check: fetch the cached
// manifest, verify its signature, then compare distHash.
func (m *ManifestVerifier) Verify(distHash, releaseVersion string) ManifestOutcome {
	man, err := m.manifestFor(releaseVersion)
	if err != nil {
		return OutcomeUnverified
	}
	if !m.verifyManifestSignature(man) {
		return OutcomeSignatureMismatch
	}
	if distHash != man.DistTreeHash {
		return OutcomeHashMismatch
	}
	return OutcomeVerified
}

// RefreshCache drops every cached manifest, forcing the next Verify call
// to re-fetch (periodic release-manifest refresh, spec §5, default 1h).
func (m *ManifestVerifier) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]ReleaseManifest)
}
