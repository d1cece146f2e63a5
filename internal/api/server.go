package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgecoder/coordinator/internal/behavior"
	"github.com/edgecoder/coordinator/internal/credit"
	"github.com/edgecoder/coordinator/internal/identity"
	"github.com/edgecoder/coordinator/internal/ledger"
	"github.com/edgecoder/coordinator/internal/mesh"
	"github.com/edgecoder/coordinator/internal/protocol"
	"github.com/edgecoder/coordinator/internal/scheduler"
	"github.com/edgecoder/coordinator/internal/security"
	"github.com/edgecoder/coordinator/internal/trust"
)

var log = logrus.WithField("component", "api")

// Server wires every coordinator-core package onto the HTTP surface of
// spec §6.
type Server struct {
	Self      *identity.Identity
	Peers     *mesh.PeerSet
	Broadcaster *mesh.Broadcaster
	Bootstrapper *mesh.Bootstrapper
	Capabilities *mesh.CapabilityTable
	Dedup        *protocol.Dedup

	Queue  *scheduler.Queue
	Credit *credit.Engine
	PaymentProvider credit.PaymentProvider
	IssuanceCurve   ledger.IssuanceCurve

	OrderingChain *ledger.OrderingChain
	QuorumChain   *ledger.QuorumChain
	AnchorProvider ledger.AnchorProvider

	issuance     *issuanceCache
	intentsState *intentState

	Blacklist *security.Chain
	Tracker   *behavior.Tracker
	AutoBlacklister *behavior.AutoBlacklister

	ManifestVerifier *trust.ManifestVerifier
	Nonces           *trust.NonceCache

	MeshAuthToken  string
	AdminAPIToken  string

	IntentLimiter *SlidingWindowLimiter
	ClaimLimiter  *SlidingWindowLimiter

	StartedAt time.Time

	directWork *directWorkState
}

// NewServer constructs a Server with its internal in-memory state
// initialized. Callers still assign every dependency field directly.
func NewServer() *Server {
	return &Server{
		StartedAt:  time.Now(),
		directWork: newDirectWorkState(),
		issuance:   newIssuanceCache(),
	}
}

// Routes assembles the full mux described by spec §6's HTTP surface
// table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Identity — unauthenticated health and identity.
	mux.HandleFunc("/identity", s.handleIdentity)
	mux.HandleFunc("/health/runtime", s.handleHealthRuntime)
	mux.HandleFunc("/status", s.handleStatus)

	// Mesh — peer discovery/registration/ingest/capabilities.
	mux.HandleFunc("/mesh/peers", s.requireMeshToken(s.handleMeshPeers))
	mux.HandleFunc("/mesh/register-peer", s.requireMeshToken(s.handleMeshRegisterPeer))
	mux.HandleFunc("/mesh/ingest", s.requireMeshToken(s.handleMeshIngest))
	mux.HandleFunc("/mesh/capabilities", s.requireMeshToken(s.handleMeshCapabilities))

	// Scheduler — task submission, capacity inspection, agent claim/complete.
	mux.HandleFunc("/submit", s.requireMeshToken(s.handleSubmit))
	mux.HandleFunc("/capacity", s.requireMeshToken(s.handleCapacity))
	mux.HandleFunc("/claim", s.requireSignedRequest(s.handleClaim))
	mux.HandleFunc("/complete", s.requireSignedRequest(s.handleComplete))

	// Direct work — peer-to-peer work handoff, agent-signed.
	mux.HandleFunc("/agent-mesh/direct-work/offer", s.requireSignedRequest(s.handleDirectWorkOffer))
	mux.HandleFunc("/agent-mesh/direct-work/accept", s.requireSignedRequest(s.handleDirectWorkAccept))
	mux.HandleFunc("/agent-mesh/direct-work/result", s.requireSignedRequest(s.handleDirectWorkResult))
	mux.HandleFunc("/agent-mesh/direct-work/audit", s.requireMeshToken(s.handleDirectWorkAudit))

	// Ledger — chain inspection.
	mux.HandleFunc("/ledger/snapshot", s.requireMeshToken(s.handleLedgerSnapshot))
	mux.HandleFunc("/ledger/verify", s.requireMeshToken(s.handleLedgerVerify))

	// Economy — pricing, payment intents, issuance.
	mux.HandleFunc("/economy/payments/intents", s.requireMeshToken(s.handlePaymentIntent))
	mux.HandleFunc("/economy/price/compute-unit", s.requireMeshToken(s.handlePriceComputeUnit))
	mux.HandleFunc("/economy/issuance/current", s.requireMeshToken(s.handleIssuanceCurrent))

	// Security — blacklist list and audit chain.
	mux.HandleFunc("/security/blacklist", s.requireMeshToken(s.handleSecurityBlacklist))
	mux.HandleFunc("/security/blacklist/audit", s.requireMeshToken(s.handleSecurityBlacklistAudit))

	// Credits — offline credit transaction sync.
	mux.HandleFunc("/credits/ble-sync", s.requireMeshToken(s.handleCreditsBleSync))

	return mux
}

// requireMeshToken gates a handler behind a static bearer token, the
// coarse mesh-wide gate spec §6 calls "mesh-token-gated" for every route
// not explicitly marked otherwise.
func (s *Server) requireMeshToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.MeshAuthToken == "" {
			next(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.MeshAuthToken {
			writeError(w, KindMeshUnauthorized, "missing or invalid mesh token")
			return
		}
		next(w, r)
	}
}

// requireSignedRequest gates agent-facing routes (/claim, /complete and
// the direct-work offer/accept/result routes) behind the full
// signed-request verification of spec §4.8, since these originate from
// individual agents rather than peer coordinators.
func (s *Server) requireSignedRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readAndRestoreBody(r)
		if err != nil {
			writeError(w, KindBadRequest, "could not read body")
			return
		}
		sr := trust.SignedRequest{
			AgentID:    r.Header.Get("x-agent-id"),
			Nonce:      r.Header.Get("x-nonce"),
			BodySha256: r.Header.Get("x-body-sha256"),
			Signature:  r.Header.Get("x-signature"),
			Method:     r.Method,
			Path:       r.URL.Path,
		}
		if ts := r.Header.Get("x-timestamp-ms"); ts != "" {
			sr.TimestampMs = parseInt64(ts)
		}
		if sr.BodySha256 != trust.BodyHash(body) {
			writeError(w, KindBadRequest, "body hash mismatch")
			return
		}
		err = trust.Verify(sr, s.Peers, s.Nonces, protocolNow(), trust.DefaultMaxSkewMs)
		switch err {
		case nil:
			next(w, r)
		case trust.ErrMissingHeader:
			writeError(w, KindMeshUnauthorized, "missing signed-request header")
		case trust.ErrTimestampSkew:
			writeError(w, KindTimestampSkew, "")
		case trust.ErrReplayDetected:
			writeError(w, KindReplayDetected, "")
		default:
			writeError(w, KindInvalidSignature, "")
		}
	}
}

