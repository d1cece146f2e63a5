package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgecoder/coordinator/internal/credit"
	"github.com/edgecoder/coordinator/internal/ledger"
)

// intentState tracks a credit-purchase payment intent from creation
// through external settlement (spec §4.4's "purchased" contribution
// path, economy route table spec §6).
type intentState struct {
	mu      sync.Mutex
	intents map[string]*paymentIntent
}

type paymentIntent struct {
	IntentID  string `json:"intentId"`
	AccountID string `json:"accountId"`
	Credits   float64 `json:"credits"`
	PriceSats int64   `json:"priceSats"`
	Invoice   string  `json:"invoice"`
	State     string  `json:"state"` // pending | settled | expired
}

func newIntentState() *intentState {
	return &intentState{intents: make(map[string]*paymentIntent)}
}

type paymentIntentRequest struct {
	AccountID     string  `json:"accountId"`
	Credits       float64 `json:"credits"`
	ResourceClass string  `json:"resourceClass"`
	Demand        float64 `json:"demand"`
	Capacity      float64 `json:"capacity"`
}

// handlePaymentIntent serves POST /economy/payments/intents: price the
// requested credits in sats and issue a Lightning invoice for them.
func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindMissingBody, "could not decode body")
		return
	}
	if req.AccountID == "" || req.Credits <= 0 {
		writeError(w, KindBadRequest, "accountId and a positive credits amount are required")
		return
	}
	if s.IntentLimiter != nil && !s.IntentLimiter.Allow(req.AccountID, time.Now()) {
		writeError(w, KindRateLimited, "too many payment intents for this account")
		return
	}
	if s.PaymentProvider == nil {
		writeError(w, KindProviderUnavailable, "no payment provider configured")
		return
	}

	priceSats := credit.PricePerComputeUnitSats(req.ResourceClass, credit.PricingInputs{
		Demand: req.Demand, Capacity: req.Capacity,
	})
	totalSats := int64(priceSats * req.Credits)
	if totalSats <= 0 {
		totalSats = 1
	}

	var paymentHash [32]byte
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		writeError(w, KindProviderUnavailable, "could not generate payment nonce")
		return
	}
	paymentHash = sha256.Sum256(append([]byte(req.AccountID), nonce[:]...))

	invoice, err := s.PaymentProvider.CreateInvoice(totalSats, paymentHash, "edgecoder credit purchase", time.Hour)
	if err != nil {
		writeError(w, KindProviderUnavailable, "could not create invoice")
		return
	}

	intent := &paymentIntent{
		IntentID:  uuid.NewString(),
		AccountID: req.AccountID,
		Credits:   req.Credits,
		PriceSats: totalSats,
		Invoice:   invoice,
		State:     "pending",
	}
	s.intents().mu.Lock()
	s.intents().intents[intent.IntentID] = intent
	s.intents().mu.Unlock()

	writeJSON(w, http.StatusCreated, intent)
}

// intents lazily initializes the intent store, since Server values built
// directly (rather than via NewServer) would otherwise nil-panic.
func (s *Server) intents() *intentState {
	if s.intentsState == nil {
		s.intentsState = newIntentState()
	}
	return s.intentsState
}

type priceComputeUnitResponse struct {
	ResourceClass string  `json:"resourceClass"`
	PriceSats     float64 `json:"priceSats"`
}

// handlePriceComputeUnit serves GET /economy/price/compute-unit.
func (s *Server) handlePriceComputeUnit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resourceClass := q.Get("resourceClass")
	if resourceClass == "" {
		resourceClass = "cpu"
	}
	demand, _ := strconv.ParseFloat(q.Get("demand"), 64)
	capacity, _ := strconv.ParseFloat(q.Get("capacity"), 64)
	if capacity == 0 {
		capacity = 1
	}
	price := credit.PricePerComputeUnitSats(resourceClass, credit.PricingInputs{Demand: demand, Capacity: capacity})
	writeJSON(w, http.StatusOK, priceComputeUnitResponse{ResourceClass: resourceClass, PriceSats: price})
}

// issuanceCache holds the most recently computed issuance epoch, rebuilt
// periodically outside the request path (spec §4.5's hourly/rolling
// recalculation) and served as-is to callers.
type issuanceCache struct {
	mu         sync.Mutex
	epoch      ledger.IssuanceEpoch
	allocations []ledger.IssuanceAllocation
	payouts    []ledger.IssuancePayoutEvent
	smoothed   float64
}

func newIssuanceCache() *issuanceCache {
	return &issuanceCache{}
}

// RecalculateIssuance rebuilds the cached epoch from a fresh load sample
// and contribution set, called by the periodic issuance task.
func (s *Server) RecalculateIssuance(coordinatorID string, rawLoadIndex float64, contributions []ledger.Contribution, nowMs int64) {
	c := s.issuance
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smoothed = ledger.SmoothLoadIndex(s.IssuanceCurve, rawLoadIndex, c.smoothed)
	epoch, allocations, payouts := ledger.BuildEpoch(
		uuid.NewString(), coordinatorID,
		nowMs-3600_000, nowMs,
		s.IssuanceCurve, c.smoothed, contributions, nowMs,
	)
	c.epoch, c.allocations, c.payouts = epoch, allocations, payouts
}

type issuanceCurrentResponse struct {
	Epoch       ledger.IssuanceEpoch            `json:"epoch"`
	Allocations []ledger.IssuanceAllocation      `json:"allocations"`
	Payouts     []ledger.IssuancePayoutEvent `json:"payouts"`
}

// handleIssuanceCurrent serves GET /economy/issuance/current.
func (s *Server) handleIssuanceCurrent(w http.ResponseWriter, r *http.Request) {
	c := s.issuance
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, http.StatusOK, issuanceCurrentResponse{
		Epoch: c.epoch, Allocations: c.allocations, Payouts: c.payouts,
	})
}

