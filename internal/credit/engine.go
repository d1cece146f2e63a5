// Package credit implements the usage-metered accrual, spend accounting
// and dynamic pricing of spec §4.4.
package credit

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInsufficientCredits    = errors.New("insufficient_credits")
	ErrDuplicateReport        = errors.New("duplicate_contribution_report")
	ErrContributionPolicy     = errors.New("contribution_policy_violation")
)

// TxType mirrors spec §3 CreditTransaction.type.
type TxType string

const (
	TxEarn   TxType = "earn"
	TxSpend  TxType = "spend"
	TxAdjust TxType = "adjust"
	TxHeld   TxType = "held"
)

// Transaction mirrors spec §3 CreditTransaction. Append-only: the engine
// never mutates a recorded transaction, only appends new ones.
type Transaction struct {
	TxID          string
	AccountID     string
	Type          TxType
	Credits       float64
	Reason        string
	RelatedTaskID string
	TimestampMs   int64
}

const purchasePrefix = "credit_purchase:"

// Policy carries the injectable constants of spec §4.4 that the spec
// itself leaves as tunables rather than fixed numbers.
type Policy struct {
	MinContributionRatio  float64
	ContributionBurstCredits float64
	QualityMultiplier     func(quality float64) float64 // spec §9: ambiguous, default identity
}

func DefaultPolicy() Policy {
	return Policy{
		MinContributionRatio:     1.0,
		ContributionBurstCredits: 25,
		QualityMultiplier:        func(q float64) float64 { return q },
	}
}

// Engine is a coordinator's credit ledger: per-account append-only
// transaction history plus the derived balance. A single engine-wide
// mutex serializes every read and mutation across all accounts; there are
// no per-account locks.
type Engine struct {
	mu       sync.Mutex
	accounts map[string][]Transaction
	seenReports map[string]struct{}
	policy   Policy
	idGen    func() string
}

func NewEngine(policy Policy, idGen func() string) *Engine {
	return &Engine{
		accounts:    make(map[string][]Transaction),
		seenReports: make(map[string]struct{}),
		policy:      policy,
		idGen:       idGen,
	}
}

// ContributionReport is the input to Accrue (spec §4.4).
type ContributionReport struct {
	ReportID          string
	AccountID         string
	CPUSecondsEquivalent float64
	ResourceClass     string
	Quality           float64
	RelatedTaskID     string
	TimestampMs       int64
}

// LoadSample carries the inputs to loadMultiplier (spec §4.4:
// "pressure = (queuedTasks+activeAgents)/capacity").
type LoadSample struct {
	QueuedTasks  int
	ActiveAgents int
	Capacity     int
}

func (l LoadSample) pressure() float64 {
	if l.Capacity <= 0 {
		return 0
	}
	return float64(l.QueuedTasks+l.ActiveAgents) / float64(l.Capacity)
}

// baseRate is spec §4.4's per-resource-class base accrual rate. The
// unspecified/default (cpu) case is 1.0 credit per cpu-second-equivalent;
// gpu keeps the same 1:4 ratio dynamic pricing uses between its 30/120
// sats bases, so gpu work accrues at 4.0.
func baseRate(resourceClass string) float64 {
	if resourceClass == "gpu" {
		return 4.0
	}
	return 1.0
}

// loadMultiplier implements spec §4.4's piecewise-linear curve:
// 0.2 -> 0.8, 1.0 -> 1.0, 3.0 -> 1.6, clamped to [0.35, 4.0].
func loadMultiplier(pressure float64) float64 {
	points := []struct{ x, y float64 }{
		{0.2, 0.8},
		{1.0, 1.0},
		{3.0, 1.6},
	}
	var result float64
	switch {
	case pressure <= points[0].x:
		result = points[0].y
	case pressure >= points[len(points)-1].x:
		result = points[len(points)-1].y
	default:
		for i := 0; i < len(points)-1; i++ {
			a, b := points[i], points[i+1]
			if pressure >= a.x && pressure <= b.x {
				t := (pressure - a.x) / (b.x - a.x)
				result = a.y + t*(b.y-a.y)
				break
			}
		}
	}
	return math.Max(0.35, math.Min(4.0, result))
}

// Accrue computes and records an "earn" transaction per spec §4.4:
// credits = cpuSecondsEquivalent × baseRate(resourceClass) ×
// qualityMultiplier × loadMultiplier. A duplicate reportId is rejected
// without mutating any balance.
func (e *Engine) Accrue(report ContributionReport, load LoadSample) (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.seenReports[report.ReportID]; seen {
		return Transaction{}, ErrDuplicateReport
	}

	credits := report.CPUSecondsEquivalent *
		baseRate(report.ResourceClass) *
		e.policy.QualityMultiplier(report.Quality) *
		loadMultiplier(load.pressure())

	tx := Transaction{
		TxID:          e.idGen(),
		AccountID:     report.AccountID,
		Type:          TxEarn,
		Credits:       credits,
		Reason:        "contribution_report",
		RelatedTaskID: report.RelatedTaskID,
		TimestampMs:   report.TimestampMs,
	}
	e.seenReports[report.ReportID] = struct{}{}
	e.accounts[report.AccountID] = append(e.accounts[report.AccountID], tx)
	return tx, nil
}

// Balance computes spec §3's balance invariant:
// Σearn + Σ|adjust>0| − Σspend − Σ|adjust<0|.
func (e *Engine) Balance(accountID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceLocked(accountID)
}

func (e *Engine) balanceLocked(accountID string) float64 {
	var bal float64
	for _, tx := range e.accounts[accountID] {
		switch tx.Type {
		case TxEarn:
			bal += tx.Credits
		case TxSpend:
			bal -= tx.Credits
		case TxAdjust:
			bal += tx.Credits // signed: positive adjustments add, negative subtract
		case TxHeld:
			// spec §9: ambiguous whether held reserves balance; treated as
			// an audit annotation only, no balance effect, until clarified.
		}
	}
	return bal
}

func (e *Engine) earnedAndPurchasedLocked(accountID string) (earned, purchased, spent float64) {
	for _, tx := range e.accounts[accountID] {
		if strings.HasPrefix(tx.Reason, purchasePrefix) {
			purchased += tx.Credits
			continue
		}
		switch tx.Type {
		case TxEarn:
			earned += tx.Credits
		case TxSpend:
			spent += tx.Credits
		}
	}
	return
}

// checkContributionPolicy implements spec §4.4's contribution-first
// policy: (earned+purchased)/spent >= MinContributionRatio OR balance >=
// ContributionBurstCredits.
func (e *Engine) checkContributionPolicy(accountID string) bool {
	earned, purchased, spent := e.earnedAndPurchasedLocked(accountID)
	if spent == 0 {
		return true
	}
	ratio := (earned + purchased) / spent
	if ratio >= e.policy.MinContributionRatio {
		return true
	}
	return e.balanceLocked(accountID) >= e.policy.ContributionBurstCredits
}

// Spend records a "spend" transaction after verifying sufficient balance
// and the contribution-first policy (spec §4.4).
func (e *Engine) Spend(accountID string, credits float64, reason, relatedTaskID string, nowMs int64) (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.balanceLocked(accountID) < credits {
		return Transaction{}, ErrInsufficientCredits
	}
	if !e.checkContributionPolicy(accountID) {
		return Transaction{}, ErrContributionPolicy
	}

	tx := Transaction{
		TxID:          e.idGen(),
		AccountID:     accountID,
		Type:          TxSpend,
		Credits:       credits,
		Reason:        reason,
		RelatedTaskID: relatedTaskID,
		TimestampMs:   nowMs,
	}
	e.accounts[accountID] = append(e.accounts[accountID], tx)
	return tx, nil
}

// TransferFee debits payerID and credits payeeID atomically, used for the
// coordinator fee split. Both writes happen under the engine-wide mutex;
// the sorted id pair is computed but no per-account locks are taken.
func (e *Engine) TransferFee(payerID, payeeID string, credits float64, reason string, nowMs int64) error {
	ids := []string{payerID, payeeID}
	sort.Strings(ids)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.balanceLocked(payerID) < credits {
		return ErrInsufficientCredits
	}
	e.accounts[payerID] = append(e.accounts[payerID], Transaction{
		TxID: e.idGen(), AccountID: payerID, Type: TxSpend, Credits: credits, Reason: reason, TimestampMs: nowMs,
	})
	e.accounts[payeeID] = append(e.accounts[payeeID], Transaction{
		TxID: e.idGen(), AccountID: payeeID, Type: TxEarn, Credits: credits, Reason: reason, TimestampMs: nowMs,
	})
	return nil
}

// Accounts returns every accountId with at least one recorded
// transaction, used by the periodic issuance recalculation to know which
// accounts to weigh (spec §4.5).
func (e *Engine) Accounts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.accounts))
	for id := range e.accounts {
		out = append(out, id)
	}
	return out
}

// EarnedSince sums an account's earn transactions since sinceMs, the
// weighted-contribution input to issuance's per-account allocation
// (spec §4.5 step 3).
func (e *Engine) EarnedSince(accountID string, sinceMs int64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, tx := range e.accounts[accountID] {
		if tx.Type == TxEarn && tx.TimestampMs >= sinceMs {
			total += tx.Credits
		}
	}
	return total
}

// History returns a copy of an account's transaction log.
func (e *Engine) History(accountID string) []Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.accounts[accountID]
	out := make([]Transaction, len(src))
	copy(out, src)
	return out
}
