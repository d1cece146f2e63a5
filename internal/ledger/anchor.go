package ledger

// FinalityState mirrors spec §4.5's anchoring/finality state machine.
type FinalityState string

const (
	FinalitySoftFinalized     FinalityState = "soft_finalized"
	FinalityAnchoredPending   FinalityState = "anchored_pending"
	FinalityAnchoredConfirmed FinalityState = "anchored_confirmed"
	FinalityStaleFederation   FinalityState = "stale_federation"
)

// AnchorStatus tracks a checkpoint's progress toward external anchoring.
type AnchorStatus struct {
	CheckpointHash string
	State          FinalityState
	TxRef          string
	BlockHeight    int64
	Confirmations  int
}

// AnchorProvider is the pluggable external timestamping facility of
// spec §6. Implementations live in internal/providers.
type AnchorProvider interface {
	BroadcastOpReturn(dataHex string) (txid string, err error)
	GetConfirmations(txid string) (confirmed bool, confirmations int, blockHeight int64, err error)
	HealthCheck() error
}

// ConfirmationThreshold is the number of confirmations required for
// anchored_confirmed (spec §4.5).
const ConfirmationThreshold = 6

// AdvanceAnchor drives one checkpoint's status forward given a fresh
// provider read, used by the periodic "anchor refresh" task (spec §5).
func AdvanceAnchor(status AnchorStatus, provider AnchorProvider) AnchorStatus {
	if status.TxRef == "" {
		return status
	}
	confirmed, confirmations, height, err := provider.GetConfirmations(status.TxRef)
	if err != nil {
		return status
	}
	status.Confirmations = confirmations
	status.BlockHeight = height
	switch {
	case confirmed && confirmations >= ConfirmationThreshold:
		status.State = FinalityAnchoredConfirmed
	case confirmations > 0:
		status.State = FinalityAnchoredPending
	}
	return status
}

// RequiresAnchoredConfirmed reports whether an accounting-sensitive
// operation (spec §4.5: "accounting-sensitive paths require
// anchored_confirmed") may proceed given the current finality state.
func RequiresAnchoredConfirmed(state FinalityState) bool {
	return state == FinalityAnchoredConfirmed
}
