package credit

import "time"

// PaymentProvider is the pluggable external payment rail for purchased
// credits (spec §4.4's "purchased" contribution path). Implementations
// live in internal/providers.
type PaymentProvider interface {
	CreateInvoice(amountSats int64, paymentHash [32]byte, description string, expiry time.Duration) (string, error)
	CheckSettlement(invoice string) (expired bool, amountSats int64, err error)
}

// Purchase records a settled external payment as an "earn" transaction
// whose reason carries the credit_purchase: prefix the contribution-first
// policy recognizes (spec §4.4).
func (e *Engine) Purchase(accountID string, credits float64, invoiceRef string, nowMs int64) (Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := Transaction{
		TxID:        e.idGen(),
		AccountID:   accountID,
		Type:        TxEarn,
		Credits:     credits,
		Reason:      purchasePrefix + invoiceRef,
		TimestampMs: nowMs,
	}
	e.accounts[accountID] = append(e.accounts[accountID], tx)
	return tx, nil
}
