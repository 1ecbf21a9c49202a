package models

import "time"

// ProcessedPayment is the fulfillment idempotency guard: the existence of a
// row proves that fulfillment side effects for this payment id have already
// run (or definitively failed). Rows are inserted once and never touched
// again. This set is independent of PendingTransaction because some payment
// paths (balance payments, rebuilt metadata) never create a ledger row.
type ProcessedPayment struct {
	PaymentID   string    `gorm:"primaryKey;type:varchar(64)" json:"payment_id"`
	ProcessedAt time.Time `gorm:"autoCreateTime" json:"processed_at"`
}
