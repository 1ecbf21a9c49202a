package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PendingStatusPending = "pending"
	PendingStatusPaid    = "paid"
)

// PendingTransaction records a payment intent before the payer is redirected
// to a provider. Rows are never deleted; they double as the audit trail of
// every checkout that was ever started. The status transition
// pending -> paid happens at most once (see repository.LedgerRepository).
type PendingTransaction struct {
	PaymentID string          `gorm:"primaryKey;type:varchar(64)" json:"payment_id"`
	UserID    int64           `gorm:"not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency  string          `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency"`
	Metadata  string          `gorm:"type:longtext;not null" json:"metadata"`
	Status    string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime;index" json:"updated_at"`
}
