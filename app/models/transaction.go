package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the append-only log of completed payments, written by the
// fulfillment orchestrator after money has actually moved. It is a reporting
// table, not an idempotency mechanism.
type Transaction struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	UserID         int64            `gorm:"not null;index" json:"user_id"`
	Username       string           `gorm:"type:varchar(150)" json:"username"`
	PaymentID      string           `gorm:"type:varchar(64);index" json:"payment_id"`
	Status         string           `gorm:"type:varchar(16);not null" json:"status"`
	Amount         decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"amount"`
	AmountCurrency *decimal.Decimal `gorm:"type:decimal(18,8)" json:"amount_currency,omitempty"`
	CurrencyName   string           `gorm:"type:varchar(8)" json:"currency_name"`
	PaymentMethod  string           `gorm:"type:varchar(32);index" json:"payment_method"`
	Metadata       string           `gorm:"type:longtext" json:"metadata"`
	CreatedAt      time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}
