package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManagedInstance is an owner-operated clone of the storefront ("franchise")
// that earns a commission on card payments routed through it.
type ManagedInstance struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Name              string          `gorm:"type:varchar(150);not null" json:"name"`
	OwnerTelegramID   int64           `gorm:"not null;index" json:"owner_telegram_id"`
	CommissionPercent decimal.Decimal `gorm:"type:decimal(5,2);not null;default:10" json:"commission_percent"`
	IsActive          bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PartnerCommission is one accrued commission entry. Unique on
// (instance_id, payment_id): accruing twice for the same payment is a no-op.
type PartnerCommission struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	InstanceID    uint            `gorm:"not null;index:ux_partner_commissions_instance_payment,unique,priority:1;index" json:"instance_id"`
	PaymentID     string          `gorm:"type:varchar(64);not null;index:ux_partner_commissions_instance_payment,unique,priority:2" json:"payment_id"`
	UserID        int64           `gorm:"not null" json:"user_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Percent       decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"percent"`
	Commission    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"commission"`
	PaymentMethod string          `gorm:"type:varchar(32)" json:"payment_method"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
