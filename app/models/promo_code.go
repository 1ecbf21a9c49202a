package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromoCode is an operator-issued discount code. Usage counters live on the
// row; per-user usage is derived from PromoRedemption.
type PromoCode struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Code              string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	DiscountAmount    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	DiscountPercent   int             `gorm:"default:0" json:"discount_percent"`
	UsageLimitTotal   int             `gorm:"default:0" json:"usage_limit_total"`
	UsageLimitPerUser int             `gorm:"default:0" json:"usage_limit_per_user"`
	UsedTotal         int             `gorm:"default:0" json:"used_total"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty"`
	IsActive          bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the code's validity window has passed.
func (p *PromoCode) IsExpired(now time.Time) bool {
	return p.ValidUntil != nil && now.After(*p.ValidUntil)
}

// TotalLimitReached reports whether the code has been used up.
func (p *PromoCode) TotalLimitReached() bool {
	return p.UsageLimitTotal > 0 && p.UsedTotal >= p.UsageLimitTotal
}

// PromoRedemption records one successful application of a promo code to a
// paid order. Unique on (code, order_id) so a redelivered fulfillment can
// never double-count.
type PromoRedemption struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Code          string          `gorm:"type:varchar(64);not null;index:ux_promo_redemptions_code_order,unique,priority:1" json:"code"`
	OrderID       string          `gorm:"type:varchar(64);not null;index:ux_promo_redemptions_code_order,unique,priority:2" json:"order_id"`
	UserID        int64           `gorm:"not null;index" json:"user_id"`
	AppliedAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"applied_amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
