package models

import "time"

const (
	GiftStatusPending  = "pending"
	GiftStatusRedeemed = "redeemed"
	GiftStatusCanceled = "canceled"
)

// GiftToken is a recoverable pending-gift record: a gift purchase is paid
// for immediately but credential creation is deferred until the payer
// supplies a recipient handle in a follow-up interaction.
type GiftToken struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Token               string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	PayerID             int64      `gorm:"not null;index" json:"payer_id"`
	PaymentID           string     `gorm:"type:varchar(64);not null;index" json:"payment_id"`
	HostName            string     `gorm:"type:varchar(150);not null" json:"host_name"`
	PlanID              uint       `gorm:"not null" json:"plan_id"`
	Days                int        `gorm:"not null" json:"days"`
	Status              string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RecipientTelegramID *int64     `json:"recipient_telegram_id,omitempty"`
	CredentialID        *uint      `json:"credential_id,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RedeemedAt          *time.Time `json:"redeemed_at,omitempty"`
}
