package models

import (
	"time"
)

const (
	OriginTrial    = "trial"
	OriginPurchase = "purchase"
	OriginExtend   = "extend"
	OriginGift     = "gift"
)

// Credential is a provisioned VPN access key. The row mirrors the remote
// panel user; Identity is the globally unique email-shaped handle the panel
// knows the credential by.
//
// MissingSince is non-nil only while the reconciliation loop believes the
// remote side does not have this credential. A single missing observation
// never deletes the row (see internal/pkg/reconcile).
type Credential struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          int64      `gorm:"not null;index" json:"user_id"`
	HostName        string     `gorm:"type:varchar(150);not null;index" json:"host_name"`
	RemoteUUID      string     `gorm:"type:varchar(64);index" json:"remote_uuid"`
	Identity        string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"identity"`
	SubscriptionURL string     `gorm:"type:text" json:"subscription_url"`
	ExpiresAt       time.Time  `gorm:"not null;index" json:"expires_at"`
	MissingSince    *time.Time `gorm:"index" json:"missing_since,omitempty"`

	// Origin note: stamped at fulfillment time so downstream displays stay
	// correct even if the plan definition changes later.
	OriginSource   string `gorm:"type:varchar(16)" json:"origin_source"`
	OriginPlanID   uint   `json:"origin_plan_id"`
	OriginPlanName string `gorm:"type:varchar(150)" json:"origin_plan_name"`
	OriginDays     int    `json:"origin_days"`

	Comment   string    `gorm:"type:text" json:"comment"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the credential is currently usable: not expired
// and not flagged as missing on the remote panel.
func (c *Credential) IsActive(now time.Time) bool {
	return c.MissingSince == nil && c.ExpiresAt.After(now)
}
