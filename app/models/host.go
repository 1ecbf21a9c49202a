package models

import (
	"strings"
	"time"
)

// Host is an external provisioning panel that credentials are created on.
type Host struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"type:varchar(150);not null;uniqueIndex" json:"name"`
	PanelURL        string    `gorm:"type:varchar(255);not null" json:"panel_url"`
	APIToken        string    `gorm:"type:text" json:"-"`
	SquadUUID       string    `gorm:"type:varchar(64)" json:"squad_uuid"`
	SubscriptionURL string    `gorm:"type:varchar(255)" json:"subscription_url"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizeHostName trims the surrounding whitespace hosts are commonly
// mis-entered with in the admin panel.
func NormalizeHostName(name string) string {
	return strings.TrimSpace(name)
}
