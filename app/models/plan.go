package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable tariff on a host. Either Months or DurationDays is
// set; DurationDays wins when both are present.
type Plan struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	HostName          string          `gorm:"type:varchar(150);not null;index" json:"host_name"`
	Name              string          `gorm:"type:varchar(150);not null" json:"name"`
	Months            int             `gorm:"default:0" json:"months"`
	DurationDays      int             `gorm:"default:0" json:"duration_days"`
	Price             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	TrafficLimitBytes int64           `gorm:"default:0" json:"traffic_limit_bytes"`
	DeviceLimit       int             `gorm:"default:0" json:"device_limit"`
	SalesCount        int64           `gorm:"default:0" json:"sales_count"`
	IsActive          bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResolveDays converts the plan duration to a day count. An explicit day
// count takes precedence over months; months are billed as 30-day blocks.
func (p *Plan) ResolveDays() int {
	if p.DurationDays > 0 {
		return p.DurationDays
	}
	if p.Months > 0 {
		return p.Months * 30
	}
	return 0
}

// DurationLabel is the human-readable duration stamped into credential
// origin notes.
func (p *Plan) DurationLabel() string {
	days := p.ResolveDays()
	if p.DurationDays == 0 && p.Months > 0 {
		if p.Months == 1 {
			return "1 month"
		}
		return plural(p.Months, "months")
	}
	if days == 1 {
		return "1 day"
	}
	return plural(days, "days")
}

func plural(n int, unit string) string {
	return strconv.Itoa(n) + " " + unit
}
