package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a shop customer identified by their Telegram account.
type User struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	TelegramID      int64           `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username        string          `gorm:"type:varchar(150)" json:"username"`
	Balance         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	ReferralBalance decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"referral_balance"`
	ReferredBy      *int64          `gorm:"index" json:"referred_by,omitempty"`
	StartBonusPaid  bool            `gorm:"default:false" json:"-"`
	TrialUsed       bool            `gorm:"default:false" json:"trial_used"`
	TotalSpent      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_spent"`
	MonthsPurchased int             `gorm:"default:0" json:"months_purchased"`
	IsBanned        bool            `gorm:"default:false;index" json:"is_banned"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// RegisterUserIfNotExists inserts a user row on first contact. The referrer
// is only recorded at registration time and never changed afterwards.
func RegisterUserIfNotExists(db *gorm.DB, telegramID int64, username string, referredBy *int64) (*User, error) {
	var user User
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	if err == nil {
		if username != "" && username != user.Username {
			user.Username = username
			if err := db.Model(&user).Update("username", username).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	user = User{
		TelegramID: telegramID,
		Username:   username,
		ReferredBy: referredBy,
	}
	if referredBy != nil && *referredBy == telegramID {
		user.ReferredBy = nil
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
