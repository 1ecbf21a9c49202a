package models

import (
	"time"
)

// Well-known settings keys. The settings table is operator-editable at
// runtime; internal/pkg/settings reads it as an immutable snapshot so a
// single fulfillment run never observes a mid-flight change.
const (
	SettingReferralsEnabled       = "referrals_enabled"
	SettingReferralRewardType     = "referral_reward_type"
	SettingReferralPercent        = "referral_percentage"
	SettingReferralFixedAmount    = "referral_fixed_amount"
	SettingReferralStartAmount    = "referral_on_start_amount"
	SettingTrialEnabled           = "trial_enabled"
	SettingTrialDurationDays      = "trial_duration_days"
	SettingTrialTrafficLimitGB    = "trial_traffic_limit_gb"
	SettingTrialDeviceLimit       = "trial_device_limit"
	SettingAdminTelegramIDs       = "admin_telegram_ids"
	SettingTelegramBotToken       = "telegram_bot_token"
	SettingReceiptCurrency        = "receipt_currency"
	SettingFranchisePercent       = "franchise_percent_default"
	SettingCryptoBotToken         = "cryptobot_token"
	SettingYooMoneySecret         = "yoomoney_secret"
	SettingYooKassaShopID         = "yookassa_shop_id"
	SettingYooKassaSecretKey      = "yookassa_secret_key"
	SettingReconcileIntervalHours = "reconcile_interval_hours"
)

// Setting is a single operator-editable key/value pair.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
