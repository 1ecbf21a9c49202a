package settings

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/keyshop-app/keyshop/app/models"
)

func TestFromMapDefaults(t *testing.T) {
	snap := fromMap(map[string]string{})

	assert.True(t, snap.ReferralsEnabled)
	assert.Equal(t, RewardPercent, snap.ReferralRewardType)
	assert.True(t, snap.ReferralPercent.Equal(decimal.NewFromInt(10)))
	assert.False(t, snap.TrialEnabled)
	assert.Equal(t, 3, snap.TrialDurationDays)
	assert.True(t, snap.FranchisePercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "RUB", snap.Currency)
	assert.Equal(t, 6*time.Hour, snap.ReconcileInterval)
	assert.Empty(t, snap.AdminTelegramIDs)
}

func TestFromMapParsesOperatorValues(t *testing.T) {
	snap := fromMap(map[string]string{
		models.SettingReferralsEnabled:       "off",
		models.SettingReferralRewardType:     RewardFixedPurchase,
		models.SettingReferralFixedAmount:    "25.50",
		models.SettingFranchisePercent:       "12.5",
		models.SettingReceiptCurrency:        "USD",
		models.SettingAdminTelegramIDs:       "100, 200,  junk, 300",
		models.SettingReconcileIntervalHours: "12",
	})

	assert.False(t, snap.ReferralsEnabled)
	assert.Equal(t, RewardFixedPurchase, snap.ReferralRewardType)
	assert.True(t, snap.ReferralFixedAmount.Equal(decimal.RequireFromString("25.50")))
	assert.True(t, snap.FranchisePercent.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "USD", snap.Currency)
	assert.Equal(t, []int64{100, 200, 300}, snap.AdminTelegramIDs)
	assert.Equal(t, 12*time.Hour, snap.ReconcileInterval)
}

func TestParseHelpersFallBackOnGarbage(t *testing.T) {
	assert.True(t, parseBool("nonsense", true))
	assert.False(t, parseBool("nonsense", false))
	assert.Equal(t, 7, parseInt("seven", 7))
	assert.True(t, parseDecimal("not-a-number", decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "fallback", defaultString("  ", "fallback"))
}
