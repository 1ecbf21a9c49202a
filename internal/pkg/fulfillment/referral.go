package fulfillment

import (
	"github.com/shopspring/decimal"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/internal/pkg/settings"
)

// referralReward computes the reward the payer's referrer earns for this
// payment under the configured scheme. A zero reward means "nothing to pay".
// The business formulas themselves are operator-configured; this component
// only guarantees the payout runs exactly once per payment.
func referralReward(snap *settings.Snapshot, payer *models.User, amount decimal.Decimal) decimal.Decimal {
	if !snap.ReferralsEnabled || payer == nil || payer.ReferredBy == nil {
		return decimal.Zero
	}
	switch snap.ReferralRewardType {
	case settings.RewardFixedPurchase:
		return snap.ReferralFixedAmount
	case settings.RewardFixedStart:
		// Paid once, on the referee's first purchase.
		if payer.StartBonusPaid {
			return decimal.Zero
		}
		return snap.ReferralStartAmount
	default:
		if !amount.IsPositive() || snap.ReferralPercent.IsZero() {
			return decimal.Zero
		}
		return amount.Mul(snap.ReferralPercent).Div(decimal.NewFromInt(100)).Round(2)
	}
}

// cardLikeMethods are the provider families that count toward partner
// commissions; internal balance payments never do.
var cardLikeMethods = map[string]bool{
	"yookassa": true,
	"yoomoney": true,
	"platega":  true,
	"heleket":  true,
}

func isCardLikeMethod(method string) bool {
	return cardLikeMethods[method]
}
