package fulfillment

import (
	"github.com/keyshop-app/keyshop/app/models"
)

// SideEffect names one best-effort step of a fulfillment run.
type SideEffect string

const (
	EffectProvision   SideEffect = "provision"
	EffectBalance     SideEffect = "balance_credit"
	EffectReferral    SideEffect = "referral_reward"
	EffectPromo       SideEffect = "promo_redeem"
	EffectCommission  SideEffect = "partner_commission"
	EffectNotify      SideEffect = "notify"
	EffectAuditLog    SideEffect = "audit_log"
	EffectGiftPending SideEffect = "gift_pending"
)

// Outcome is the recorded result of one side effect. Failures are captured
// here instead of being swallowed, so a lost referral payout is a queryable
// fact, not an invisible gap.
type Outcome struct {
	Effect SideEffect
	OK     bool
	Detail string
	Err    error
}

// Result summarizes one fulfillment run.
type Result struct {
	PaymentID string
	// Duplicate is true when the guard rejected the claim: the payment was
	// already fulfilled and this run did nothing.
	Duplicate bool
	// Fulfilled is true when the primary effect (provisioning or balance
	// credit) succeeded.
	Fulfilled bool
	// ErrorCode is the short classification of a provisioning failure,
	// empty on success.
	ErrorCode  string
	Credential *models.Credential
	Outcomes   []Outcome
}

func (r *Result) record(effect SideEffect, err error, detail string) {
	r.Outcomes = append(r.Outcomes, Outcome{
		Effect: effect,
		OK:     err == nil,
		Detail: detail,
		Err:    err,
	})
}

// FailedEffects lists the side effects that did not complete; used by
// operator alerting.
func (r *Result) FailedEffects() []SideEffect {
	var failed []SideEffect
	for _, o := range r.Outcomes {
		if !o.OK {
			failed = append(failed, o.Effect)
		}
	}
	return failed
}
