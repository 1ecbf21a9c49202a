package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
)

var (
	// ErrGiftNotFound is returned for a token that was never issued.
	ErrGiftNotFound = errors.New("gift token not found")
	// ErrGiftRedeemed is returned when the token is no longer pending.
	ErrGiftRedeemed = errors.New("gift already redeemed")
)

// RedeemGift finishes a paid gift: the payer supplies the recipient handle
// and the deferred credential is provisioned for them. The conditional
// status flip on the token makes redemption exactly-once; a lost race
// resolves as Duplicate.
func (s *Service) RedeemGift(ctx context.Context, token string, recipientID int64, recipientUsername string) (*Result, error) {
	res := &Result{}

	gift, err := s.gifts.GetByToken(token)
	if err != nil {
		return nil, fmt.Errorf("redeem gift: load token: %w", err)
	}
	if gift == nil {
		return nil, ErrGiftNotFound
	}
	if gift.Status != models.GiftStatusPending {
		return nil, ErrGiftRedeemed
	}

	// Loaded before the token is flipped so a lookup failure stays
	// retryable.
	recipient, err := s.users.RegisterIfNotExists(recipientID, recipientUsername, nil)
	if err != nil {
		return nil, fmt.Errorf("redeem gift %s: register recipient: %w", token, err)
	}
	host, err := s.catalog.GetHost(gift.HostName)
	if err != nil {
		return nil, fmt.Errorf("redeem gift %s: host %q: %w", token, gift.HostName, err)
	}
	plan, err := s.catalog.GetPlan(gift.PlanID)
	if err != nil {
		return nil, fmt.Errorf("redeem gift %s: plan %d: %w", token, gift.PlanID, err)
	}

	first, err := s.gifts.Redeem(token, recipientID)
	if err != nil {
		return nil, fmt.Errorf("redeem gift %s: %w", token, err)
	}
	if !first {
		res.Duplicate = true
		return res, nil
	}

	identity := newIdentity(recipient.TelegramID, host.Name)
	params := provisioning.CreateParams{
		Identity:          identity,
		DaysToAdd:         gift.Days,
		TrafficLimitBytes: plan.TrafficLimitBytes,
		DeviceLimit:       plan.DeviceLimit,
	}

	provCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()
	remote, err := s.prov.CreateOrExtend(provCtx, host, params)
	if err != nil {
		res.record(EffectProvision, err, "")
		res.ErrorCode = ClassifyProvisioningError(err)
		s.reopenGift(ctx, gift, token)
		return res, fmt.Errorf("redeem gift %s: provision: %w", token, err)
	}
	res.record(EffectProvision, nil, remote.RemoteUUID)

	now := time.Now()
	cred := &models.Credential{
		UserID:          recipient.TelegramID,
		HostName:        host.Name,
		RemoteUUID:      remote.RemoteUUID,
		Identity:        identity,
		SubscriptionURL: remote.SubscriptionURL,
		ExpiresAt:       remote.ExpiresAt,
		OriginSource:    models.OriginGift,
		OriginPlanID:    plan.ID,
		OriginPlanName:  plan.Name,
		OriginDays:      gift.Days,
		Comment:         fmt.Sprintf("gift from user %d, %s", gift.PayerID, plan.DurationLabel()),
	}
	if err := s.creds.Create(cred); err != nil {
		res.record(EffectAuditLog, err, "credential row")
		s.alertOperators(ctx, fmt.Sprintf("gift %s provisioned remotely but local credential write failed: %v; resolve manually", token, err))
		return res, fmt.Errorf("redeem gift %s: save credential: %w", token, err)
	}
	res.Fulfilled = true
	res.Credential = cred

	gift.Status = models.GiftStatusRedeemed
	gift.RecipientTelegramID = &recipientID
	gift.CredentialID = &cred.ID
	gift.RedeemedAt = &now
	if err := s.gifts.Update(gift); err != nil {
		res.record(EffectGiftPending, err, "credential link")
	}

	if err := s.notifier.NotifyPayer(ctx, recipient.TelegramID, fmt.Sprintf("You received a gift key. It is valid until %s.", cred.ExpiresAt.Format("2006-01-02"))); err != nil {
		res.record(EffectNotify, err, "recipient")
	}
	if err := s.notifier.NotifyPayer(ctx, gift.PayerID, "Your gift key was delivered."); err != nil {
		res.record(EffectNotify, err, "payer")
	}
	return res, nil
}

// reopenGift hands a flipped token back after a failed provisioning attempt
// so the payer can retry. Losing this write would strand the gift, so a
// failure is alerted.
func (s *Service) reopenGift(ctx context.Context, gift *models.GiftToken, token string) {
	gift.Status = models.GiftStatusPending
	gift.RecipientTelegramID = nil
	gift.RedeemedAt = nil
	if err := s.gifts.Update(gift); err != nil {
		s.alertOperators(ctx, fmt.Sprintf("gift %s provisioning failed and the token could not be reopened: %v; resolve manually", token, err))
	}
}
