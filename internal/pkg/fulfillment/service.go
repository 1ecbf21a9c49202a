package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/notify"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
	"github.com/keyshop-app/keyshop/internal/pkg/settings"
)

// Guard is the claim half of the ledger service. It is a separate seam so
// tests can count claims without a database.
type Guard interface {
	Claim(paymentID string) (bool, error)
}

// SnapshotProvider hands out immutable settings snapshots.
type SnapshotProvider interface {
	Snapshot() (*settings.Snapshot, error)
}

const provisionTimeout = 30 * time.Second

// Service is the fulfillment orchestrator. Every run is gated by a single
// guard claim; after the claim is consumed the steps execute in a strict
// order, each best-effort, with every outcome recorded on the Result.
//
// Known gap, by inheritance from the payment model: if the process dies
// after the claim but before provisioning completes, the claim is consumed
// and nothing retries automatically (a retry could double-provision).
// Operators are alerted and resolve it manually.
type Service struct {
	guard       Guard
	users       repository.UserRepository
	creds       repository.CredentialRepository
	catalog     repository.CatalogRepository
	promos      repository.PromoRepository
	commissions repository.CommissionRepository
	txlog       repository.TransactionRepository
	gifts       repository.GiftRepository
	prov        provisioning.Client
	notifier    notify.Notifier
	settings    SnapshotProvider
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Guard       Guard
	Users       repository.UserRepository
	Credentials repository.CredentialRepository
	Catalog     repository.CatalogRepository
	Promos      repository.PromoRepository
	Commissions repository.CommissionRepository
	TxLog       repository.TransactionRepository
	Gifts       repository.GiftRepository
	Provisioner provisioning.Client
	Notifier    notify.Notifier
	Settings    SnapshotProvider
}

// NewService creates the orchestrator.
func NewService(d Deps) *Service {
	return &Service{
		guard:       d.Guard,
		users:       d.Users,
		creds:       d.Credentials,
		catalog:     d.Catalog,
		promos:      d.Promos,
		commissions: d.Commissions,
		txlog:       d.TxLog,
		gifts:       d.Gifts,
		prov:        d.Provisioner,
		notifier:    d.Notifier,
		settings:    d.Settings,
	}
}

// Run executes fulfillment for a completed payment. Safe to call
// concurrently and repeatedly with the same payment id: only the first
// caller past the guard does anything observable.
func (s *Service) Run(ctx context.Context, meta *ledger.Metadata) (*Result, error) {
	res := &Result{PaymentID: meta.PaymentID}

	// Inputs are loaded before the claim: a transient settings or user read
	// failure stays retryable instead of consuming the one claim and
	// stranding a paid order.
	snap, err := s.settings.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("fulfillment %s: load settings: %w", meta.PaymentID, err)
	}

	payer, err := s.users.GetByTelegramID(meta.UserID)
	if err != nil {
		return nil, fmt.Errorf("fulfillment %s: load payer: %w", meta.PaymentID, err)
	}

	first, err := s.guard.Claim(meta.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("fulfillment claim %s: %w", meta.PaymentID, err)
	}
	if !first {
		log.Infof("[Fulfillment] duplicate delivery for %s, skipping", meta.PaymentID)
		res.Duplicate = true
		return res, nil
	}

	switch meta.Action {
	case ledger.ActionTopUp:
		s.runTopUp(ctx, snap, payer, meta, res)
	case ledger.ActionGift:
		s.runGift(ctx, snap, payer, meta, res)
	case ledger.ActionNew, ledger.ActionExtend:
		s.runPurchase(ctx, snap, payer, meta, res)
	default:
		return res, fmt.Errorf("fulfillment %s: unknown action %q", meta.PaymentID, meta.Action)
	}

	if failed := res.FailedEffects(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = string(f)
		}
		s.alertOperators(ctx, fmt.Sprintf("payment %s fulfilled with degraded side effects: %s", meta.PaymentID, strings.Join(names, ", ")))
	}
	return res, nil
}

// runTopUp credits the stored balance. The referral reward is skipped when
// the payment method is the balance itself, closing the self-funding loop.
func (s *Service) runTopUp(ctx context.Context, snap *settings.Snapshot, payer *models.User, meta *ledger.Metadata, res *Result) {
	if err := s.users.AddToBalance(meta.UserID, meta.Amount); err != nil {
		res.record(EffectBalance, err, "")
		s.alertOperators(ctx, fmt.Sprintf("payment %s claimed but balance credit failed: %v; resolve manually", meta.PaymentID, err))
		return
	}
	res.Fulfilled = true
	res.record(EffectBalance, nil, meta.Amount.StringFixed(2))

	s.logTransaction(meta, payer, res)
	s.payReferral(snap, payer, meta, res)
	s.notifyPayer(ctx, meta, res, fmt.Sprintf("Balance topped up by %s %s.", meta.Amount.StringFixed(2), snap.Currency))
}

// runGift defers credential creation until the payer supplies a recipient;
// the paid order is parked as a recoverable gift token.
func (s *Service) runGift(ctx context.Context, snap *settings.Snapshot, payer *models.User, meta *ledger.Metadata, res *Result) {
	plan, err := s.catalog.GetPlan(meta.PlanID)
	if err != nil {
		res.record(EffectGiftPending, err, "")
		s.alertOperators(ctx, fmt.Sprintf("payment %s claimed but gift plan %d unknown: %v; resolve manually", meta.PaymentID, meta.PlanID, err))
		return
	}

	gift := &models.GiftToken{
		Token:     uuid.NewString(),
		PayerID:   meta.UserID,
		PaymentID: meta.PaymentID,
		HostName:  meta.HostName,
		PlanID:    plan.ID,
		Days:      plan.ResolveDays(),
		Status:    models.GiftStatusPending,
	}
	if err := s.gifts.Create(gift); err != nil {
		res.record(EffectGiftPending, err, "")
		s.alertOperators(ctx, fmt.Sprintf("payment %s claimed but gift record failed: %v; resolve manually", meta.PaymentID, err))
		return
	}
	res.Fulfilled = true
	res.record(EffectGiftPending, nil, gift.Token)

	s.logTransaction(meta, payer, res)
	s.runPostPurchase(ctx, snap, payer, meta, res)
	s.notifyPayer(ctx, meta, res, "Gift paid. Send the recipient's handle to issue the key.")
}

// runPurchase provisions or extends a credential, then runs the
// money-moving bookkeeping. On provisioning failure nothing downstream
// runs: the payer is promised a refund when real money was charged.
func (s *Service) runPurchase(ctx context.Context, snap *settings.Snapshot, payer *models.User, meta *ledger.Metadata, res *Result) {
	var (
		existing *models.Credential
		plan     *models.Plan
		host     *models.Host
		err      error
	)

	if meta.Action == ledger.ActionExtend {
		existing, err = s.creds.GetByID(meta.CredentialID)
		if err == nil {
			host, err = s.catalog.GetHost(existing.HostName)
		}
	} else {
		host, err = s.catalog.GetHost(meta.HostName)
	}
	if err == nil && meta.PlanID != 0 {
		plan, err = s.catalog.GetPlan(meta.PlanID)
	}
	if err != nil {
		res.record(EffectProvision, err, "")
		s.failProvisioning(ctx, meta, res, err)
		return
	}

	days := 30
	if plan != nil {
		days = plan.ResolveDays()
	}

	identity := ""
	if existing != nil {
		identity = existing.Identity
	} else {
		identity = newIdentity(meta.UserID, host.Name)
	}

	params := provisioning.CreateParams{
		Identity:  identity,
		DaysToAdd: days,
	}
	if plan != nil {
		params.TrafficLimitBytes = plan.TrafficLimitBytes
		params.DeviceLimit = plan.DeviceLimit
	}
	if existing != nil && existing.ExpiresAt.After(time.Now()) {
		// Extending an unexpired key adds on top of the current expiry.
		expiry := existing.ExpiresAt.AddDate(0, 0, days)
		params.AbsoluteExpiry = &expiry
	}

	provCtx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()
	remote, err := s.prov.CreateOrExtend(provCtx, host, params)
	if err != nil {
		res.record(EffectProvision, err, "")
		s.failProvisioning(ctx, meta, res, err)
		return
	}
	res.record(EffectProvision, nil, remote.RemoteUUID)

	cred, err := s.persistCredential(existing, payer, host, plan, identity, remote, days)
	if err != nil {
		// The remote side is provisioned but the local row is not. This is
		// the partial-fulfillment gap: alert, never retry automatically.
		res.record(EffectAuditLog, err, "credential row")
		s.alertOperators(ctx, fmt.Sprintf("payment %s provisioned remotely but local credential write failed: %v; resolve manually", meta.PaymentID, err))
		return
	}
	res.Fulfilled = true
	res.Credential = cred

	if err := s.users.RecordPurchase(meta.UserID, meta.Amount, monthsFor(plan)); err != nil {
		res.record(EffectAuditLog, err, "purchase stats")
	}

	s.logTransaction(meta, payer, res)
	s.runPostPurchase(ctx, snap, payer, meta, res)
	s.notifyPayer(ctx, meta, res, fmt.Sprintf("Your key is ready. It is valid until %s.", cred.ExpiresAt.Format("2006-01-02")))
}

// runPostPurchase executes the ordered bookkeeping shared by purchases and
// gifts: referral reward, promo redemption, partner commission.
func (s *Service) runPostPurchase(ctx context.Context, snap *settings.Snapshot, payer *models.User, meta *ledger.Metadata, res *Result) {
	s.payReferral(snap, payer, meta, res)
	s.redeemPromo(ctx, meta, res)
	s.accrueCommission(snap, meta, res)
}

func (s *Service) payReferral(snap *settings.Snapshot, payer *models.User, meta *ledger.Metadata, res *Result) {
	if meta.PaymentMethod == ledger.PaymentMethodBalance {
		return
	}
	reward := referralReward(snap, payer, meta.Amount)
	if !reward.IsPositive() {
		return
	}
	if err := s.users.AddToReferralBalance(*payer.ReferredBy, reward); err != nil {
		res.record(EffectReferral, err, "")
		return
	}
	if snap.ReferralRewardType == settings.RewardFixedStart {
		if err := s.users.SetStartBonusPaid(payer.TelegramID); err != nil {
			res.record(EffectReferral, err, "start bonus flag")
			return
		}
	}
	res.record(EffectReferral, nil, reward.StringFixed(2))
}

func (s *Service) redeemPromo(ctx context.Context, meta *ledger.Metadata, res *Result) {
	if meta.PromoCode == "" {
		return
	}
	promo, err := s.promos.Redeem(meta.PromoCode, meta.UserID, meta.PaymentID, meta.PromoDiscount)
	if errors.Is(err, repository.ErrPromoNotRedeemable) {
		// The sale stands; the exhausted/expired code is only reported.
		res.record(EffectPromo, nil, "not redeemable")
		s.alertOperators(ctx, fmt.Sprintf("promo %s used on payment %s but was exhausted or expired", meta.PromoCode, meta.PaymentID))
		return
	}
	if err != nil {
		res.record(EffectPromo, err, "")
		return
	}
	detail := "redeemed"
	if promo.TotalLimitReached() {
		if err := s.promos.Deactivate(meta.PromoCode); err != nil {
			res.record(EffectPromo, err, "deactivate")
			return
		}
		detail = "redeemed, code deactivated"
	}
	res.record(EffectPromo, nil, detail)
}

func (s *Service) accrueCommission(snap *settings.Snapshot, meta *ledger.Metadata, res *Result) {
	if meta.InstanceID == 0 || !isCardLikeMethod(meta.PaymentMethod) {
		return
	}
	percent := snap.FranchisePercent
	if instance, err := s.commissions.GetInstance(meta.InstanceID); err == nil && instance.CommissionPercent.IsPositive() {
		percent = instance.CommissionPercent
	}
	if !percent.IsPositive() || !meta.Amount.IsPositive() {
		return
	}
	commission := meta.Amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
	created, err := s.commissions.Accrue(&models.PartnerCommission{
		InstanceID:    meta.InstanceID,
		PaymentID:     meta.PaymentID,
		UserID:        meta.UserID,
		Amount:        meta.Amount,
		Percent:       percent,
		Commission:    commission,
		PaymentMethod: meta.PaymentMethod,
	})
	if err != nil {
		res.record(EffectCommission, err, "")
		return
	}
	detail := commission.StringFixed(2)
	if !created {
		detail = "already accrued"
	}
	res.record(EffectCommission, nil, detail)
}

// failProvisioning handles a failed create/extend: classify, notify the
// payer (with a refund promise when real money moved) and the operators
// with the raw detail. The claim stays consumed; redelivery is a no-op.
func (s *Service) failProvisioning(ctx context.Context, meta *ledger.Metadata, res *Result, err error) {
	code := ClassifyProvisioningError(err)
	res.ErrorCode = code

	msg := fmt.Sprintf("Your order could not be completed (%s).", code)
	if meta.PaymentMethod != ledger.PaymentMethodBalance {
		msg += " Your payment will be refunded."
	}
	s.notifyPayer(ctx, meta, res, msg)
	s.alertOperators(ctx, fmt.Sprintf("provisioning failed for payment %s (%s): %v", meta.PaymentID, code, err))
}

func (s *Service) persistCredential(existing *models.Credential, payer *models.User, host *models.Host, plan *models.Plan, identity string, remote *provisioning.Result, days int) (*models.Credential, error) {
	if existing != nil {
		existing.RemoteUUID = remote.RemoteUUID
		existing.ExpiresAt = remote.ExpiresAt
		existing.SubscriptionURL = remote.SubscriptionURL
		existing.MissingSince = nil
		existing.OriginSource = models.OriginExtend
		if plan != nil {
			existing.OriginPlanID = plan.ID
			existing.OriginPlanName = plan.Name
		}
		existing.OriginDays = days
		if err := s.creds.Update(existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	cred := &models.Credential{
		UserID:          payer.TelegramID,
		HostName:        host.Name,
		RemoteUUID:      remote.RemoteUUID,
		Identity:        identity,
		SubscriptionURL: remote.SubscriptionURL,
		ExpiresAt:       remote.ExpiresAt,
		OriginSource:    models.OriginPurchase,
		OriginDays:      days,
	}
	if plan != nil {
		cred.OriginPlanID = plan.ID
		cred.OriginPlanName = plan.Name
		cred.Comment = plan.DurationLabel()
	}
	if err := s.creds.Create(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *Service) logTransaction(meta *ledger.Metadata, payer *models.User, res *Result) {
	err := s.txlog.Log(&models.Transaction{
		UserID:        meta.UserID,
		Username:      payer.Username,
		PaymentID:     meta.PaymentID,
		Status:        models.PendingStatusPaid,
		Amount:        meta.Amount,
		CurrencyName:  meta.Currency,
		PaymentMethod: meta.PaymentMethod,
		Metadata:      encodeForLog(meta),
	})
	res.record(EffectAuditLog, err, "")
}

func (s *Service) notifyPayer(ctx context.Context, meta *ledger.Metadata, res *Result, text string) {
	err := s.notifier.NotifyPayer(ctx, meta.UserID, text)
	if err != nil {
		log.Warnf("[Fulfillment] payer notification for %s failed: %v", meta.PaymentID, err)
	}
	res.record(EffectNotify, err, "")

	if meta.ChatMessageID != 0 {
		if err := s.notifier.DeleteMessage(ctx, meta.UserID, meta.ChatMessageID); err != nil {
			log.Warnf("[Fulfillment] stale invoice message for %s not deleted: %v", meta.PaymentID, err)
		}
	}
}

func (s *Service) alertOperators(ctx context.Context, text string) {
	if err := s.notifier.NotifyOperators(ctx, text); err != nil {
		log.Errorf("[Fulfillment] operator alert failed: %v", err)
	}
}

func newIdentity(userID int64, hostName string) string {
	short := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("u%d-%s@%s.key", userID, short, strings.ToLower(models.NormalizeHostName(hostName)))
}

func monthsFor(plan *models.Plan) int {
	if plan == nil {
		return 0
	}
	if plan.Months > 0 {
		return plan.Months
	}
	return plan.ResolveDays() / 30
}

func encodeForLog(meta *ledger.Metadata) string {
	encoded, err := meta.Encode()
	if err != nil {
		return ""
	}
	return encoded
}
