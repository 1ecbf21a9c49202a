package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
	"github.com/keyshop-app/keyshop/internal/pkg/settings"
)

// --- fakes ---

type fakeGuard struct {
	claimed map[string]bool
	err     error
}

func (g *fakeGuard) Claim(paymentID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.claimed == nil {
		g.claimed = map[string]bool{}
	}
	if g.claimed[paymentID] {
		return false, nil
	}
	g.claimed[paymentID] = true
	return true, nil
}

type fakeUsers struct {
	users           map[int64]*models.User
	balanceAdds     []decimal.Decimal
	referralAdds    map[int64]decimal.Decimal
	purchases       int
	startBonusPaid  []int64
	trialStamped    []int64
	registered      []int64
	balanceAddErr   error
}

func newFakeUsers(u ...*models.User) *fakeUsers {
	f := &fakeUsers{users: map[int64]*models.User{}, referralAdds: map[int64]decimal.Decimal{}}
	for _, user := range u {
		f.users[user.TelegramID] = user
	}
	return f
}

func (f *fakeUsers) GetByTelegramID(id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}
func (f *fakeUsers) RegisterIfNotExists(id int64, username string, ref *int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	u := &models.User{TelegramID: id, Username: username, ReferredBy: ref}
	f.users[id] = u
	f.registered = append(f.registered, id)
	return u, nil
}
func (f *fakeUsers) AddToBalance(id int64, amount decimal.Decimal) error {
	if f.balanceAddErr != nil {
		return f.balanceAddErr
	}
	f.balanceAdds = append(f.balanceAdds, amount)
	return nil
}
func (f *fakeUsers) DeductFromBalance(id int64, amount decimal.Decimal) error { return nil }
func (f *fakeUsers) AddToReferralBalance(id int64, amount decimal.Decimal) error {
	f.referralAdds[id] = f.referralAdds[id].Add(amount)
	return nil
}
func (f *fakeUsers) RecordPurchase(id int64, spent decimal.Decimal, months int) error {
	f.purchases++
	return nil
}
func (f *fakeUsers) SetTrialUsed(id int64) error {
	f.trialStamped = append(f.trialStamped, id)
	if u, ok := f.users[id]; ok {
		u.TrialUsed = true
	}
	return nil
}
func (f *fakeUsers) SetStartBonusPaid(id int64) error {
	f.startBonusPaid = append(f.startBonusPaid, id)
	return nil
}

type fakeCreds struct {
	byID    map[uint]*models.Credential
	created []*models.Credential
	updated []*models.Credential
}

func (f *fakeCreds) Create(c *models.Credential) error {
	c.ID = uint(len(f.created) + 1)
	f.created = append(f.created, c)
	return nil
}
func (f *fakeCreds) GetByID(id uint) (*models.Credential, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, errors.New("credential not found")
	}
	return c, nil
}
func (f *fakeCreds) ListByUser(userID int64) ([]models.Credential, error) { return nil, nil }
func (f *fakeCreds) ListAll() ([]models.Credential, error)                { return nil, nil }
func (f *fakeCreds) ListExpiredBefore(cutoff time.Time) ([]models.Credential, error) {
	return nil, nil
}
func (f *fakeCreds) Update(c *models.Credential) error {
	f.updated = append(f.updated, c)
	return nil
}
func (f *fakeCreds) SetMissingSince(id uint, at *time.Time) error { return nil }
func (f *fakeCreds) Delete(id uint) error                         { return nil }

type fakeCatalog struct {
	hosts map[string]*models.Host
	plans map[uint]*models.Plan
}

func (f *fakeCatalog) GetHost(name string) (*models.Host, error) {
	h, ok := f.hosts[name]
	if !ok {
		return nil, errors.New("host not found")
	}
	return h, nil
}
func (f *fakeCatalog) ListHosts() ([]models.Host, error) { return nil, nil }
func (f *fakeCatalog) GetPlan(id uint) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, errors.New("plan not found")
	}
	return p, nil
}
func (f *fakeCatalog) ListActivePlans(hostName string) ([]models.Plan, error) { return nil, nil }

type fakePromos struct {
	promo       *models.PromoCode
	redeemErr   error
	redeemed    []string
	deactivated []string
}

func (f *fakePromos) GetByCode(code string) (*models.PromoCode, error) { return f.promo, nil }
func (f *fakePromos) Redeem(code string, userID int64, orderID string, applied decimal.Decimal) (*models.PromoCode, error) {
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	f.redeemed = append(f.redeemed, orderID)
	f.promo.UsedTotal++
	return f.promo, nil
}
func (f *fakePromos) Deactivate(code string) error {
	f.deactivated = append(f.deactivated, code)
	return nil
}
func (f *fakePromos) CountUserRedemptions(code string, userID int64) (int64, error) { return 0, nil }

type fakeCommissions struct {
	instance *models.ManagedInstance
	accrued  []*models.PartnerCommission
	seen     map[string]bool
}

func (f *fakeCommissions) GetInstance(id uint) (*models.ManagedInstance, error) {
	if f.instance == nil {
		return nil, errors.New("instance not found")
	}
	return f.instance, nil
}
func (f *fakeCommissions) Accrue(entry *models.PartnerCommission) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := entry.PaymentID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.accrued = append(f.accrued, entry)
	return true, nil
}

type fakeTxlog struct {
	entries []*models.Transaction
}

func (f *fakeTxlog) Log(tx *models.Transaction) error {
	f.entries = append(f.entries, tx)
	return nil
}
func (f *fakeTxlog) ListRecent(limit int) ([]models.Transaction, error) { return nil, nil }

type fakeGifts struct {
	created []*models.GiftToken
	byToken map[string]*models.GiftToken
	updated []*models.GiftToken
}

func (f *fakeGifts) Create(g *models.GiftToken) error {
	g.ID = uint(len(f.created) + 1)
	f.created = append(f.created, g)
	if f.byToken == nil {
		f.byToken = map[string]*models.GiftToken{}
	}
	f.byToken[g.Token] = g
	return nil
}
func (f *fakeGifts) GetByToken(token string) (*models.GiftToken, error) {
	return f.byToken[token], nil
}
func (f *fakeGifts) ListPendingByPayer(payerID int64) ([]models.GiftToken, error) {
	var out []models.GiftToken
	for _, g := range f.byToken {
		if g.PayerID == payerID && g.Status == models.GiftStatusPending {
			out = append(out, *g)
		}
	}
	return out, nil
}
func (f *fakeGifts) Redeem(token string, recipientID int64) (bool, error) {
	g, ok := f.byToken[token]
	if !ok || g.Status != models.GiftStatusPending {
		return false, nil
	}
	now := time.Now()
	g.Status = models.GiftStatusRedeemed
	g.RecipientTelegramID = &recipientID
	g.RedeemedAt = &now
	return true, nil
}
func (f *fakeGifts) Update(g *models.GiftToken) error {
	f.updated = append(f.updated, g)
	if f.byToken == nil {
		f.byToken = map[string]*models.GiftToken{}
	}
	f.byToken[g.Token] = g
	return nil
}

type fakeProvisioner struct {
	result *provisioning.Result
	err    error
	calls  []provisioning.CreateParams
}

func (f *fakeProvisioner) CreateOrExtend(ctx context.Context, host *models.Host, params provisioning.CreateParams) (*provisioning.Result, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
func (f *fakeProvisioner) Exists(ctx context.Context, host *models.Host, identity string) (provisioning.Presence, error) {
	return provisioning.PresenceUnknown, nil
}
func (f *fakeProvisioner) Delete(ctx context.Context, host *models.Host, identity string) (bool, error) {
	return false, nil
}

type fakeNotifier struct {
	payerMsgs    []string
	operatorMsgs []string
	deleted      []int64
}

func (f *fakeNotifier) NotifyPayer(ctx context.Context, id int64, text string) error {
	f.payerMsgs = append(f.payerMsgs, text)
	return nil
}
func (f *fakeNotifier) NotifyOperators(ctx context.Context, text string) error {
	f.operatorMsgs = append(f.operatorMsgs, text)
	return nil
}
func (f *fakeNotifier) DeleteMessage(ctx context.Context, id int64, messageID int64) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

type fakeSettings struct {
	snap *settings.Snapshot
	err  error
}

func (f *fakeSettings) Snapshot() (*settings.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

// --- fixtures ---

type fixture struct {
	svc         *Service
	guard       *fakeGuard
	users       *fakeUsers
	creds       *fakeCreds
	promos      *fakePromos
	commissions *fakeCommissions
	txlog       *fakeTxlog
	gifts       *fakeGifts
	prov        *fakeProvisioner
	notifier    *fakeNotifier
	settings    *fakeSettings
}

func newFixture(t *testing.T, payer *models.User) *fixture {
	t.Helper()
	f := &fixture{
		guard: &fakeGuard{},
		users: newFakeUsers(payer),
		creds: &fakeCreds{byID: map[uint]*models.Credential{}},
		promos: &fakePromos{promo: &models.PromoCode{
			Code: "SALE", IsActive: true, UsageLimitTotal: 10,
		}},
		commissions: &fakeCommissions{},
		txlog:       &fakeTxlog{},
		gifts:       &fakeGifts{},
		prov: &fakeProvisioner{result: &provisioning.Result{
			RemoteUUID:      "uuid-1",
			ExpiresAt:       time.Now().AddDate(0, 1, 0),
			SubscriptionURL: "https://sub.example/u1",
		}},
		notifier: &fakeNotifier{},
		settings: &fakeSettings{snap: defaultSnapshot()},
	}
	catalog := &fakeCatalog{
		hosts: map[string]*models.Host{"de-1": {Name: "de-1", PanelURL: "https://panel.example"}},
		plans: map[uint]*models.Plan{7: {ID: 7, Name: "1 month", Months: 1, Price: decimal.NewFromInt(199)}},
	}
	f.svc = NewService(Deps{
		Guard:       f.guard,
		Users:       f.users,
		Credentials: f.creds,
		Catalog:     catalog,
		Promos:      f.promos,
		Commissions: f.commissions,
		TxLog:       f.txlog,
		Gifts:       f.gifts,
		Provisioner: f.prov,
		Notifier:    f.notifier,
		Settings:    f.settings,
	})
	return f
}

func defaultSnapshot() *settings.Snapshot {
	return &settings.Snapshot{
		ReferralsEnabled:   true,
		ReferralRewardType: settings.RewardPercent,
		ReferralPercent:    decimal.NewFromInt(10),
		FranchisePercent:   decimal.NewFromInt(10),
		Currency:           "RUB",
	}
}

func newMeta(action ledger.Action) *ledger.Metadata {
	m := &ledger.Metadata{
		PaymentID:     "pay-1",
		UserID:        100,
		Action:        action,
		Amount:        decimal.NewFromInt(199),
		Currency:      "RUB",
		PaymentMethod: "yookassa",
	}
	switch action {
	case ledger.ActionNew, ledger.ActionGift:
		m.HostName = "de-1"
		m.PlanID = 7
	case ledger.ActionExtend:
		m.CredentialID = 1
	}
	return m
}

// --- tests ---

func TestRunNewPurchase(t *testing.T) {
	referrer := int64(55)
	f := newFixture(t, &models.User{TelegramID: 100, ReferredBy: &referrer})

	res, err := f.svc.Run(context.Background(), newMeta(ledger.ActionNew))
	require.NoError(t, err)

	assert.True(t, res.Fulfilled)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Credential)
	assert.Equal(t, "uuid-1", res.Credential.RemoteUUID)
	assert.Equal(t, models.OriginPurchase, res.Credential.OriginSource)
	assert.Equal(t, "1 month", res.Credential.OriginPlanName)
	assert.Equal(t, "1 month", res.Credential.Comment)
	require.Len(t, f.creds.created, 1)

	// 10% referral reward landed with the referrer.
	assert.True(t, f.users.referralAdds[referrer].Equal(decimal.RequireFromString("19.90")))

	require.Len(t, f.txlog.entries, 1)
	assert.Equal(t, "pay-1", f.txlog.entries[0].PaymentID)
	assert.NotEmpty(t, f.notifier.payerMsgs)
}

func TestRunDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	meta := newMeta(ledger.ActionNew)

	first, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	require.True(t, first.Fulfilled)

	second, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Fulfilled)

	assert.Len(t, f.creds.created, 1)
	assert.Len(t, f.txlog.entries, 1)
	assert.Len(t, f.prov.calls, 1)
}

func TestRunInputLoadFailureLeavesClaimAvailable(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	meta := newMeta(ledger.ActionNew)

	f.settings.err = errors.New("settings store down")
	_, err := f.svc.Run(context.Background(), meta)
	require.Error(t, err)
	assert.Empty(t, f.guard.claimed)

	// The transient failure clears and a redelivery still fulfills: the
	// claim was not consumed by the failed attempt.
	f.settings.err = nil
	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Fulfilled)
	assert.Len(t, f.prov.calls, 1)
}

func TestRunProvisioningFailureStopsPipeline(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.prov.err = errors.New("panel: status 409: user already exists")

	meta := newMeta(ledger.ActionNew)
	meta.PromoCode = "SALE"

	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)

	assert.False(t, res.Fulfilled)
	assert.Equal(t, CodeIdentityTaken, res.ErrorCode)
	assert.Empty(t, f.creds.created)
	assert.Empty(t, f.txlog.entries)
	assert.Empty(t, f.promos.redeemed, "promo must not burn on a failed order")

	// Payer is promised a refund, operators get the raw detail.
	require.NotEmpty(t, f.notifier.payerMsgs)
	assert.Contains(t, f.notifier.payerMsgs[0], "refunded")
	require.NotEmpty(t, f.notifier.operatorMsgs)
	assert.Contains(t, f.notifier.operatorMsgs[0], "pay-1")
}

func TestRunProvisioningFailureBalanceMethodNoRefundPromise(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.prov.err = errors.New("dial tcp: connection refused")

	meta := newMeta(ledger.ActionNew)
	meta.PaymentMethod = ledger.PaymentMethodBalance

	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, CodeUpstreamError, res.ErrorCode)
	require.NotEmpty(t, f.notifier.payerMsgs)
	assert.NotContains(t, f.notifier.payerMsgs[0], "refunded")
}

func TestRunTopUp(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})

	meta := newMeta(ledger.ActionTopUp)
	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)

	assert.True(t, res.Fulfilled)
	require.Len(t, f.users.balanceAdds, 1)
	assert.True(t, f.users.balanceAdds[0].Equal(meta.Amount))
	assert.Len(t, f.txlog.entries, 1)
	assert.Empty(t, f.prov.calls)
}

func TestRunTopUpWithBalanceMethodSkipsReferral(t *testing.T) {
	referrer := int64(55)
	f := newFixture(t, &models.User{TelegramID: 100, ReferredBy: &referrer})

	meta := newMeta(ledger.ActionTopUp)
	meta.PaymentMethod = ledger.PaymentMethodBalance

	_, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.Empty(t, f.users.referralAdds, "balance-funded payments never pay referral rewards")
}

func TestRunExtendKeepsIdentityAndClearsMissing(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	missing := time.Now().Add(-time.Hour)
	f.creds.byID[1] = &models.Credential{
		ID:           1,
		UserID:       100,
		HostName:     "de-1",
		Identity:     "u100-abc@de-1.key",
		ExpiresAt:    time.Now().AddDate(0, 0, 10),
		MissingSince: &missing,
	}

	meta := newMeta(ledger.ActionExtend)
	meta.PlanID = 7

	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)

	require.True(t, res.Fulfilled)
	require.Len(t, f.creds.updated, 1)
	updated := f.creds.updated[0]
	assert.Equal(t, "u100-abc@de-1.key", updated.Identity)
	assert.Nil(t, updated.MissingSince, "a paid extend clears the missing flag")
	assert.Equal(t, models.OriginExtend, updated.OriginSource)

	require.Len(t, f.prov.calls, 1)
	require.NotNil(t, f.prov.calls[0].AbsoluteExpiry, "unexpired keys extend from current expiry")
}

func TestRunGiftDefersProvisioning(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})

	res, err := f.svc.Run(context.Background(), newMeta(ledger.ActionGift))
	require.NoError(t, err)

	assert.True(t, res.Fulfilled)
	assert.Empty(t, f.prov.calls, "gift keys are issued at redemption, not payment")
	require.Len(t, f.gifts.created, 1)
	gift := f.gifts.created[0]
	assert.Equal(t, models.GiftStatusPending, gift.Status)
	assert.Equal(t, "pay-1", gift.PaymentID)
	assert.NotEmpty(t, gift.Token)
}

func TestRunPromoRedeemAndAutoDeactivate(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.promos.promo.UsageLimitTotal = 1

	meta := newMeta(ledger.ActionNew)
	meta.PromoCode = "SALE"

	_, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)

	assert.Equal(t, []string{"pay-1"}, f.promos.redeemed)
	assert.Equal(t, []string{"SALE"}, f.promos.deactivated)
}

func TestRunPromoNotRedeemableKeepsSale(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.promos.redeemErr = repository.ErrPromoNotRedeemable

	meta := newMeta(ledger.ActionNew)
	meta.PromoCode = "SALE"

	res, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.True(t, res.Fulfilled, "an exhausted promo never voids a paid order")
	assert.NotEmpty(t, f.notifier.operatorMsgs)
}

func TestRunCommissionAccrual(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.commissions.instance = &models.ManagedInstance{
		ID: 3, CommissionPercent: decimal.NewFromInt(15),
	}

	meta := newMeta(ledger.ActionNew)
	meta.InstanceID = 3

	_, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)

	require.Len(t, f.commissions.accrued, 1)
	entry := f.commissions.accrued[0]
	assert.True(t, entry.Commission.Equal(decimal.RequireFromString("29.85")), "15 percent of 199")
	assert.True(t, entry.Percent.Equal(decimal.NewFromInt(15)))
}

func TestRunCommissionSkippedForBalanceMethod(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	f.commissions.instance = &models.ManagedInstance{ID: 3, CommissionPercent: decimal.NewFromInt(15)}

	meta := newMeta(ledger.ActionNew)
	meta.InstanceID = 3
	meta.PaymentMethod = ledger.PaymentMethodBalance

	_, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.Empty(t, f.commissions.accrued)
}

func TestRunDeletesStaleInvoiceMessage(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})

	meta := newMeta(ledger.ActionTopUp)
	meta.ChatMessageID = 4242

	_, err := f.svc.Run(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, []int64{4242}, f.notifier.deleted)
}

func TestReferralRewardSchemes(t *testing.T) {
	referrer := int64(55)
	payer := &models.User{TelegramID: 100, ReferredBy: &referrer}
	amount := decimal.NewFromInt(500)

	t.Run("percent", func(t *testing.T) {
		snap := defaultSnapshot()
		snap.ReferralPercent = decimal.NewFromInt(7)
		assert.True(t, referralReward(snap, payer, amount).Equal(decimal.NewFromInt(35)))
	})

	t.Run("fixed per purchase", func(t *testing.T) {
		snap := defaultSnapshot()
		snap.ReferralRewardType = settings.RewardFixedPurchase
		snap.ReferralFixedAmount = decimal.NewFromInt(50)
		assert.True(t, referralReward(snap, payer, amount).Equal(decimal.NewFromInt(50)))
	})

	t.Run("start bonus paid once", func(t *testing.T) {
		snap := defaultSnapshot()
		snap.ReferralRewardType = settings.RewardFixedStart
		snap.ReferralStartAmount = decimal.NewFromInt(100)
		assert.True(t, referralReward(snap, payer, amount).Equal(decimal.NewFromInt(100)))

		paid := &models.User{TelegramID: 100, ReferredBy: &referrer, StartBonusPaid: true}
		assert.True(t, referralReward(snap, paid, amount).IsZero())
	})

	t.Run("no referrer", func(t *testing.T) {
		assert.True(t, referralReward(defaultSnapshot(), &models.User{TelegramID: 100}, amount).IsZero())
	})

	t.Run("disabled", func(t *testing.T) {
		snap := defaultSnapshot()
		snap.ReferralsEnabled = false
		assert.True(t, referralReward(snap, payer, amount).IsZero())
	})
}

func TestClassifyProvisioningError(t *testing.T) {
	assert.Equal(t, CodeTimeout, ClassifyProvisioningError(context.DeadlineExceeded))
	assert.Equal(t, CodeIdentityTaken, ClassifyProvisioningError(errors.New("panel: status 409")))
	assert.Equal(t, CodeUpstreamError, ClassifyProvisioningError(errors.New("dial tcp: refused")))
}
