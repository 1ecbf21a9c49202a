package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/keyshop-app/keyshop/app/models"
)

// LedgerRepository covers the pending-payment ledger and the fulfillment
// idempotency guard. All status mutation of pending_transactions goes
// through this interface; no other component writes the table.
type LedgerRepository interface {
	// CreateOrRefreshIntent inserts a pending row or, only while the row is
	// still pending, overwrites amount/metadata. A paid row is never revived.
	CreateOrRefreshIntent(paymentID string, userID int64, amount decimal.Decimal, currency, metadata string) error
	// CompleteIfPending atomically flips pending -> paid and returns the row
	// as it stood at completion time. Returns (nil, nil) when the id is
	// unknown, already paid, or lost the race to a concurrent caller.
	CompleteIfPending(paymentID string) (*models.PendingTransaction, error)
	GetStatus(paymentID string) (string, error)
	PeekMetadata(paymentID string) (string, error)
	MostRecentPendingFor(userID int64) (*models.PendingTransaction, error)
	// ClaimProcessed is the insert-if-absent fulfillment guard. True means
	// this is the first claim ever observed for the id.
	ClaimProcessed(paymentID string) (bool, error)
}

// CredentialRepository manages provisioned access keys.
type CredentialRepository interface {
	Create(cred *models.Credential) error
	GetByID(id uint) (*models.Credential, error)
	ListByUser(userID int64) ([]models.Credential, error)
	ListAll() ([]models.Credential, error)
	ListExpiredBefore(cutoff time.Time) ([]models.Credential, error)
	Update(cred *models.Credential) error
	// SetMissingSince writes only the missing_since column so reconciliation
	// cannot clobber a concurrent extend.
	SetMissingSince(id uint, at *time.Time) error
	Delete(id uint) error
}

// UserRepository manages shop customers and their stored balances.
type UserRepository interface {
	GetByTelegramID(telegramID int64) (*models.User, error)
	RegisterIfNotExists(telegramID int64, username string, referredBy *int64) (*models.User, error)
	AddToBalance(telegramID int64, amount decimal.Decimal) error
	// DeductFromBalance fails without mutating when funds are insufficient.
	DeductFromBalance(telegramID int64, amount decimal.Decimal) error
	AddToReferralBalance(telegramID int64, amount decimal.Decimal) error
	RecordPurchase(telegramID int64, spent decimal.Decimal, months int) error
	SetTrialUsed(telegramID int64) error
	SetStartBonusPaid(telegramID int64) error
}

// CatalogRepository reads hosts and plans.
type CatalogRepository interface {
	GetHost(name string) (*models.Host, error)
	ListHosts() ([]models.Host, error)
	GetPlan(id uint) (*models.Plan, error)
	ListActivePlans(hostName string) ([]models.Plan, error)
}

// PromoRepository manages discount codes and their redemptions.
type PromoRepository interface {
	GetByCode(code string) (*models.PromoCode, error)
	// Redeem records a redemption for an order and increments the usage
	// counter; idempotent per (code, order_id).
	Redeem(code string, userID int64, orderID string, applied decimal.Decimal) (*models.PromoCode, error)
	Deactivate(code string) error
	CountUserRedemptions(code string, userID int64) (int64, error)
}

// CommissionRepository accrues franchise commissions.
type CommissionRepository interface {
	GetInstance(id uint) (*models.ManagedInstance, error)
	// Accrue inserts a commission row; returns false when the
	// (instance, payment) pair was already accrued.
	Accrue(entry *models.PartnerCommission) (bool, error)
}

// TransactionRepository writes the append-only payment log.
type TransactionRepository interface {
	Log(tx *models.Transaction) error
	ListRecent(limit int) ([]models.Transaction, error)
}

// SettingRepository reads and writes operator settings.
type SettingRepository interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	GetAll() (map[string]string, error)
}

// GiftRepository manages pending-gift records.
type GiftRepository interface {
	Create(gift *models.GiftToken) error
	GetByToken(token string) (*models.GiftToken, error)
	ListPendingByPayer(payerID int64) ([]models.GiftToken, error)
	// Redeem stamps the recipient onto a pending token. Returns false when
	// the token was already redeemed or canceled; only the true caller may
	// issue the credential.
	Redeem(token string, recipientID int64) (bool, error)
	Update(gift *models.GiftToken) error
}
