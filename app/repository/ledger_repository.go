package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyshop-app/keyshop/app/models"
)

// ledgerRepository implements LedgerRepository on GORM/MySQL.
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a ledger repository backed by GORM.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) CreateOrRefreshIntent(paymentID string, userID int64, amount decimal.Decimal, currency, metadata string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Refresh only while still pending; a paid row must not be revived.
		res := tx.Model(&models.PendingTransaction{}).
			Where("payment_id = ? AND status = ?", paymentID, models.PendingStatusPending).
			Updates(map[string]interface{}{
				"user_id":    userID,
				"amount":     amount,
				"currency":   currency,
				"metadata":   metadata,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		// Either the row does not exist yet or it is already paid. The
		// conflict clause makes the insert a no-op in the paid case.
		row := models.PendingTransaction{
			PaymentID: paymentID,
			UserID:    userID,
			Amount:    amount,
			Currency:  currency,
			Metadata:  metadata,
			Status:    models.PendingStatusPending,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).Create(&row).Error
	})
}

func (r *ledgerRepository) CompleteIfPending(paymentID string) (*models.PendingTransaction, error) {
	var row models.PendingTransaction
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_id = ? AND status = ?", paymentID, models.PendingStatusPending).
			First(&row).Error; err != nil {
			return err
		}

		res := tx.Model(&models.PendingTransaction{}).
			Where("payment_id = ? AND status = ?", paymentID, models.PendingStatusPending).
			Updates(map[string]interface{}{
				"status":     models.PendingStatusPaid,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			// Lost the race to a concurrent caller.
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *ledgerRepository) GetStatus(paymentID string) (string, error) {
	var row models.PendingTransaction
	err := r.db.Select("status").Where("payment_id = ?", paymentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Status, nil
}

func (r *ledgerRepository) PeekMetadata(paymentID string) (string, error) {
	var row models.PendingTransaction
	err := r.db.Select("metadata").
		Where("payment_id = ? AND status = ?", paymentID, models.PendingStatusPending).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Metadata, nil
}

func (r *ledgerRepository) MostRecentPendingFor(userID int64) (*models.PendingTransaction, error) {
	var row models.PendingTransaction
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.PendingStatusPending).
		Order("updated_at DESC, created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *ledgerRepository) ClaimProcessed(paymentID string) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(&models.ProcessedPayment{PaymentID: paymentID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
