package repository

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// ErrInsufficientBalance is returned when a deduction would overdraw the
// stored balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// userRepository implements UserRepository on GORM.
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByTelegramID(telegramID int64) (*models.User, error) {
	var user models.User
	if err := r.db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) RegisterIfNotExists(telegramID int64, username string, referredBy *int64) (*models.User, error) {
	return models.RegisterUserIfNotExists(r.db, telegramID, username, referredBy)
}

func (r *userRepository) AddToBalance(telegramID int64, amount decimal.Decimal) error {
	return r.db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

func (r *userRepository) DeductFromBalance(telegramID int64, amount decimal.Decimal) error {
	res := r.db.Model(&models.User{}).
		Where("telegram_id = ? AND balance >= ?", telegramID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *userRepository) AddToReferralBalance(telegramID int64, amount decimal.Decimal) error {
	return r.db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("referral_balance", gorm.Expr("referral_balance + ?", amount)).Error
}

func (r *userRepository) RecordPurchase(telegramID int64, spent decimal.Decimal, months int) error {
	return r.db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			"total_spent":      gorm.Expr("total_spent + ?", spent),
			"months_purchased": gorm.Expr("months_purchased + ?", months),
		}).Error
}

func (r *userRepository) SetTrialUsed(telegramID int64) error {
	return r.db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("trial_used", true).Error
}

func (r *userRepository) SetStartBonusPaid(telegramID int64) error {
	return r.db.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("start_bonus_paid", true).Error
}
