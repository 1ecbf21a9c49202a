package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyshop-app/keyshop/app/models"
)

// ErrPromoNotRedeemable is returned by Redeem when the code is inactive,
// expired, or over a usage limit at redemption time.
var ErrPromoNotRedeemable = errors.New("promo code is not redeemable")

// nowFunc is swapped out in tests.
var nowFunc = time.Now

// promoRepository implements PromoRepository on GORM.
type promoRepository struct {
	db *gorm.DB
}

// NewPromoRepository creates a promo repository backed by GORM.
func NewPromoRepository(db *gorm.DB) PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) GetByCode(code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := r.db.Where("code = ?", code).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *promoRepository) Redeem(code string, userID int64, orderID string, applied decimal.Decimal) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&promo).Error; err != nil {
			return err
		}
		if !promo.IsActive || promo.IsExpired(nowFunc()) || promo.TotalLimitReached() {
			return ErrPromoNotRedeemable
		}
		if promo.UsageLimitPerUser > 0 {
			var used int64
			if err := tx.Model(&models.PromoRedemption{}).
				Where("code = ? AND user_id = ?", code, userID).
				Count(&used).Error; err != nil {
				return err
			}
			if used >= int64(promo.UsageLimitPerUser) {
				return ErrPromoNotRedeemable
			}
		}

		// Unique (code, order_id): a redelivered fulfillment is a no-op.
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "code"},
				{Name: "order_id"},
			},
			DoNothing: true,
		}).Create(&models.PromoRedemption{
			Code:          code,
			OrderID:       orderID,
			UserID:        userID,
			AppliedAmount: applied,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		promo.UsedTotal++
		return tx.Model(&models.PromoCode{}).
			Where("code = ?", code).
			Update("used_total", gorm.Expr("used_total + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

func (r *promoRepository) Deactivate(code string) error {
	return r.db.Model(&models.PromoCode{}).
		Where("code = ?", code).
		Update("is_active", false).Error
}

func (r *promoRepository) CountUserRedemptions(code string, userID int64) (int64, error) {
	var count int64
	err := r.db.Model(&models.PromoRedemption{}).
		Where("code = ? AND user_id = ?", code, userID).
		Count(&count).Error
	return count, err
}
