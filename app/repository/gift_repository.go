package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// giftRepository implements GiftRepository on GORM.
type giftRepository struct {
	db *gorm.DB
}

// NewGiftRepository creates a gift repository backed by GORM.
func NewGiftRepository(db *gorm.DB) GiftRepository {
	return &giftRepository{db: db}
}

func (r *giftRepository) Create(gift *models.GiftToken) error {
	return r.db.Create(gift).Error
}

func (r *giftRepository) GetByToken(token string) (*models.GiftToken, error) {
	var gift models.GiftToken
	err := r.db.Where("token = ?", token).First(&gift).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gift, nil
}

func (r *giftRepository) ListPendingByPayer(payerID int64) ([]models.GiftToken, error) {
	var gifts []models.GiftToken
	err := r.db.
		Where("payer_id = ? AND status = ?", payerID, models.GiftStatusPending).
		Order("created_at DESC").
		Find(&gifts).Error
	return gifts, err
}

// Redeem is the gift counterpart of the payment claim: a conditional
// update keyed on the pending status, decided by RowsAffected.
func (r *giftRepository) Redeem(token string, recipientID int64) (bool, error) {
	res := r.db.Model(&models.GiftToken{}).
		Where("token = ? AND status = ?", token, models.GiftStatusPending).
		Updates(map[string]interface{}{
			"status":                models.GiftStatusRedeemed,
			"recipient_telegram_id": recipientID,
			"redeemed_at":           time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *giftRepository) Update(gift *models.GiftToken) error {
	return r.db.Save(gift).Error
}
