package repository

import (
	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// transactionRepository implements TransactionRepository on GORM.
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a transaction log repository backed by GORM.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Log(tx *models.Transaction) error {
	return r.db.Create(tx).Error
}

func (r *transactionRepository) ListRecent(limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 15
	}
	var txs []models.Transaction
	err := r.db.Order("created_at DESC, id DESC").Limit(limit).Find(&txs).Error
	return txs, err
}
