package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyshop-app/keyshop/app/models"
)

// commissionRepository implements CommissionRepository on GORM.
type commissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository creates a commission repository backed by GORM.
func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) GetInstance(id uint) (*models.ManagedInstance, error) {
	var instance models.ManagedInstance
	if err := r.db.First(&instance, id).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *commissionRepository) Accrue(entry *models.PartnerCommission) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "instance_id"},
			{Name: "payment_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
