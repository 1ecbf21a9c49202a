package repository

import (
	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// catalogRepository implements CatalogRepository on GORM.
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a catalog repository backed by GORM.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetHost(name string) (*models.Host, error) {
	var host models.Host
	err := r.db.Where("name = ?", models.NormalizeHostName(name)).First(&host).Error
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (r *catalogRepository) ListHosts() ([]models.Host, error) {
	var hosts []models.Host
	err := r.db.Order("name ASC").Find(&hosts).Error
	return hosts, err
}

func (r *catalogRepository) GetPlan(id uint) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *catalogRepository) ListActivePlans(hostName string) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.
		Where("host_name = ? AND is_active = ?", models.NormalizeHostName(hostName), true).
		Order("price ASC").
		Find(&plans).Error
	return plans, err
}
