package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// credentialRepository implements CredentialRepository on GORM.
type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a credential repository backed by GORM.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Create(cred *models.Credential) error {
	return r.db.Create(cred).Error
}

func (r *credentialRepository) GetByID(id uint) (*models.Credential, error) {
	var cred models.Credential
	if err := r.db.First(&cred, id).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) ListByUser(userID int64) ([]models.Credential, error) {
	var creds []models.Credential
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&creds).Error
	return creds, err
}

func (r *credentialRepository) ListAll() ([]models.Credential, error) {
	var creds []models.Credential
	err := r.db.Order("id ASC").Find(&creds).Error
	return creds, err
}

func (r *credentialRepository) ListExpiredBefore(cutoff time.Time) ([]models.Credential, error) {
	var creds []models.Credential
	err := r.db.Where("expires_at < ?", cutoff).Find(&creds).Error
	return creds, err
}

func (r *credentialRepository) Update(cred *models.Credential) error {
	return r.db.Save(cred).Error
}

func (r *credentialRepository) SetMissingSince(id uint, at *time.Time) error {
	return r.db.Model(&models.Credential{}).
		Where("id = ?", id).
		Update("missing_since", at).Error
}

func (r *credentialRepository) Delete(id uint) error {
	return r.db.Delete(&models.Credential{}, id).Error
}
