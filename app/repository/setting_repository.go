package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/keyshop-app/keyshop/app/models"
)

// settingRepository implements SettingRepository on GORM.
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a setting repository backed by GORM.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) GetValue(key string) (string, error) {
	var setting models.Setting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (r *settingRepository) SetValue(key, value string) error {
	var setting models.Setting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(&models.Setting{Key: key, Value: value}).Error
	}
	if err != nil {
		return err
	}
	setting.Value = value
	return r.db.Save(&setting).Error
}

func (r *settingRepository) GetAll() (map[string]string, error) {
	var settings []models.Setting
	if err := r.db.Find(&settings).Error; err != nil {
		return nil, err
	}
	all := make(map[string]string, len(settings))
	for _, s := range settings {
		all[s.Key] = s.Value
	}
	return all, nil
}
