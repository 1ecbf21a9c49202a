package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Repositories bundles every repository the application uses.
type Repositories struct {
	Ledger      LedgerRepository
	Credential  CredentialRepository
	User        UserRepository
	Catalog     CatalogRepository
	Promo       PromoRepository
	Commission  CommissionRepository
	Transaction TransactionRepository
	Setting     SettingRepository
	Gift        GiftRepository
}

// NewRepositories wires every repository onto one DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Ledger:      NewLedgerRepository(db),
		Credential:  NewCredentialRepository(db),
		User:        NewUserRepository(db),
		Catalog:     NewCatalogRepository(db),
		Promo:       NewPromoRepository(db),
		Commission:  NewCommissionRepository(db),
		Transaction: NewTransactionRepository(db),
		Setting:     NewSettingRepository(db),
		Gift:        NewGiftRepository(db),
	}
}

// Factory manages repository instances and ensures they are singletons.
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory.
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// GetRepositories returns a singleton instance of all repositories.
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// Global factory instance.
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory.
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance.
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance.
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
