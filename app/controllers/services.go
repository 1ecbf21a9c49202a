package controllers

import (
	"sync"

	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/fulfillment"
	"github.com/keyshop-app/keyshop/internal/pkg/jobqueue"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/notify"
	"github.com/keyshop-app/keyshop/internal/pkg/payments"
	"github.com/keyshop-app/keyshop/internal/pkg/provisioning"
	"github.com/keyshop-app/keyshop/internal/pkg/reconcile"
	"github.com/keyshop-app/keyshop/internal/pkg/settings"
)

// serviceSet bundles the long-lived services the handlers run on. Built
// once on first use from the global repository factory.
type serviceSet struct {
	Ledger     *ledger.Service
	Fulfill    *fulfillment.Service
	Reconciler *reconcile.Reconciler
	Settings   *settings.Store
}

var (
	servicesOnce sync.Once
	servicesInst *serviceSet
)

func services() *serviceSet {
	servicesOnce.Do(func() {
		servicesInst = buildServices(repository.GetGlobalRepositories())
	})
	return servicesInst
}

// InitServices builds the service set, points the job queue workers at it
// and starts the background manager. Called once from main.
func InitServices() {
	s := services()
	jobqueue.Configure(jobqueue.Deps{
		Fulfill:    s.Fulfill,
		Reconciler: s.Reconciler,
		Settings:   s.Settings,
	})
	jobqueue.GetManager().Start()
}

func buildServices(repos *repository.Repositories) *serviceSet {
	store := settings.NewStore(repos.Setting)
	ledgerSvc := ledger.NewService(repos.Ledger)
	panel := provisioning.NewPanelClient()
	notifier := buildNotifier(store)

	fulfillSvc := fulfillment.NewService(fulfillment.Deps{
		Guard:       ledgerSvc,
		Users:       repos.User,
		Credentials: repos.Credential,
		Catalog:     repos.Catalog,
		Promos:      repos.Promo,
		Commissions: repos.Commission,
		TxLog:       repos.Transaction,
		Gifts:       repos.Gift,
		Provisioner: panel,
		Notifier:    notifier,
		Settings:    store,
	})

	return &serviceSet{
		Ledger:     ledgerSvc,
		Fulfill:    fulfillSvc,
		Reconciler: reconcile.New(repos.Credential, repos.Catalog, panel, notifier),
		Settings:   store,
	}
}

func buildNotifier(store *settings.Store) notify.Notifier {
	snap, err := store.Snapshot()
	if err != nil || snap.TelegramBotToken == "" {
		return &notify.LogNotifier{}
	}
	return notify.NewTelegramNotifier(snap.TelegramBotToken, snap.AdminTelegramIDs)
}

// verifierFor builds the provider verifier from the current settings
// snapshot; credentials are operator-editable, so nothing is cached here.
func verifierFor(provider string, snap *settings.Snapshot) payments.Verifier {
	switch provider {
	case payments.MethodCryptoBot:
		return payments.NewCryptoBotVerifier(snap.CryptoBotToken)
	case payments.MethodYooMoney:
		return payments.NewYooMoneyVerifier(snap.YooMoneySecret)
	case payments.MethodYooKassa:
		return payments.NewYooKassaVerifier(snap.YooKassaShopID, snap.YooKassaSecretKey)
	default:
		return nil
	}
}
