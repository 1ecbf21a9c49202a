package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/keyshop-app/keyshop/app/controllers"
	"github.com/keyshop-app/keyshop/internal/pkg/constants"
	"github.com/keyshop-app/keyshop/internal/pkg/middleware"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerWebhookRoutes(app)
	h.registerPaymentRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

// Webhooks are exempt from rate limiting: a provider redelivery burst after
// downtime is the normal recovery path, not abuse.
func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	app.Post(constants.WebhookRoute, controllers.HandlePaymentWebhook)
}

func (h HttpRouter) registerPaymentRoutes(app *fiber.App) {
	payments := app.Group(constants.PaymentsRoute, limiter.New(limiter.Config{Max: 60}))
	payments.Post(constants.PaymentIntentRoute, controllers.HandleCreatePaymentIntent)
	payments.Post(constants.PaymentBalanceRoute, controllers.HandleBalancePayment)
	// Registered before the :id routes so "promo" is not swallowed by the
	// payment-id parameter.
	payments.Get(constants.PaymentPromoRoute, controllers.HandleCheckPromo)
	payments.Get(constants.PaymentStatusRoute, controllers.HandleGetPaymentStatus)

	keys := app.Group(constants.KeysRoute, limiter.New(limiter.Config{Max: 10}))
	keys.Post(constants.KeysTrialRoute, controllers.HandleTrialKey)
	keys.Post(constants.KeysGiftRedeemRoute, controllers.HandleRedeemGift)
	keys.Get(constants.KeysPendingGiftsRoute, controllers.HandleListPendingGifts)
	keys.Get(constants.KeysByUserRoute, controllers.HandleListUserKeys)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	admin := app.Group(constants.AdminRoute, middleware.RequireAdminToken)
	admin.Post(constants.AdminReconcileRoute, controllers.HandleAdminReconcile)
	admin.Post(constants.AdminReconcileOwnerRoute, controllers.HandleAdminReconcileOwner)
	admin.Post(constants.AdminSweepExpiredRoute, controllers.HandleAdminSweepExpired)
	admin.Get(constants.AdminStatsRoute, controllers.HandleAdminStats)
	admin.Get(constants.AdminJobsRoute, controllers.HandleAdminJobStats)
	admin.Get(constants.AdminSettingRoute, controllers.HandleAdminGetSetting)
	admin.Put(constants.AdminSettingRoute, controllers.HandleAdminSetSetting)
}
