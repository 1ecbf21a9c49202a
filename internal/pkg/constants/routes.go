package constants

// Static route constants
const (
	WebhookRoute        = "/webhooks/:provider"
	PaymentsRoute       = "/payments"
	PaymentIntentRoute  = "/intent"
	PaymentBalanceRoute = "/balance"
	PaymentStatusRoute  = "/:id/status"
	PaymentPromoRoute   = "/promo/:code"

	KeysRoute             = "/keys"
	KeysTrialRoute        = "/trial"
	KeysGiftRedeemRoute   = "/gift/redeem"
	KeysPendingGiftsRoute = "/gifts/:payerID"
	KeysByUserRoute       = "/:userID"

	AdminRoute               = "/admin"
	AdminReconcileRoute      = "/reconcile"
	AdminReconcileOwnerRoute = "/reconcile/:userID"
	AdminSweepExpiredRoute   = "/keys/sweep-expired"
	AdminStatsRoute          = "/stats"
	AdminJobsRoute           = "/jobs"
	AdminSettingRoute        = "/settings/:key"
)
