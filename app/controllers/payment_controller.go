package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/fulfillment"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/metrics/counter"
)

type intentRequest struct {
	UserID        int64           `json:"user_id"`
	Action        string          `json:"action"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	HostName      string          `json:"host_name"`
	PlanID        uint            `json:"plan_id"`
	CredentialID  uint            `json:"credential_id"`
	PromoCode     string          `json:"promo_code"`
	PromoDiscount decimal.Decimal `json:"promo_discount"`
	InstanceID    uint            `json:"instance_id"`
	ChatMessageID int64           `json:"chat_message_id"`
}

func (r *intentRequest) toMetadata(paymentID string) *ledger.Metadata {
	return &ledger.Metadata{
		PaymentID:     paymentID,
		UserID:        r.UserID,
		Action:        ledger.Action(r.Action),
		Amount:        r.Amount,
		Currency:      r.Currency,
		PaymentMethod: r.PaymentMethod,
		HostName:      r.HostName,
		PlanID:        r.PlanID,
		CredentialID:  r.CredentialID,
		PromoCode:     r.PromoCode,
		PromoDiscount: r.PromoDiscount,
		InstanceID:    r.InstanceID,
		ChatMessageID: r.ChatMessageID,
	}
}

// HandleCreatePaymentIntent records a pending payment before the user is
// sent to the provider. Calling it again with the same payment id while
// still unpaid refreshes the intent; a paid intent is never touched.
func HandleCreatePaymentIntent(c *fiber.Ctx) error {
	var req intentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed intent payload"})
	}

	paymentID := c.Query("payment_id")
	if paymentID == "" {
		paymentID = uuid.NewString()
	}

	meta := req.toMetadata(paymentID)
	if err := services().Ledger.CreateOrRefreshIntent(meta); err != nil {
		log.Warnf("[Payments] intent %s rejected: %v", paymentID, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_intent", "message": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id": paymentID,
		"status":     "pending",
	})
}

// HandleGetPaymentStatus serves the manual "did my payment arrive" check.
func HandleGetPaymentStatus(c *fiber.Ctx) error {
	paymentID := c.Params("id")
	status, err := services().Ledger.GetStatus(paymentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if status == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	return c.JSON(fiber.Map{"payment_id": paymentID, "status": status})
}

// HandleBalancePayment executes a purchase funded from the stored balance.
// The flow is synchronous and never touches the pending ledger: the balance
// deduction is the payment, and the claim guard alone provides idempotency.
func HandleBalancePayment(c *fiber.Ctx) error {
	var req intentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payment payload"})
	}

	req.PaymentMethod = ledger.PaymentMethodBalance
	meta := req.toMetadata("balance-" + uuid.NewString())
	if err := meta.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_payment", "message": err.Error()})
	}
	if meta.Action == ledger.ActionTopUp {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_payment", "message": "Cannot top up balance from balance"})
	}

	repos := repository.GetGlobalRepositories()
	if err := repos.User.DeductFromBalance(meta.UserID, meta.Amount); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_balance"})
		}
		log.Errorf("[Payments] balance deduction for %s failed: %v", meta.PaymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Minute)
	defer cancel()
	result, err := services().Fulfill.Run(ctx, meta)
	if balanceRefundDue(result, err) {
		if rerr := repos.User.AddToBalance(meta.UserID, meta.Amount); rerr != nil {
			log.Errorf("[Payments] balance refund for %s failed: %v", meta.PaymentID, rerr)
		}
	}
	if err != nil {
		log.Errorf("[Payments] balance fulfillment %s failed: %v", meta.PaymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if !result.Fulfilled {
		errCode := result.ErrorCode
		if errCode == "" {
			errCode = "fulfillment_failed"
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"payment_id": meta.PaymentID,
			"fulfilled":  false,
			"error":      errCode,
		})
	}

	if meta.PlanID != 0 {
		if cerr := counter.AddPlanSale(meta.PlanID); cerr != nil {
			log.Warnf("[Payments] sales counter for plan %d: %v", meta.PlanID, cerr)
		}
	}

	resp := fiber.Map{"payment_id": meta.PaymentID, "fulfilled": true}
	if result.Credential != nil {
		resp["credential_id"] = result.Credential.ID
		resp["expires_at"] = result.Credential.ExpiresAt.UTC().Format(time.RFC3339)
		resp["subscription_url"] = result.Credential.SubscriptionURL
	}
	return c.JSON(resp)
}

// balanceRefundDue reports whether a failed balance purchase returns the
// deduction. Anything short of a fulfilled order gives the money back,
// except a duplicate, where the first run already delivered. The claim
// guard keeps a refunded retry honest.
func balanceRefundDue(result *fulfillment.Result, err error) bool {
	if err != nil {
		return result == nil || !result.Fulfilled
	}
	return !result.Fulfilled && !result.Duplicate
}

// promoRejection explains why a code cannot be applied; empty means usable.
func promoRejection(promo *models.PromoCode, usedByUser int64, now time.Time) string {
	if promo == nil || !promo.IsActive {
		return "not_found"
	}
	if promo.IsExpired(now) {
		return "expired"
	}
	if promo.TotalLimitReached() {
		return "limit_reached"
	}
	if promo.UsageLimitPerUser > 0 && usedByUser >= int64(promo.UsageLimitPerUser) {
		return "user_limit_reached"
	}
	return ""
}

// HandleCheckPromo validates a promo code for a user before the intent is
// created, so the client can price the discount in.
func HandleCheckPromo(c *fiber.Ctx) error {
	code := c.Params("code")
	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)

	repos := repository.GetGlobalRepositories()
	promo, err := repos.Promo.GetByCode(code)
	if err != nil {
		log.Errorf("[Payments] promo lookup %s failed: %v", code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	var used int64
	if promo != nil && promo.UsageLimitPerUser > 0 && userID != 0 {
		used, err = repos.Promo.CountUserRedemptions(code, userID)
		if err != nil {
			log.Errorf("[Payments] promo usage count %s failed: %v", code, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	if reason := promoRejection(promo, used, time.Now()); reason != "" {
		return c.JSON(fiber.Map{"valid": false, "reason": reason})
	}
	return c.JSON(fiber.Map{
		"valid":            true,
		"discount_amount":  promo.DiscountAmount,
		"discount_percent": promo.DiscountPercent,
	})
}
