package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/app/repository"
	"github.com/keyshop-app/keyshop/internal/pkg/fulfillment"
)

// HandleListUserKeys lists a user's credentials with a computed active flag.
func HandleListUserKeys(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user id"})
	}

	creds, err := repository.GetGlobalRepositories().Credential.ListByUser(userID)
	if err != nil {
		log.Errorf("[Keys] listing keys for %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	now := time.Now()
	keys := make([]fiber.Map, 0, len(creds))
	for i := range creds {
		cred := &creds[i]
		keys = append(keys, fiber.Map{
			"credential_id":    cred.ID,
			"host_name":        cred.HostName,
			"expires_at":       cred.ExpiresAt,
			"subscription_url": cred.SubscriptionURL,
			"origin":           cred.OriginSource,
			"active":           cred.IsActive(now),
		})
	}
	return c.JSON(fiber.Map{"keys": keys})
}

// HandleListPendingGifts lists a payer's paid gifts still awaiting a
// recipient handle.
func HandleListPendingGifts(c *fiber.Ctx) error {
	payerID, err := strconv.ParseInt(c.Params("payerID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid payer id"})
	}
	gifts, err := repository.GetGlobalRepositories().Gift.ListPendingByPayer(payerID)
	if err != nil {
		log.Errorf("[Keys] listing pending gifts for %d failed: %v", payerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{"gifts": gifts})
}

type redeemGiftRequest struct {
	Token             string `json:"token"`
	RecipientID       int64  `json:"recipient_id"`
	RecipientUsername string `json:"recipient_username"`
}

// HandleRedeemGift completes a paid gift for the supplied recipient.
func HandleRedeemGift(c *fiber.Ctx) error {
	var req redeemGiftRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed gift payload"})
	}
	if req.Token == "" || req.RecipientID == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_gift", "message": "token and recipient_id are required"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), time.Minute)
	defer cancel()
	result, err := services().Fulfill.RedeemGift(ctx, req.Token, req.RecipientID, req.RecipientUsername)
	if err != nil {
		switch {
		case errors.Is(err, fulfillment.ErrGiftNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "gift_not_found"})
		case errors.Is(err, fulfillment.ErrGiftRedeemed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "gift_redeemed"})
		}
		log.Errorf("[Keys] gift redemption failed: %v", err)
		resp := fiber.Map{"error": "gift_failed"}
		if result != nil && result.ErrorCode != "" {
			resp["code"] = result.ErrorCode
			return c.Status(fiber.StatusBadGateway).JSON(resp)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(resp)
	}
	if result.Duplicate {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "gift_redeemed"})
	}

	cred := result.Credential
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"credential_id":    cred.ID,
		"host_name":        cred.HostName,
		"subscription_url": cred.SubscriptionURL,
		"expires_at":       cred.ExpiresAt,
	})
}

type trialRequest struct {
	UserID   int64  `json:"user_id"`
	HostName string `json:"host_name"`
}

// HandleTrialKey issues the one free trial key a user is entitled to.
func HandleTrialKey(c *fiber.Ctx) error {
	var req trialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed trial payload"})
	}
	if req.UserID == 0 || req.HostName == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_trial", "message": "user_id and host_name are required"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), time.Minute)
	defer cancel()
	result, err := services().Fulfill.IssueTrial(ctx, req.UserID, req.HostName)
	if err != nil {
		switch {
		case errors.Is(err, fulfillment.ErrTrialDisabled):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "trial_disabled"})
		case errors.Is(err, fulfillment.ErrTrialUsed):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "trial_used"})
		}
		log.Errorf("[Keys] trial for user %d failed: %v", req.UserID, err)
		code := fiber.StatusBadGateway
		if result == nil || result.ErrorCode == "" {
			code = fiber.StatusInternalServerError
		}
		resp := fiber.Map{"error": "trial_failed"}
		if result != nil && result.ErrorCode != "" {
			resp["code"] = result.ErrorCode
		}
		return c.Status(code).JSON(resp)
	}

	cred := result.Credential
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"credential_id":    cred.ID,
		"host_name":        cred.HostName,
		"subscription_url": cred.SubscriptionURL,
		"expires_at":       cred.ExpiresAt,
	})
}
