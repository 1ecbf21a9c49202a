package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/internal/pkg/cache"
	"github.com/keyshop-app/keyshop/internal/pkg/jobqueue"
	"github.com/keyshop-app/keyshop/internal/pkg/ledger"
	"github.com/keyshop-app/keyshop/internal/pkg/payments"
)

const verifyTimeout = 25 * time.Second

// HandlePaymentWebhook is the single entry point for provider callbacks.
// The response code is the redelivery contract: 5xx only for our own
// storage failures (the provider retries), 200 for everything the provider
// cannot fix by retrying.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")

	snap, err := services().Settings.Snapshot()
	if err != nil {
		log.Errorf("[Webhook] %s: settings unavailable: %v", provider, err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	verifier := verifierFor(provider, snap)
	if verifier == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), verifyTimeout)
	defer cancel()

	note, err := verifier.Verify(ctx, webhookRequest(c))
	switch {
	case errors.Is(err, payments.ErrNotActionable):
		log.Infof("[Webhook] %s: not actionable: %v", provider, err)
		return c.SendStatus(fiber.StatusOK)
	case errors.Is(err, payments.ErrSignature):
		log.Warnf("[Webhook] %s: rejected: %v", provider, err)
		return c.SendStatus(fiber.StatusForbidden)
	case errors.Is(err, payments.ErrMisconfigured):
		log.Errorf("[Webhook] %s: %v", provider, err)
		return c.SendStatus(fiber.StatusInternalServerError)
	case err != nil:
		// Provider API unreachable; let them redeliver.
		log.Errorf("[Webhook] %s: verification failed: %v", provider, err)
		return c.SendStatus(fiber.StatusBadGateway)
	}

	if !amountMatchesPending(note) {
		return c.SendStatus(fiber.StatusOK)
	}

	// Fast path for redelivery bursts: a cached completion marker skips the
	// database round trip. The ledger remains the source of truth; a cache
	// miss or Redis outage just falls through to CompleteIfPending.
	if seenCompleted(c.Context(), note.PaymentID) {
		return c.SendStatus(fiber.StatusOK)
	}

	meta, err := services().Ledger.CompleteIfPending(note.PaymentID)
	if err != nil {
		log.Errorf("[Webhook] %s: completing %s failed: %v", provider, note.PaymentID, err)
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	if meta == nil {
		// Unknown id or already paid; both are fine to acknowledge.
		return c.SendStatus(fiber.StatusOK)
	}

	markCompleted(c.Context(), note.PaymentID)

	if meta.PaymentMethod == "" {
		meta.PaymentMethod = note.Method
	}

	// Fulfillment runs detached: the provider's delivery timeout must not
	// bound provisioning, and the guard makes a redelivery harmless. The
	// queue gives retries and crash recovery; if Redis is down, fall back
	// to an in-process goroutine rather than dropping a paid order.
	dispatchFulfillment(provider, meta)

	return c.SendStatus(fiber.StatusOK)
}

func dispatchFulfillment(provider string, meta *ledger.Metadata) {
	_, err := jobqueue.GetManager().GetQueue().EnqueueFulfillment(meta)
	if err == nil {
		return
	}
	log.Errorf("[Webhook] %s: enqueue for %s failed, running inline: %v", provider, meta.PaymentID, err)

	go func(meta *ledger.Metadata) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := services().Fulfill.Run(ctx, meta); err != nil {
			log.Errorf("[Webhook] fulfillment for %s failed: %v", meta.PaymentID, err)
		}
	}(meta)
}

const completedMarkerTTL = 24 * time.Hour

func completedMarkerKey(paymentID string) string {
	return "webhook:completed:" + paymentID
}

func seenCompleted(ctx context.Context, paymentID string) bool {
	rdb := cache.GetClient()
	if rdb == nil {
		return false
	}
	n, err := rdb.Exists(ctx, completedMarkerKey(paymentID)).Result()
	return err == nil && n > 0
}

func markCompleted(ctx context.Context, paymentID string) {
	rdb := cache.GetClient()
	if rdb == nil {
		return
	}
	if err := rdb.Set(ctx, completedMarkerKey(paymentID), 1, completedMarkerTTL).Err(); err != nil {
		log.Warnf("[Webhook] caching completion marker for %s failed: %v", paymentID, err)
	}
}

// amountMatchesPending cross-checks the provider-confirmed figures against
// the pending intent. A mismatch is acknowledged with 200 and dropped: the
// provider redelivering the same wrong sum fixes nothing.
func amountMatchesPending(note *payments.Notification) bool {
	if !note.HasAmount {
		return true
	}
	pending, err := services().Ledger.PeekMetadata(note.PaymentID)
	if err != nil || pending == nil {
		// Nothing to compare against; completion below decides.
		return true
	}
	if note.Currency != "" && pending.Currency != "" && note.Currency != pending.Currency {
		log.Warnf("[Webhook] %s: currency mismatch: got %s, expected %s", note.PaymentID, note.Currency, pending.Currency)
		return false
	}
	if !note.Amount.Equal(pending.Amount) {
		log.Warnf("[Webhook] %s: amount mismatch: got %s, expected %s", note.PaymentID, note.Amount, pending.Amount)
		return false
	}
	return true
}

func webhookRequest(c *fiber.Ctx) *payments.Request {
	header := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	form, err := url.ParseQuery(string(c.Body()))
	if err != nil {
		form = url.Values{}
	}
	return &payments.Request{
		Body:   append([]byte(nil), c.Body()...),
		Header: header,
		Form:   form,
	}
}
