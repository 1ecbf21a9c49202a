package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyshop-app/keyshop/app/models"
	"github.com/keyshop-app/keyshop/app/repository"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 50 * time.Millisecond
)

// Service is the pending-payment ledger, the idempotent completion
// coordinator and the fulfillment guard, layered over LedgerRepository with
// bounded retry on lock contention.
type Service struct {
	repo repository.LedgerRepository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo repository.LedgerRepository) *Service {
	return &Service{repo: repo}
}

// CreateOrRefreshIntent validates and records a payment intent. Re-issuing
// the same intent while it is still pending refreshes amount and metadata;
// a paid intent is left untouched. The error is non-fatal to checkout flows
// and is reported so the caller can decide.
func (s *Service) CreateOrRefreshIntent(meta *Metadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid payment metadata: %w", err)
	}
	encoded, err := meta.Encode()
	if err != nil {
		return err
	}
	currency := meta.Currency
	if currency == "" {
		currency = "RUB"
	}
	return withRetry(func() error {
		return s.repo.CreateOrRefreshIntent(meta.PaymentID, meta.UserID, meta.Amount, currency, encoded)
	})
}

// CompleteIfPending atomically transitions the intent to paid. Exactly one
// caller for a given payment id ever receives a non-nil metadata; every
// other call observes nil. A nil result is not an error: duplicate webhook
// deliveries are expected.
func (s *Service) CompleteIfPending(paymentID string) (*Metadata, error) {
	var row *models.PendingTransaction
	err := withRetry(func() error {
		var err error
		row, err = s.repo.CompleteIfPending(paymentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete pending %s: %w", paymentID, err)
	}
	if row == nil {
		return nil, nil
	}
	meta, err := DecodeMetadata(row.Metadata, row.PaymentID)
	if err != nil {
		// The row is already paid; surface the broken blob instead of
		// pretending the payment never completed.
		return nil, fmt.Errorf("payment %s completed but metadata is unreadable: %w", paymentID, err)
	}
	return meta, nil
}

// GetStatus returns "pending", "paid" or "" for an unknown id.
func (s *Service) GetStatus(paymentID string) (string, error) {
	return s.repo.GetStatus(paymentID)
}

// PeekMetadata reads a still-pending intent without completing it; used by
// manual "check payment status" flows. Returns nil when the id is unknown
// or already paid.
func (s *Service) PeekMetadata(paymentID string) (*Metadata, error) {
	raw, err := s.repo.PeekMetadata(paymentID)
	if err != nil || raw == "" {
		return nil, err
	}
	return DecodeMetadata(raw, paymentID)
}

// MostRecentPendingFor recovers the latest pending intent for an owner.
// Used when a provider callback carries no machine-readable correlation id.
func (s *Service) MostRecentPendingFor(userID int64) (*Metadata, error) {
	row, err := s.repo.MostRecentPendingFor(userID)
	if err != nil || row == nil {
		return nil, err
	}
	return DecodeMetadata(row.Metadata, row.PaymentID)
}

// Claim is the fulfillment idempotency guard: true exactly once per payment
// id. Payment paths that never touch the pending ledger (balance payments,
// rebuilt metadata) still funnel through here.
func (s *Service) Claim(paymentID string) (bool, error) {
	if strings.TrimSpace(paymentID) == "" {
		return false, fmt.Errorf("claim: empty payment id")
	}
	var first bool
	err := withRetry(func() error {
		var err error
		first, err = s.repo.ClaimProcessed(paymentID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", paymentID, err)
	}
	return first, nil
}

// withRetry retries transient lock contention with exponential backoff.
// Anything that does not look like contention is surfaced immediately.
func withRetry(work func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = work()
		if err == nil || !isLockError(err) {
			return err
		}
		if attempt < retryAttempts-1 {
			log.Warnf("[Ledger] lock contention (attempt %d/%d): %v", attempt+1, retryAttempts, err)
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func isLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lock") || strings.Contains(msg, "deadlock") || strings.Contains(msg, "try restarting transaction")
}
