package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// YooMoneyVerifier authenticates YooMoney p2p HTTP notifications. The
// digest is SHA-1 over the ampersand-joined notification fields with the
// wallet secret spliced in before the label.
type YooMoneyVerifier struct {
	Secret string
}

// NewYooMoneyVerifier creates a verifier for the given notification secret.
func NewYooMoneyVerifier(secret string) *YooMoneyVerifier {
	return &YooMoneyVerifier{Secret: secret}
}

func (v *YooMoneyVerifier) Method() string { return MethodYooMoney }

var yooMoneyRequired = []string{
	"notification_type", "operation_id", "amount", "currency",
	"datetime", "sender", "codepro", "label", "sha1_hash",
}

func (v *YooMoneyVerifier) Verify(ctx context.Context, req *Request) (*Notification, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return nil, ErrMisconfigured
	}
	for _, field := range yooMoneyRequired {
		if !req.Form.Has(field) {
			return nil, fmt.Errorf("%w: missing field %q", ErrNotActionable, field)
		}
	}

	if nt := req.Form.Get("notification_type"); nt != "p2p-incoming" {
		return nil, fmt.Errorf("%w: notification_type %q", ErrNotActionable, nt)
	}
	if strings.EqualFold(req.Form.Get("codepro"), "true") {
		// Protected (code-pro) transfers are not real money yet.
		return nil, fmt.Errorf("%w: codepro transfer", ErrNotActionable)
	}

	joined := strings.Join([]string{
		req.Form.Get("notification_type"),
		req.Form.Get("operation_id"),
		req.Form.Get("amount"),
		req.Form.Get("currency"),
		req.Form.Get("datetime"),
		req.Form.Get("sender"),
		req.Form.Get("codepro"),
		v.Secret,
		req.Form.Get("label"),
	}, "&")
	sum := sha1.Sum([]byte(joined))
	expected := hex.EncodeToString(sum[:])
	provided := strings.ToLower(strings.TrimSpace(req.Form.Get("sha1_hash")))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return nil, ErrSignature
	}

	paymentID := strings.TrimSpace(req.Form.Get("label"))
	if paymentID == "" {
		return nil, fmt.Errorf("%w: empty label", ErrNotActionable)
	}

	note := &Notification{PaymentID: paymentID, Method: MethodYooMoney}
	// The notification carries the credited amount net of the transfer fee,
	// so it cannot be cross-checked against the invoiced sum. HasAmount
	// stays false; the label alone identifies the pending row.
	if amount, err := decimal.NewFromString(req.Form.Get("amount")); err == nil {
		note.Amount = amount
		// Currency code 643 is RUB.
		if cur := req.Form.Get("currency"); cur == "643" || strings.EqualFold(cur, "RUB") {
			note.Currency = "RUB"
		}
	}
	return note, nil
}
