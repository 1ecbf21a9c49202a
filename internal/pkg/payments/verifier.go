package payments

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Provider method names as they appear in transaction logs and commission
// rules.
const (
	MethodCryptoBot = "cryptobot"
	MethodYooMoney  = "yoomoney"
	MethodYooKassa  = "yookassa"
)

var (
	// ErrSignature means the request failed authentication; respond 403 and
	// do not touch the ledger.
	ErrSignature = errors.New("payments: signature verification failed")
	// ErrNotActionable means the request is authentic but carries no
	// completed payment (wrong type, non-final status, test transfer).
	// Respond 200 so the provider stops redelivering.
	ErrNotActionable = errors.New("payments: notification not actionable")
	// ErrMisconfigured means the provider's credentials are absent; respond
	// 5xx so the provider redelivers once the operator fixes the settings.
	ErrMisconfigured = errors.New("payments: provider is not configured")
)

// Notification is the verified substance of a provider callback: which
// internal payment it settles and, when the provider reports one, the
// amount that actually moved.
type Notification struct {
	PaymentID string
	Method    string

	// Amount/Currency are the provider-confirmed figures, used to
	// cross-check the pending row before completion. HasAmount is false for
	// providers that do not echo the sum.
	Amount    decimal.Decimal
	Currency  string
	HasAmount bool
}

// Request is the provider callback as received, before any trust is placed
// in it.
type Request struct {
	Body   []byte
	Header http.Header
	Form   url.Values
}

// Verifier authenticates one provider's callbacks. Implementations never
// trust the webhook body for money figures unless the provider signs it;
// otherwise they re-fetch the payment from the provider's API.
type Verifier interface {
	Method() string
	Verify(ctx context.Context, req *Request) (*Notification, error)
}
