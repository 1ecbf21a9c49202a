package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const yooKassaAPIBase = "https://api.yookassa.ru"

// YooKassaVerifier authenticates YooKassa callbacks by never trusting them:
// only the provider payment id is taken from the webhook, the payment
// itself is fetched from the YooKassa API under the shop credentials.
type YooKassaVerifier struct {
	ShopID     string
	SecretKey  string
	APIBase    string
	HTTPClient *http.Client
}

// NewYooKassaVerifier creates a verifier for the given shop credentials.
func NewYooKassaVerifier(shopID, secretKey string) *YooKassaVerifier {
	return &YooKassaVerifier{
		ShopID:     shopID,
		SecretKey:  secretKey,
		APIBase:    yooKassaAPIBase,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (v *YooKassaVerifier) Method() string { return MethodYooKassa }

type yooKassaPayment struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (v *YooKassaVerifier) Verify(ctx context.Context, req *Request) (*Notification, error) {
	if strings.TrimSpace(v.ShopID) == "" || strings.TrimSpace(v.SecretKey) == "" {
		return nil, ErrMisconfigured
	}

	var hook struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.Unmarshal(req.Body, &hook); err != nil {
		return nil, fmt.Errorf("yookassa: decode webhook: %w", err)
	}
	providerID := strings.TrimSpace(hook.Object.ID)
	if providerID == "" {
		return nil, fmt.Errorf("%w: missing provider payment id", ErrNotActionable)
	}

	payment, err := v.fetchPayment(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(payment.Status, "succeeded") {
		return nil, fmt.Errorf("%w: payment status %q", ErrNotActionable, payment.Status)
	}

	paymentID := strings.TrimSpace(payment.Metadata["payment_id"])
	if paymentID == "" {
		return nil, fmt.Errorf("%w: no internal payment id in metadata", ErrNotActionable)
	}

	note := &Notification{PaymentID: paymentID, Method: MethodYooKassa}
	if amount, err := decimal.NewFromString(payment.Amount.Value); err == nil {
		note.Amount = amount
		note.Currency = strings.ToUpper(payment.Amount.Currency)
		note.HasAmount = true
	}
	return note, nil
}

func (v *YooKassaVerifier) fetchPayment(ctx context.Context, providerID string) (*yooKassaPayment, error) {
	url := fmt.Sprintf("%s/v3/payments/%s", v.APIBase, providerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(v.ShopID, v.SecretKey)

	resp, err := v.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yookassa: fetch payment %s: %w", providerID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yookassa: fetch payment %s: status %d", providerID, resp.StatusCode)
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("yookassa: decode payment: %w", err)
	}
	return &payment, nil
}
