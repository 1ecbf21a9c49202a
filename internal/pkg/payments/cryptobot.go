package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

const cryptoBotAPIBase = "https://pay.crypt.bot"

// CryptoBotVerifier authenticates Crypto Pay API callbacks. The signature
// is HMAC-SHA256 over the raw body, keyed with SHA-256 of the app token;
// the invoice is additionally re-fetched from the API to confirm it is
// actually paid.
type CryptoBotVerifier struct {
	Token      string
	APIBase    string
	HTTPClient *http.Client
}

// NewCryptoBotVerifier creates a verifier for the given Crypto Pay token.
func NewCryptoBotVerifier(token string) *CryptoBotVerifier {
	return &CryptoBotVerifier{
		Token:      token,
		APIBase:    cryptoBotAPIBase,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (v *CryptoBotVerifier) Method() string { return MethodCryptoBot }

type cryptoBotUpdate struct {
	UpdateType string `json:"update_type"`
	Payload    struct {
		InvoiceID int64  `json:"invoice_id"`
		Status    string `json:"status"`
		Payload   string `json:"payload"`
	} `json:"payload"`
}

type cryptoBotInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Fiat      string `json:"fiat"`
}

func (v *CryptoBotVerifier) Verify(ctx context.Context, req *Request) (*Notification, error) {
	if strings.TrimSpace(v.Token) == "" {
		return nil, ErrMisconfigured
	}

	signature := strings.TrimSpace(req.Header.Get("Crypto-Pay-Api-Signature"))
	if signature == "" {
		return nil, fmt.Errorf("%w: missing crypto-pay-api-signature header", ErrSignature)
	}
	key := sha256.Sum256([]byte(v.Token))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return nil, ErrSignature
	}

	var update cryptoBotUpdate
	if err := json.Unmarshal(req.Body, &update); err != nil {
		return nil, fmt.Errorf("cryptobot: decode update: %w", err)
	}
	if update.UpdateType != "invoice_paid" {
		return nil, fmt.Errorf("%w: update_type %q", ErrNotActionable, update.UpdateType)
	}
	paymentID := strings.TrimSpace(update.Payload.Payload)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: empty invoice payload", ErrNotActionable)
	}

	note := &Notification{PaymentID: paymentID, Method: MethodCryptoBot}

	// Confirm against the API; the signed webhook alone is accepted only
	// when the API cannot identify the invoice.
	if update.Payload.InvoiceID != 0 {
		invoice, err := v.fetchInvoice(ctx, update.Payload.InvoiceID)
		if err != nil {
			log.Warnf("[Payments] cryptobot invoice %d lookup failed: %v", update.Payload.InvoiceID, err)
		} else if invoice != nil {
			if !strings.EqualFold(invoice.Status, "paid") {
				return nil, fmt.Errorf("%w: invoice status %q", ErrNotActionable, invoice.Status)
			}
			if amount, err := decimal.NewFromString(invoice.Amount); err == nil {
				note.Amount = amount
				note.Currency = strings.ToUpper(invoice.Fiat)
				note.HasAmount = true
			}
		}
	}
	return note, nil
}

func (v *CryptoBotVerifier) fetchInvoice(ctx context.Context, invoiceID int64) (*cryptoBotInvoice, error) {
	url := fmt.Sprintf("%s/api/getInvoices?invoice_ids=%d", v.APIBase, invoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Crypto-Pay-API-Token", v.Token)

	resp, err := v.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cryptobot: getInvoices status %d", resp.StatusCode)
	}

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			Items []cryptoBotInvoice `json:"items"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("cryptobot: decode getInvoices: %w", err)
	}
	if !payload.OK || len(payload.Result.Items) == 0 {
		return nil, nil
	}
	return &payload.Result.Items[0], nil
}
