package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Action is the fulfillment branch a paid order takes.
type Action string

const (
	ActionNew    Action = "new"
	ActionExtend Action = "extend"
	ActionGift   Action = "gift"
	ActionTopUp  Action = "top_up"
)

// PaymentMethodBalance marks payments funded from the stored balance.
// Referral rewards and partner commissions are skipped for it so a balance
// top-up can never fund itself.
const PaymentMethodBalance = "balance"

// Metadata carries everything the fulfillment orchestrator needs to execute
// a paid order. It is validated once at the ledger boundary, serialized into
// pending_transactions.metadata, and handed back verbatim at completion time.
type Metadata struct {
	PaymentID     string          `json:"payment_id" validate:"required"`
	UserID        int64           `json:"user_id" validate:"required"`
	Action        Action          `json:"action" validate:"required,oneof=new extend gift top_up"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method" validate:"required"`

	// Purchase details; required per action, see Validate.
	HostName     string `json:"host_name,omitempty"`
	PlanID       uint   `json:"plan_id,omitempty"`
	CredentialID uint   `json:"credential_id,omitempty"`

	PromoCode     string          `json:"promo_code,omitempty"`
	PromoDiscount decimal.Decimal `json:"promo_discount,omitempty"`

	// InstanceID is set when the payment flowed through a managed
	// sub-instance ("franchise").
	InstanceID uint `json:"instance_id,omitempty"`

	// ChatMessageID is the "please pay" message to delete after fulfillment.
	ChatMessageID int64 `json:"chat_message_id,omitempty"`
}

var validate = validator.New()

// Validate checks the struct tags plus the per-action requirements that tags
// cannot express.
func (m *Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	switch m.Action {
	case ActionNew, ActionGift:
		if m.HostName == "" || m.PlanID == 0 {
			return fmt.Errorf("action %q requires host_name and plan_id", m.Action)
		}
	case ActionExtend:
		if m.CredentialID == 0 {
			return fmt.Errorf("action %q requires credential_id", m.Action)
		}
	case ActionTopUp:
		if !m.Amount.IsPositive() {
			return fmt.Errorf("action %q requires a positive amount", m.Action)
		}
	}
	return nil
}

// Encode serializes the metadata for storage in the ledger.
func (m *Metadata) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode payment metadata: %w", err)
	}
	return string(raw), nil
}

// DecodeMetadata parses stored metadata. The payment id column is
// authoritative; it overrides whatever the blob claims.
func DecodeMetadata(raw, paymentID string) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode payment metadata: %w", err)
	}
	if paymentID != "" {
		m.PaymentID = paymentID
	}
	return &m, nil
}
