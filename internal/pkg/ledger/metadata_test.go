package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePerActionRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
		ok     bool
	}{
		{"new purchase complete", func(m *Metadata) {}, true},
		{"new purchase without plan", func(m *Metadata) { m.PlanID = 0 }, false},
		{"new purchase without host", func(m *Metadata) { m.HostName = "" }, false},
		{"extend needs credential", func(m *Metadata) {
			m.Action = ActionExtend
			m.HostName = ""
			m.PlanID = 0
			m.CredentialID = 0
		}, false},
		{"extend with credential", func(m *Metadata) {
			m.Action = ActionExtend
			m.HostName = ""
			m.PlanID = 0
			m.CredentialID = 12
		}, true},
		{"top up needs positive amount", func(m *Metadata) {
			m.Action = ActionTopUp
			m.Amount = decimal.Zero
		}, false},
		{"top up with amount", func(m *Metadata) {
			m.Action = ActionTopUp
			m.Amount = decimal.NewFromFloat(100)
		}, true},
		{"unknown action", func(m *Metadata) { m.Action = "subscribe" }, false},
		{"missing payment method", func(m *Metadata) { m.PaymentMethod = "" }, false},
		{"missing user", func(m *Metadata) { m.UserID = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := validMeta("pay-v")
			tt.mutate(meta)
			err := meta.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeMetadataColumnIDWins(t *testing.T) {
	meta := validMeta("blob-id")
	raw, err := meta.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMetadata(raw, "column-id")
	require.NoError(t, err)
	assert.Equal(t, "column-id", decoded.PaymentID)
	assert.Equal(t, meta.UserID, decoded.UserID)
	assert.True(t, decoded.Amount.Equal(meta.Amount))
}

func TestDecodeMetadataRejectsGarbage(t *testing.T) {
	_, err := DecodeMetadata("{not json", "pay-x")
	assert.Error(t, err)
}
