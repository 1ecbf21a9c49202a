package fulfillment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyshop-app/keyshop/app/models"
)

func seedGift(t *testing.T, f *fixture) *models.GiftToken {
	t.Helper()
	gift := &models.GiftToken{
		Token:     "tok-1",
		PayerID:   100,
		PaymentID: "pay-1",
		HostName:  "de-1",
		PlanID:    7,
		Days:      30,
		Status:    models.GiftStatusPending,
	}
	require.NoError(t, f.gifts.Create(gift))
	return gift
}

func TestRedeemGiftIssuesCredentialOnce(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	gift := seedGift(t, f)

	res, err := f.svc.RedeemGift(context.Background(), "tok-1", 200, "friend")
	require.NoError(t, err)
	require.True(t, res.Fulfilled)
	require.NotNil(t, res.Credential)
	assert.Equal(t, models.OriginGift, res.Credential.OriginSource)
	assert.Equal(t, int64(200), res.Credential.UserID)
	assert.Equal(t, 30, res.Credential.OriginDays)
	assert.Contains(t, res.Credential.Comment, "1 month")

	// The unknown recipient was registered on the fly.
	assert.Contains(t, f.users.registered, int64(200))

	assert.Equal(t, models.GiftStatusRedeemed, gift.Status)
	require.NotNil(t, gift.CredentialID)
	assert.Equal(t, res.Credential.ID, *gift.CredentialID)
	require.NotNil(t, gift.RecipientTelegramID)
	assert.Equal(t, int64(200), *gift.RecipientTelegramID)

	// Both sides are told.
	assert.Len(t, f.notifier.payerMsgs, 2)

	_, err = f.svc.RedeemGift(context.Background(), "tok-1", 300, "other")
	assert.ErrorIs(t, err, ErrGiftRedeemed)
	assert.Len(t, f.prov.calls, 1)
}

func TestRedeemGiftUnknownToken(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})

	_, err := f.svc.RedeemGift(context.Background(), "no-such", 200, "friend")
	assert.ErrorIs(t, err, ErrGiftNotFound)
}

func TestRedeemGiftProvisioningFailureReopensToken(t *testing.T) {
	f := newFixture(t, &models.User{TelegramID: 100})
	gift := seedGift(t, f)
	f.prov.err = errors.New("panel unavailable")

	res, err := f.svc.RedeemGift(context.Background(), "tok-1", 200, "friend")
	require.Error(t, err)
	assert.Equal(t, CodeUpstreamError, res.ErrorCode)

	// The token is handed back so the payer can retry.
	assert.Equal(t, models.GiftStatusPending, gift.Status)
	assert.Nil(t, gift.RecipientTelegramID)
	assert.Empty(t, f.creds.created)

	f.prov.err = nil
	res, err = f.svc.RedeemGift(context.Background(), "tok-1", 200, "friend")
	require.NoError(t, err)
	assert.True(t, res.Fulfilled)
}
