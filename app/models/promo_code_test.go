package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromoCodeIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&PromoCode{}).IsExpired(now), "no validity window never expires")
	assert.False(t, (&PromoCode{ValidUntil: &future}).IsExpired(now))
	assert.True(t, (&PromoCode{ValidUntil: &past}).IsExpired(now))
}

func TestPromoCodeTotalLimitReached(t *testing.T) {
	assert.False(t, (&PromoCode{UsageLimitTotal: 0, UsedTotal: 500}).TotalLimitReached(), "zero limit means unlimited")
	assert.False(t, (&PromoCode{UsageLimitTotal: 10, UsedTotal: 9}).TotalLimitReached())
	assert.True(t, (&PromoCode{UsageLimitTotal: 10, UsedTotal: 10}).TotalLimitReached())
}

func TestCredentialIsActive(t *testing.T) {
	now := time.Now()
	mark := now.Add(-time.Minute)

	assert.True(t, (&Credential{ExpiresAt: now.Add(time.Hour)}).IsActive(now))
	assert.False(t, (&Credential{ExpiresAt: now.Add(-time.Hour)}).IsActive(now))
	assert.False(t, (&Credential{ExpiresAt: now.Add(time.Hour), MissingSince: &mark}).IsActive(now))
}
