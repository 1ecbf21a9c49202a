package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanResolveDays(t *testing.T) {
	assert.Equal(t, 90, (&Plan{Months: 3}).ResolveDays())
	assert.Equal(t, 14, (&Plan{DurationDays: 14}).ResolveDays())
	// Explicit day count wins over months.
	assert.Equal(t, 45, (&Plan{Months: 3, DurationDays: 45}).ResolveDays())
	assert.Equal(t, 0, (&Plan{}).ResolveDays())
}

func TestPlanDurationLabel(t *testing.T) {
	assert.Equal(t, "1 month", (&Plan{Months: 1}).DurationLabel())
	assert.Equal(t, "6 months", (&Plan{Months: 6}).DurationLabel())
	assert.Equal(t, "1 day", (&Plan{DurationDays: 1}).DurationLabel())
	assert.Equal(t, "45 days", (&Plan{DurationDays: 45}).DurationLabel())
}
