package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent() *Agent {
	a := NewAgent(1, "Test", Developer)
	a.FinancialCapability = 2.5
	a.TrendReceptivity = 3.0
	a.SocialStatus = 2.0
	a.EnergyLevel = 4.5
	a.TimeBudget = 3.0
	return a
}

func TestApplyDeltaClampsToAttributeRange(t *testing.T) {
	a := newTestAgent()
	a.SocialStatus = 4.95

	rec := a.ApplyDelta(SocialStatus, 1.0, 10, "PostEffect", nil)

	assert.Equal(t, 5.0, a.SocialStatus)
	assert.Equal(t, 5.0, rec.NewValue)
	assert.InDelta(t, 0.05, rec.Delta, 1e-9)
}

func TestApplyDeltaClampsAtFloor(t *testing.T) {
	a := newTestAgent()
	a.EnergyLevel = 0.2

	rec := a.ApplyDelta(EnergyLevel, -1.0, 10, "Work", nil)

	assert.Equal(t, 0.0, a.EnergyLevel)
	assert.Equal(t, 0.0, rec.NewValue)
}

func TestApplyDeltaQuantisesTimeBudget(t *testing.T) {
	a := newTestAgent()
	a.TimeBudget = 3.0

	a.ApplyDelta(TimeBudget, -0.2, 10, "Post", nil)

	// 3.0 - 0.2 = 2.8, quantised to nearest 0.5 -> 3.0
	assert.Equal(t, 3.0, a.TimeBudget)
}

func TestApplyDeltaUpdatesLastPostTimestamp(t *testing.T) {
	a := newTestAgent()
	require.Nil(t, a.LastPostTS)

	a.ApplyDelta(SocialStatus, 0.1, 15, "Post", nil)

	require.NotNil(t, a.LastPostTS)
	assert.Equal(t, 15.0, *a.LastPostTS)
}

func TestCanPostRequiresWorkHoursEnergyTimeAndCooldown(t *testing.T) {
	a := newTestAgent()
	a.EnergyLevel = 5
	a.TimeBudget = 3

	assert.True(t, a.CanPost(500, DefaultCooldowns.PostMin), "daytime, sufficient resources")
	assert.False(t, a.CanPost(100, DefaultCooldowns.PostMin), "inside 00:00-08:00 work-hours gap")

	last := 500.0
	a.LastPostTS = &last
	assert.False(t, a.CanPost(530, DefaultCooldowns.PostMin), "cooldown not yet elapsed")
	assert.True(t, a.CanPost(561, DefaultCooldowns.PostMin), "cooldown elapsed")
}

func TestCanPurchaseGatesOnThresholdAndDailyCap(t *testing.T) {
	a := newTestAgent()
	a.FinancialCapability = 0.3

	assert.True(t, a.CanPurchase(ActionPurchaseL1, DefaultLimits.MaxPurchasesDay))
	assert.False(t, a.CanPurchase(ActionPurchaseL2, DefaultLimits.MaxPurchasesDay), "below L2 threshold")

	a.PurchasesToday = DefaultLimits.MaxPurchasesDay
	assert.False(t, a.CanPurchase(ActionPurchaseL1, DefaultLimits.MaxPurchasesDay), "daily cap reached")
}

func TestIsWorkHoursWrapsAcrossDays(t *testing.T) {
	assert.False(t, IsWorkHours(0))
	assert.False(t, IsWorkHours(479))
	assert.True(t, IsWorkHours(480))
	assert.True(t, IsWorkHours(1439))
	assert.False(t, IsWorkHours(1440))  // start of day 2
	assert.True(t, IsWorkHours(1440+480))
}

func TestTrimExposureHistoryEvictsOldestFirst(t *testing.T) {
	a := newTestAgent()
	a.ExposureHistory = map[uint64]float64{
		1: 100,
		2: 50,
		3: 200,
		4: 10,
	}

	a.TrimExposureHistory(2)

	assert.Len(t, a.ExposureHistory, 2)
	assert.Contains(t, a.ExposureHistory, uint64(1))
	assert.Contains(t, a.ExposureHistory, uint64(3))
}

func TestTrimExposureHistoryNoopUnderLimit(t *testing.T) {
	a := newTestAgent()
	a.ExposureHistory = map[uint64]float64{1: 5, 2: 6}

	a.TrimExposureHistory(10)

	assert.Len(t, a.ExposureHistory, 2)
}

func TestTrimExposureHistoryNoopWhenMaxSizeNonPositive(t *testing.T) {
	a := newTestAgent()
	a.ExposureHistory = map[uint64]float64{1: 5, 2: 6}

	a.TrimExposureHistory(0)

	assert.Len(t, a.ExposureHistory, 2)
}
