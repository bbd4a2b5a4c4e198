package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTrendClampsBaseViralityToRange(t *testing.T) {
	author := newTestAgent()
	author.SocialStatus = 5
	author.EnergyLevel = 5

	tr := NewTrend(1, "sim-1", Science, author, nil, 10, 1.2, 0.1, 0.5)

	assert.GreaterOrEqual(t, tr.BaseVirality, 0.0)
	assert.LessOrEqual(t, tr.BaseVirality, 5.0)
	assert.Equal(t, tr.BaseVirality, tr.CurrentVirality)
	assert.Equal(t, Positive, tr.Sentiment)
	assert.Equal(t, 10.0, tr.LastInteractionTS)
}

func TestCoverageFromMeanStatusBuckets(t *testing.T) {
	assert.Equal(t, Low, coverageFromMeanStatus(0.1))
	assert.Equal(t, Middle, coverageFromMeanStatus(0.5))
	assert.Equal(t, High, coverageFromMeanStatus(0.9))
}

func TestUpdateViralityGrowsLogarithmicallyAndCapsAtFive(t *testing.T) {
	tr := &Trend{BaseVirality: 4.9, CurrentVirality: 4.9}

	tr.UpdateVirality(100)
	assert.Equal(t, uint64(1), tr.TotalInteractions)
	want := 4.9 + 0.05*math.Log(2)
	assert.InDelta(t, want, tr.CurrentVirality, 1e-9)
	assert.Equal(t, 100.0, tr.LastInteractionTS)

	tr.BaseVirality = 5.0
	for i := 0; i < 1000; i++ {
		tr.UpdateVirality(100)
	}
	assert.LessOrEqual(t, tr.CurrentVirality, 5.0)
}

func TestShouldArchiveAfterThresholdDays(t *testing.T) {
	tr := &Trend{LastInteractionTS: 0}

	assert.False(t, tr.ShouldArchive(3*1440, 3), "exactly at threshold is still active")
	assert.True(t, tr.ShouldArchive(3*1440+1, 3))
}
