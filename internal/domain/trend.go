package domain

import "math"

// TrendID uniquely identifies a trend within a simulation run.
type TrendID uint64

// Trend is a posted topic that propagates influence to an audience
// over its lifetime (spec §3/§4.5).
type Trend struct {
	ID               TrendID
	SimulationID     string
	Topic            Topic
	OriginatorID     AgentID
	ParentTrendID    *TrendID
	CreatedAt        float64 // sim-minute
	BaseVirality     float64 // [0, 5], fixed at creation
	CurrentVirality  float64 // [0, 5], grows with interactions
	CoverageLevel    CoverageLevel
	TotalInteractions uint64
	Sentiment        Sentiment
	LastInteractionTS float64 // sim-minute
}

// Virality-formula weights (spec §4.5).
const (
	viralityAlpha = 0.5
	viralityBeta  = 0.3
	viralityGamma = 0.2
)

// NewTrend computes base_virality, sentiment, and coverage_level for a
// freshly posted trend (spec §4.5), then sets CurrentVirality =
// BaseVirality and LastInteractionTS = now.
func NewTrend(id TrendID, simID string, topic Topic, author *Agent, parent *TrendID, now float64, jitter float64, sentimentDraw float64, meanStatusOfAffineAgents float64) *Trend {
	raw := viralityAlpha*(author.SocialStatus/5) +
		viralityBeta*(float64(Affinity(author.Profession, topic))/5) +
		viralityGamma*(author.EnergyLevel/5)

	base := raw * jitter
	if base < 0 {
		base = 0
	}
	if base > 5 {
		base = 5
	}

	sentiment := Positive
	if sentimentDraw >= 0.5 {
		sentiment = Negative
	}

	coverage := coverageFromMeanStatus(meanStatusOfAffineAgents)

	return &Trend{
		ID:                id,
		SimulationID:      simID,
		Topic:             topic,
		OriginatorID:      author.ID,
		ParentTrendID:      parent,
		CreatedAt:         now,
		BaseVirality:      base,
		CurrentVirality:   base,
		CoverageLevel:     coverage,
		Sentiment:         sentiment,
		LastInteractionTS: now,
	}
}

// coverageFromMeanStatus implements spec §4.5's coverage derivation:
// the mean social_status of affine agents normalised to [0,1], bucketed
// into Low/Middle/High.
func coverageFromMeanStatus(normalizedMeanStatus float64) CoverageLevel {
	switch {
	case normalizedMeanStatus < 0.33:
		return Low
	case normalizedMeanStatus < 0.66:
		return Middle
	default:
		return High
	}
}

// NormalizeMeanStatus normalizes a raw mean social_status (itself in
// [0,5]) into the [0,1] range coverageFromMeanStatus expects.
func NormalizeMeanStatus(meanStatus float64) float64 {
	n := meanStatus / 5
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// UpdateVirality applies spec §4.5's post-interaction growth formula
// and advances LastInteractionTS. Called exactly once per
// TREND_INFLUENCE event, regardless of reader count.
func (t *Trend) UpdateVirality(now float64) {
	t.TotalInteractions++
	grown := t.BaseVirality + 0.05*math.Log(float64(t.TotalInteractions)+1)
	if grown > 5 {
		grown = 5
	}
	t.CurrentVirality = grown
	t.LastInteractionTS = now
}

// ShouldArchive implements spec §4.5's archival predicate.
func (t *Trend) ShouldArchive(now float64, archiveThresholdDays int) bool {
	return now-t.LastInteractionTS > float64(archiveThresholdDays)*1440
}
