// Package influence implements the TREND_INFLUENCE handler (spec
// §4.7): audience selection, per-reader reaction draws, the author's
// PostEffect, and follow-up-post scheduling. Grounded on the same
// apply<Kind>-per-concern shape as internal/executor (itself grounded
// on the teacher's internal/agents/behavior.go), generalized to a
// batch of readers instead of a single actor.
package influence

import (
	"math"
	"sort"

	"github.com/talgya/capsim/internal/domain"
	"github.com/talgya/capsim/internal/rng"
)

// reactionDelta is one row of spec §4.7's sentiment×match table.
type reactionDelta struct {
	TrendReceptivity float64
	EnergyLevel      float64
}

var reactionTable = map[domain.Sentiment]map[bool]reactionDelta{
	domain.Positive: {
		true:  {TrendReceptivity: 0.01, EnergyLevel: 0.02},
		false: {TrendReceptivity: 0, EnergyLevel: 0.015},
	},
	domain.Negative: {
		true:  {TrendReceptivity: 0.01, EnergyLevel: -0.015},
		false: {TrendReceptivity: 0.01, EnergyLevel: -0.010},
	},
}

const followUpLambda = 1.0 / 15.0

// FollowUpPost is a response PUBLISH_POST a reacting reader generates.
type FollowUpPost struct {
	AuthorID      domain.AgentID
	Topic         domain.Topic
	ParentTrendID domain.TrendID
	DelayMinutes  float64
}

// Result is everything one TREND_INFLUENCE dispatch produced.
type Result struct {
	History    []domain.HistoryRecord
	FollowUps  []FollowUpPost
	ReaderCount int // readers in the capped audience, not just reactors
}

// Processor applies spec §4.7's audience filter, reaction pass, and
// author PostEffect for a single TREND_INFLUENCE event.
type Processor struct {
	ExposureResetMin float64
}

// New builds a Processor with the given EXPOSURE_RESET_MIN (spec §6.1,
// DESIGN.md's open-question decision (b)).
func New(exposureResetMin float64) *Processor {
	return &Processor{ExposureResetMin: exposureResetMin}
}

// FilterAudience returns the agents eligible to be exposed to trend:
// affinity(profession, topic) > 0 AND exposure_history[trend] is
// unset or older than ExposureResetMin. Excludes the trend's author.
func (p *Processor) FilterAudience(agents []*domain.Agent, trend *domain.Trend, now float64) []*domain.Agent {
	eligible := make([]*domain.Agent, 0, len(agents))
	for _, a := range agents {
		if a.ID == trend.OriginatorID {
			continue
		}
		if domain.Affinity(a.Profession, trend.Topic) <= 0 {
			continue
		}
		if last, seen := a.ExposureHistory[uint64(trend.ID)]; seen && now-last < p.ExposureResetMin {
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible
}

// capAudience deterministically samples a coverage-sized subset of
// eligible, seeded by (trend_id, day_index) per spec §4.7. Eligible is
// first sorted by AgentID so the same seed always yields the same
// subset regardless of slice iteration order upstream.
func capAudience(eligible []*domain.Agent, coverage domain.CoverageLevel, masterSeed int64, trendID domain.TrendID, dayIndex uint64) []*domain.Agent {
	sorted := append([]*domain.Agent(nil), eligible...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	n := int(math.Floor(float64(len(sorted)) * coverage.AudienceFraction()))
	if n >= len(sorted) {
		return sorted
	}

	src := rng.SeededStream(masterSeed, uint64(trendID), dayIndex)
	shuffled := append([]*domain.Agent(nil), sorted...)
	src.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

// Process runs the full TREND_INFLUENCE handler: audience cap, reader
// reaction draws, author PostEffect, and the trend's virality update.
// eligible must already be the output of FilterAudience. author receives
// the PostEffect update; a nil author skips it.
func (p *Processor) Process(masterSeed int64, trend *domain.Trend, dayIndex uint64, now float64, eligible []*domain.Agent, author *domain.Agent) Result {
	audience := capAudience(eligible, trend.CoverageLevel, masterSeed, trend.ID, dayIndex)
	src := rng.SeededStream(masterSeed, uint64(trend.ID), dayIndex, 1)

	var history []domain.HistoryRecord
	var followUps []FollowUpPost

	var sumEnergyDelta float64
	coverageFactor := trend.CoverageLevel.TimeBudgetCoverageFactor()

	for _, reader := range audience {
		t := now
		reader.ExposureHistory[uint64(trend.ID)] = t

		affinity := domain.Affinity(reader.Profession, trend.Topic)
		pReact := (trend.CurrentVirality / 5) * (reader.TrendReceptivity / 5) * (float64(affinity) / 5) * rng.Uniform(src, 0.8, 1.2)

		if src.Float64() >= pReact {
			continue
		}

		match := affinity > 3
		row := reactionTable[trend.Sentiment][match]

		history = append(history, reader.ApplyDelta(domain.TrendReceptivity, row.TrendReceptivity, now, "TrendInfluence", trendIDPtr(trend.ID)))
		history = append(history, reader.ApplyDelta(domain.EnergyLevel, row.EnergyLevel, now, "TrendInfluence", trendIDPtr(trend.ID)))

		deltaSocial := (trend.CurrentVirality - 1) * 0.02
		history = append(history, reader.ApplyDelta(domain.SocialStatus, deltaSocial, now, "TrendInfluence", trendIDPtr(trend.ID)))

		deltaTime := -(0.5 * coverageFactor)
		history = append(history, reader.ApplyDelta(domain.TimeBudget, deltaTime, now, "TrendInfluence", trendIDPtr(trend.ID)))

		sumEnergyDelta += row.EnergyLevel

		delay := rng.ExpClamped(src, followUpLambda, 1, 60)
		followUps = append(followUps, FollowUpPost{
			AuthorID:      reader.ID,
			Topic:         trend.Topic,
			ParentTrendID: trend.ID,
			DelayMinutes:  delay,
		})
	}

	if author != nil {
		signedSentiment := trend.Sentiment.Signed()
		deltaAuthorSocial := sumEnergyDelta * math.Log(float64(len(audience))+1) / math.Log(10) * signedSentiment / 50
		if deltaAuthorSocial > 1 {
			deltaAuthorSocial = 1
		}
		if deltaAuthorSocial < -1 {
			deltaAuthorSocial = -1
		}
		history = append(history, author.ApplyDelta(domain.SocialStatus, deltaAuthorSocial, now, "PostEffect", trendIDPtr(trend.ID)))
	}

	trend.UpdateVirality(now)

	return Result{History: history, FollowUps: followUps, ReaderCount: len(audience)}
}

func trendIDPtr(id domain.TrendID) *uint64 {
	v := uint64(id)
	return &v
}
