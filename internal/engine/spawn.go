package engine

import (
	"fmt"

	"github.com/talgya/capsim/internal/domain"
)

// spawnAgents implements spec §4.8 step 4: draw attributes uniformly
// from each profession's ranges, draw interests from InterestRanges,
// quantise time_budget to 0.5. Grounded on the teacher's
// Spawner.spawnOne (internal/agents/spawner.go), which also rolls a
// handful of uniform draws per new agent from a single owned RNG.
func (e *Engine) spawnAgents(count int) []*domain.Agent {
	out := make([]*domain.Agent, 0, count)
	professions := domain.AllProfessions()

	for i := 0; i < count; i++ {
		id := domain.AgentID(i + 1)
		profession := professions[i%len(professions)]
		a := domain.NewAgent(id, fmt.Sprintf("agent-%d", id), profession)

		ranges := domain.ProfessionAttributeRanges[profession]
		a.FinancialCapability = uniform(e.src, ranges.FinancialCapability)
		a.TrendReceptivity = uniform(e.src, ranges.TrendReceptivity)
		a.SocialStatus = uniform(e.src, ranges.SocialStatus)
		a.EnergyLevel = uniform(e.src, ranges.EnergyLevel)
		a.TimeBudget = quantizeHalf(uniform(e.src, ranges.TimeBudget))

		interestRow := domain.InterestRanges[profession]
		for _, interest := range domain.AllInterests() {
			a.Interests[interest] = uniform(e.src, interestRow[interest])
		}

		out = append(out, a)
	}
	return out
}

func uniform(src randFloater, r domain.AttributeRange) float64 {
	return r.Min + src.Float64()*(r.Max-r.Min)
}

// quantizeHalf rounds v to the nearest 0.5 step, mirroring
// domain.Agent's own ApplyDelta quantisation so bootstrap-drawn
// time_budget values already satisfy invariant P2 before the first
// mutation ever runs.
func quantizeHalf(v float64) float64 {
	return float64(int(v*2+0.5)) / 2
}

// randFloater is the single method engine needs from *rand.Rand here,
// named so uniform reads as a small pure helper independent of the
// concrete RNG type.
type randFloater interface {
	Float64() float64
}
