package domain

import (
	"math/rand"

	"github.com/talgya/capsim/internal/rng"
)

// TrendContext is the optional trend the selector scores a POST or
// PURCHASE candidate against (spec §4.4).
type TrendContext struct {
	ViralityScore float64
	Topic         Topic
}

// DecisionInputs bundles the configuration values DecideAction needs,
// so callers don't have to thread five scalars through individually.
type DecisionInputs struct {
	Now                 float64
	Cooldowns           Cooldowns
	Limits              Limits
	ScoreThreshold       float64
	Trend               *TrendContext
}

// DecideAction implements spec §4.4's selector: build scored
// candidates from the gates that pass, drop anything below
// ScoreThreshold, and score-weight-sample the remainder. Returns
// (0, false) for "no action".
func DecideAction(a *Agent, in DecisionInputs, src *rand.Rand) (ActionKind, bool) {
	var candidates []rng.Candidate
	scores := make(map[string]ActionKind, 5)

	add := func(kind ActionKind, score float64) {
		if score < in.ScoreThreshold {
			return
		}
		name := kind.String()
		candidates = append(candidates, rng.Candidate{Name: name, Score: score})
		scores[name] = kind
	}

	if a.CanPost(in.Now, in.Cooldowns.PostMin) {
		add(ActionPost, postScore(a, in.Trend))
	}
	if a.CanSelfDev(in.Now, in.Cooldowns.SelfDevMin) {
		add(ActionSelfDev, selfDevScore(a))
	}
	for _, level := range []ActionKind{ActionPurchaseL1, ActionPurchaseL2, ActionPurchaseL3} {
		if a.CanPurchase(level, in.Limits.MaxPurchasesDay) {
			add(level, purchaseScore(a, in.Trend))
		}
	}

	if len(candidates) == 0 {
		return 0, false
	}

	idx, ok := rng.WeightedPick(src, candidates)
	if !ok {
		return 0, false
	}
	return scores[candidates[idx].Name], true
}

func postScore(a *Agent, trend *TrendContext) float64 {
	if trend == nil {
		return 0.3 // small positive baseline, no trend context
	}
	return trend.ViralityScore * a.TrendReceptivity / 25 * (1 + a.SocialStatus/10)
}

func purchaseScore(a *Agent, trend *TrendContext) float64 {
	score := 0.3 * ShopWeights[a.Profession]
	if trend != nil && trend.Topic == Economic {
		score *= 1.2
	}
	return score
}

func selfDevScore(a *Agent) float64 {
	s := 1 - a.EnergyLevel/5
	if s < 0 {
		return 0
	}
	return s
}
