// Package executor applies the per-action effect table and emits
// follow-up events (spec §4.6), grounded on the teacher's
// internal/agents/behavior.go ApplyAction dispatch-by-kind switch: one
// apply<Kind> function per action, kept structurally identical while
// its deltas and follow-up events are replaced with CAPSIM's.
package executor

import (
	"errors"
	"fmt"

	"github.com/talgya/capsim/internal/domain"
)

// TrendFactory creates a new Trend for a PUBLISH_POST event. The
// caller (Engine) closes over the RNG draws and mean-status lookup
// that domain.NewTrend needs; Executor only decides when to call it.
type TrendFactory func(topic domain.Topic, parent *domain.TrendID, now float64) *domain.Trend

// Result is what executing one event produced.
type Result struct {
	History      []domain.HistoryRecord
	FollowUps    []*domain.Event
	CreatedTrend *domain.Trend
	Cancelled    bool // gate re-check failed; no effects applied
}

// Executor applies effect rows and cooldown/limit gates (spec §4.6).
type Executor struct {
	Effects   map[domain.ActionKind]domain.EffectRow
	Cooldowns domain.Cooldowns
	Limits    domain.Limits
}

// New builds an Executor from the given effect table, cooldowns and limits.
func New(effects map[domain.ActionKind]domain.EffectRow, cooldowns domain.Cooldowns, limits domain.Limits) *Executor {
	return &Executor{Effects: effects, Cooldowns: cooldowns, Limits: limits}
}

// Execute dispatches ev to the matching apply<Kind> handler. agent is
// mutated in place; the returned Result carries the history records to
// persist and any follow-up events to enqueue. simID/nextEventID are
// used to stamp follow-up events; factory is only invoked for
// PUBLISH_POST.
func (x *Executor) Execute(ev *domain.Event, agent *domain.Agent, simID string, nextEventID func() uint64, factory TrendFactory) (Result, error) {
	switch ev.Kind {
	case domain.PublishPost:
		return x.applyPost(ev, agent, simID, nextEventID, factory)
	case domain.SelfDev:
		return x.applySelfDev(ev, agent)
	case domain.PurchaseL1:
		return x.applyPurchase(ev, agent, domain.ActionPurchaseL1)
	case domain.PurchaseL2:
		return x.applyPurchase(ev, agent, domain.ActionPurchaseL2)
	case domain.PurchaseL3:
		return x.applyPurchase(ev, agent, domain.ActionPurchaseL3)
	default:
		return Result{}, fmt.Errorf("executor: %s is not an agent action kind", ev.Kind)
	}
}

var errUnknownPayload = errors.New("executor: unexpected event payload type")

func (x *Executor) applyPost(ev *domain.Event, agent *domain.Agent, simID string, nextEventID func() uint64, factory TrendFactory) (Result, error) {
	payload, ok := ev.Payload.(domain.PostPayload)
	if !ok {
		return Result{}, errUnknownPayload
	}

	if !agent.CanPost(ev.Timestamp, x.Cooldowns.PostMin) {
		return Result{Cancelled: true}, nil
	}

	effect := x.Effects[domain.ActionPost]
	var history []domain.HistoryRecord
	history = append(history, agent.ApplyDelta(domain.TimeBudget, effect.TimeBudget, ev.Timestamp, "Post", nil))
	history = append(history, agent.ApplyDelta(domain.EnergyLevel, effect.EnergyLevel, ev.Timestamp, "Post", nil))
	history = append(history, agent.ApplyDelta(domain.SocialStatus, effect.SocialStatus, ev.Timestamp, "Post", nil))

	trend := factory(payload.Topic, payload.ParentTrendID, ev.Timestamp)

	followUp := &domain.Event{
		ID:           nextEventID(),
		SimulationID: simID,
		Priority:     domain.PriorityFor(domain.TrendInfluence),
		Timestamp:    ev.Timestamp + 5,
		Kind:         domain.TrendInfluence,
		Payload: domain.TrendInfluencePayload{
			TrendID:  trend.ID,
			DayIndex: uint64(ev.Timestamp) / 1440,
		},
	}

	return Result{History: history, FollowUps: []*domain.Event{followUp}, CreatedTrend: trend}, nil
}

func (x *Executor) applySelfDev(ev *domain.Event, agent *domain.Agent) (Result, error) {
	if _, ok := ev.Payload.(domain.SelfDevPayload); !ok {
		return Result{}, errUnknownPayload
	}

	if !agent.CanSelfDev(ev.Timestamp, x.Cooldowns.SelfDevMin) {
		return Result{Cancelled: true}, nil
	}

	effect := x.Effects[domain.ActionSelfDev]
	var history []domain.HistoryRecord
	history = append(history, agent.ApplyDelta(domain.TimeBudget, effect.TimeBudget, ev.Timestamp, "SelfDev", nil))
	history = append(history, agent.ApplyDelta(domain.EnergyLevel, effect.EnergyLevel, ev.Timestamp, "SelfDev", nil))

	return Result{History: history}, nil
}

func (x *Executor) applyPurchase(ev *domain.Event, agent *domain.Agent, level domain.ActionKind) (Result, error) {
	payload, ok := ev.Payload.(domain.PurchasePayload)
	if !ok {
		return Result{}, errUnknownPayload
	}

	if !agent.CanPurchase(level, x.Limits.MaxPurchasesDay) {
		return Result{Cancelled: true}, nil
	}

	effect := x.Effects[level]
	var history []domain.HistoryRecord
	history = append(history, agent.ApplyDelta(domain.FinancialCapability, effect.FinancialCapability, ev.Timestamp, level.String(), nil))
	history = append(history, agent.ApplyDelta(domain.TimeBudget, effect.TimeBudget, ev.Timestamp, level.String(), nil))

	agent.PurchasesToday++
	now := ev.Timestamp
	if agent.LastPurchaseTS == nil {
		agent.LastPurchaseTS = make(map[domain.ActionKind]*float64)
	}
	agent.LastPurchaseTS[level] = &now

	_ = payload // agent id is already the caller's agent; payload kept for symmetry with PostPayload dispatch
	return Result{History: history}, nil
}
