package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/talgya/capsim/internal/domain"
	"github.com/talgya/capsim/internal/rng"
)

// redecideDelay bounds how long after completing (or cancelling) one
// action an agent waits before its next decide_action call. spec.md
// names decide_action (§4.4) but never names what schedules it — there
// is no DECIDE event kind in §3's Event enum. The chosen resolution
// (recorded in DESIGN.md): every agent-action dispatch ends by calling
// decide_action again for that same agent and, if it picks something,
// scheduling the resulting event after a short uniform delay, so the
// population stays continuously active without inventing a new event
// kind the spec doesn't name.
const (
	redecideDelayMin = 5
	redecideDelayMax = 15
)

// dispatchAction executes one PUBLISH_POST/SELF_DEV/PURCHASE_Lk event
// against its agent, buffers the resulting writes, enqueues any
// follow-up events, and immediately re-runs decide_action for the
// agent so the population keeps acting.
func (e *Engine) dispatchAction(ev *domain.Event) error {
	id, ok := actionAgentID(ev)
	if !ok {
		return fmt.Errorf("engine: event %d kind %s has no resolvable agent id", ev.ID, ev.Kind)
	}
	agent, ok := e.agentByID(id)
	if !ok {
		e.log.Warn("action event for unknown agent, skipping", zap.Uint64("agent_id", uint64(id)))
		return nil
	}

	factory := func(topic domain.Topic, parent *domain.TrendID, now float64) *domain.Trend {
		return e.makeTrend(agent, topic, parent, now)
	}
	result, err := e.executor.Execute(ev, agent, e.run.ID, e.nextEventID, factory)
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if result.Cancelled {
		e.log.Debug("action cancelled at execution, gate re-check failed", zap.String("kind", ev.Kind.String()))
	} else {
		e.met.ActionsTotal.WithLabelValues(ev.Kind.String(), purchaseLevelLabel(ev.Kind), agent.Profession.String()).Inc()
		e.dailyActionCounts[ev.Kind.String()]++
		e.repo.PersistHistory(result.History)
		for _, fu := range result.FollowUps {
			e.enqueue(fu)
		}
		if result.CreatedTrend != nil {
			e.trends[result.CreatedTrend.ID] = result.CreatedTrend
			e.repo.PersistTrends([]*domain.Trend{result.CreatedTrend})
		}
		e.repo.PersistAgents([]*domain.Agent{agent})
	}

	e.scheduleRedecision(agent, nil)
	return nil
}

// makeTrend backs executor.TrendFactory: it draws the jitter/
// sentiment/mean-status inputs domain.NewTrend needs from the
// engine's single seeded RNG and assigns the next trend id.
func (e *Engine) makeTrend(author *domain.Agent, topic domain.Topic, parent *domain.TrendID, now float64) *domain.Trend {
	jitter := rng.Uniform(e.src, 0.8, 1.2)
	sentimentDraw := e.src.Float64()
	meanStatus := domain.NormalizeMeanStatus(e.meanStatusOfAffineAgents(topic))

	trend := domain.NewTrend(e.nextTrendID(), e.run.ID, topic, author, parent, now, jitter, sentimentDraw, meanStatus)
	return trend
}

// meanStatusOfAffineAgents computes the mean social_status of agents
// whose profession has non-zero affinity for topic (spec §4.5's
// coverage_level derivation).
func (e *Engine) meanStatusOfAffineAgents(topic domain.Topic) float64 {
	var sum float64
	var n int
	for _, a := range e.agents {
		if domain.Affinity(a.Profession, topic) > 0 {
			sum += a.SocialStatus
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// dispatchTrendInfluence handles a TREND_INFLUENCE event: resolve the
// trend and author, filter and process the audience, buffer history,
// enqueue follow-up posts, and persist the trend's updated counters.
func (e *Engine) dispatchTrendInfluence(ev *domain.Event) error {
	payload, ok := ev.Payload.(domain.TrendInfluencePayload)
	if !ok {
		return fmt.Errorf("engine: TREND_INFLUENCE event %d has unexpected payload", ev.ID)
	}
	trend, ok := e.trends[payload.TrendID]
	if !ok {
		e.log.Warn("trend influence for unknown trend, skipping", zap.Uint64("trend_id", uint64(payload.TrendID)))
		return nil
	}
	author, _ := e.agentByID(trend.OriginatorID)

	all := make([]*domain.Agent, 0, len(e.agents))
	for _, a := range e.agents {
		all = append(all, a)
	}
	eligible := e.infl.FilterAudience(all, trend, ev.Timestamp)

	result := e.infl.Process(e.seed, trend, payload.DayIndex, ev.Timestamp, eligible, author)
	e.repo.PersistHistory(result.History)
	e.repo.PersistTrends([]*domain.Trend{trend})

	for _, fu := range result.FollowUps {
		parentID := fu.ParentTrendID
		followUpEv := &domain.Event{
			ID:           e.nextEventID(),
			SimulationID: e.run.ID,
			Priority:     domain.PriorityFor(domain.PublishPost),
			Timestamp:    ev.Timestamp + fu.DelayMinutes,
			Kind:         domain.PublishPost,
			Payload: domain.PostPayload{
				AuthorID:      fu.AuthorID,
				Topic:         fu.Topic,
				ParentTrendID: &parentID,
			},
		}
		e.enqueue(followUpEv)
	}
	return nil
}

// scheduleRedecision calls decide_action for agent and, if it selects
// an action, enqueues the matching event after a short random delay.
func (e *Engine) scheduleRedecision(agent *domain.Agent, trendCtx *domain.TrendContext) {
	in := domain.DecisionInputs{
		Now:            e.now,
		Cooldowns:      e.cfg.Cooldowns(),
		Limits:         e.cfg.Limits(),
		ScoreThreshold: e.cfg.DecideScoreThreshold,
		Trend:          trendCtx,
	}
	kind, ok := domain.DecideAction(agent, in, e.src)
	if !ok {
		return
	}

	delay := rng.Uniform(e.src, redecideDelayMin, redecideDelayMax)
	ev := &domain.Event{
		ID:           e.nextEventID(),
		SimulationID: e.run.ID,
		Timestamp:    e.now + delay,
	}

	switch kind {
	case domain.ActionPost:
		ev.Kind = domain.PublishPost
		ev.Priority = domain.PriorityFor(domain.PublishPost)
		topics := domain.AllTopics()
		ev.Payload = domain.PostPayload{AuthorID: agent.ID, Topic: topics[e.src.Intn(len(topics))]}
	case domain.ActionSelfDev:
		ev.Kind = domain.SelfDev
		ev.Priority = domain.PriorityFor(domain.SelfDev)
		ev.Payload = domain.SelfDevPayload{AgentID: agent.ID}
	case domain.ActionPurchaseL1, domain.ActionPurchaseL2, domain.ActionPurchaseL3:
		ev.Kind = purchaseEventKind(kind)
		ev.Priority = domain.PriorityFor(ev.Kind)
		ev.Payload = domain.PurchasePayload{AgentID: agent.ID, Level: kind}
	default:
		return
	}
	e.enqueue(ev)
}

func purchaseEventKind(level domain.ActionKind) domain.EventKind {
	switch level {
	case domain.ActionPurchaseL1:
		return domain.PurchaseL1
	case domain.ActionPurchaseL2:
		return domain.PurchaseL2
	default:
		return domain.PurchaseL3
	}
}

func purchaseLevelLabel(kind domain.EventKind) string {
	switch kind {
	case domain.PurchaseL1:
		return "L1"
	case domain.PurchaseL2:
		return "L2"
	case domain.PurchaseL3:
		return "L3"
	default:
		return ""
	}
}

// actionAgentID extracts the acting agent's id from any agent-action
// event's payload.
func actionAgentID(ev *domain.Event) (domain.AgentID, bool) {
	switch p := ev.Payload.(type) {
	case domain.PostPayload:
		return p.AuthorID, true
	case domain.SelfDevPayload:
		return p.AgentID, true
	case domain.PurchasePayload:
		return p.AgentID, true
	default:
		return 0, false
	}
}
