package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/talgya/capsim/internal/domain"
	"github.com/talgya/capsim/internal/weather"
)

// handleDailyReset implements spec §4.8's DAILY_RESET handler: reset
// purchases_today, restore time_budget to the profession's midpoint,
// and reschedule. CACHE_MAX_SIZE's consumer (DESIGN.md's open-question
// decision (e)) is bound here: trimming ExposureHistory once a day is the
// natural place to bound its growth, the same cadence the rest of the
// per-day counters reset on.
func (e *Engine) handleDailyReset() error {
	var dirty []*domain.Agent
	var history []domain.HistoryRecord
	for _, a := range e.agents {
		if a.PurchasesToday < 0 {
			return fmt.Errorf("%w: agent %d has negative purchases_today", domain.ErrInvariantViolation, a.ID)
		}
		a.PurchasesToday = 0
		mid := quantizeHalf(domain.ProfessionAttributeRanges[a.Profession].TimeBudget.Mid())
		history = append(history, a.ApplyDelta(domain.TimeBudget, mid-a.TimeBudget, e.now, "DailyReset", nil))
		a.TrimExposureHistory(e.cfg.CacheMaxSize)
		dirty = append(dirty, a)
	}
	e.repo.PersistHistory(history)
	e.repo.PersistAgents(dirty)
	e.scheduleSystemEvent(domain.DailyReset, 1440)
	e.log.Info("daily reset complete", zap.Int("agents", len(dirty)))
	return nil
}

// handleEnergyRecovery implements spec §4.8's ENERGY_RECOVERY handler.
func (e *Engine) handleEnergyRecovery() error {
	var dirty []*domain.Agent
	var history []domain.HistoryRecord
	for _, a := range e.agents {
		var delta float64
		if a.EnergyLevel < 3.0 {
			delta = 5.0 - a.EnergyLevel
		} else {
			delta = math.Min(5.0, a.EnergyLevel+2.0) - a.EnergyLevel
		}
		history = append(history, a.ApplyDelta(domain.EnergyLevel, delta, e.now, "EnergyRecovery", nil))
		dirty = append(dirty, a)
	}
	e.repo.PersistHistory(history)
	e.repo.PersistAgents(dirty)
	e.scheduleSystemEvent(domain.EnergyRecovery, float64(e.cfg.EnergyRecoveryIntervalMin))
	e.log.Info("energy recovery complete", zap.Int("agents", len(dirty)))
	return nil
}

// dayAggregate is SAVE_DAILY_TREND's per-(topic, day) rollup (spec
// §4.8). It is observational only (SPEC_FULL.md §9) — attached to the
// daily log line, never fed back into simulation state.
type dayAggregate struct {
	topic            domain.Topic
	totalInteractions uint64
	sumVirality      float64
	count            int
	uniqueAuthors    map[domain.AgentID]struct{}
	topTrendID       domain.TrendID
	topVirality      float64
}

// handleSaveDailyTrend implements spec §4.8's SAVE_DAILY_TREND
// handler: aggregate (topic, day) -> stats, persist trend state, log
// the rollup plus a per-category action-count breakdown (recovered
// from the teacher's TickDay daily report), then run the archival
// pass.
func (e *Engine) handleSaveDailyTrend(ctx context.Context) error {
	dayIndex := uint64(e.now) / 1440
	aggregates := make(map[domain.Topic]*dayAggregate)

	trends := make([]*domain.Trend, 0, len(e.trends))
	for _, t := range e.trends {
		trends = append(trends, t)
		agg, ok := aggregates[t.Topic]
		if !ok {
			agg = &dayAggregate{topic: t.Topic, uniqueAuthors: make(map[domain.AgentID]struct{})}
			aggregates[t.Topic] = agg
		}
		agg.totalInteractions += t.TotalInteractions
		agg.sumVirality += t.CurrentVirality
		agg.count++
		agg.uniqueAuthors[t.OriginatorID] = struct{}{}
		if t.CurrentVirality > agg.topVirality {
			agg.topVirality = t.CurrentVirality
			agg.topTrendID = t.ID
		}
	}
	if len(trends) > 0 {
		e.repo.PersistTrends(trends)
	}

	topics := make([]domain.Topic, 0, len(aggregates))
	for topic := range aggregates {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	for _, topic := range topics {
		agg := aggregates[topic]
		avgVirality := agg.sumVirality / float64(agg.count)
		e.log.Info("daily trend aggregate",
			zap.Uint64("day", dayIndex),
			zap.String("topic", topic.String()),
			zap.Uint64("total_interactions", agg.totalInteractions),
			zap.Float64("avg_virality", avgVirality),
			zap.Int("unique_authors", len(agg.uniqueAuthors)),
			zap.Uint64("top_trend_id", uint64(agg.topTrendID)),
		)
	}

	e.log.Info("daily report",
		zap.Uint64("day", dayIndex),
		zap.Int("agents", len(e.agents)),
		zap.Uint64("events_post", e.dailyActionCounts[domain.PublishPost.String()]),
		zap.Uint64("events_self_dev", e.dailyActionCounts[domain.SelfDev.String()]),
		zap.Uint64("events_purchase_l1", e.dailyActionCounts[domain.PurchaseL1.String()]),
		zap.Uint64("events_purchase_l2", e.dailyActionCounts[domain.PurchaseL2.String()]),
		zap.Uint64("events_purchase_l3", e.dailyActionCounts[domain.PurchaseL3.String()]),
	)
	e.dailyActionCounts = make(map[string]uint64)

	if err := e.archiveTrends(ctx); err != nil {
		return err
	}

	e.scheduleSystemEvent(domain.SaveDailyTrend, 1440)
	return nil
}

// archiveTrends implements spec §4.5's archival predicate, run once
// per SAVE_DAILY_TREND as spec §4.8 directs.
func (e *Engine) archiveTrends(ctx context.Context) error {
	for id, t := range e.trends {
		if t.ShouldArchive(e.now, e.cfg.TrendArchiveThresholdDays) {
			if err := e.repo.ArchiveTrend(ctx, id); err != nil {
				e.log.Error("archive trend failed", zap.Error(err), zap.Uint64("trend_id", uint64(id)))
				continue
			}
			delete(e.trends, id)
		}
	}
	return nil
}

// handleLaw implements SPEC_FULL.md §9's LAW event: a small
// profession-independent financial_capability decay plus a
// social_status reward proportional to that agent's purchases today,
// generalizing the teacher's settlement tax system
// (internal/engine/governance.go collectTaxes) to CAPSIM's non-spatial
// agent pool. Gated by LAW_EVENT_ENABLED; the scheduler only ever
// enqueues this event when the config flag was set at bootstrap.
func (e *Engine) handleLaw() error {
	var dirty []*domain.Agent
	var history []domain.HistoryRecord
	for _, a := range e.agents {
		history = append(history, a.ApplyDelta(domain.FinancialCapability, -0.01, e.now, "Law", nil))
		if a.PurchasesToday > 0 {
			reward := 0.01 * float64(a.PurchasesToday)
			history = append(history, a.ApplyDelta(domain.SocialStatus, reward, e.now, "Law", nil))
		}
		dirty = append(dirty, a)
	}
	e.repo.PersistHistory(history)
	e.repo.PersistAgents(dirty)
	e.scheduleSystemEvent(domain.Law, 1440)
	return nil
}

// handleWeather implements SPEC_FULL.md §9's WEATHER event: fetch
// current conditions (or fall back to fair-weather defaults when no
// client is configured or the fetch fails) and apply the resulting
// energy_level delta to every agent.
func (e *Engine) handleWeather() error {
	var conditions *weather.Conditions
	if e.weather != nil {
		c, err := e.weather.Fetch()
		if err != nil {
			e.log.Debug("weather fetch failed, using fair-weather default", zap.Error(err))
		} else {
			conditions = c
		}
	} else {
		e.log.Debug("no weather client configured, using fair-weather default")
	}

	delta := weather.MapToEnergyDelta(conditions)
	var dirty []*domain.Agent
	var history []domain.HistoryRecord
	for _, a := range e.agents {
		history = append(history, a.ApplyDelta(domain.EnergyLevel, delta, e.now, "Weather", nil))
		dirty = append(dirty, a)
	}
	e.repo.PersistHistory(history)
	e.repo.PersistAgents(dirty)
	e.scheduleSystemEvent(domain.Weather, 1440)
	return nil
}
