// Package engine owns bootstrap, the main discrete-event loop, system
// event scheduling, the single-run invariant, and shutdown (spec
// §4.8), grounded on the teacher's cmd/worldsim/main.go bootstrap
// ordering (open store → generate or load state → wire callbacks →
// install signal handler → Run() → final save) and
// internal/engine/simulation.go's per-tier dispatch, restructured from
// fixed-interval tick callbacks into discrete-event dispatch by
// Event.Kind.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talgya/capsim/internal/clock"
	"github.com/talgya/capsim/internal/config"
	"github.com/talgya/capsim/internal/domain"
	"github.com/talgya/capsim/internal/eventqueue"
	"github.com/talgya/capsim/internal/executor"
	"github.com/talgya/capsim/internal/influence"
	"github.com/talgya/capsim/internal/repository"
	"github.com/talgya/capsim/internal/telemetry"
	"github.com/talgya/capsim/internal/weather"
)

// Engine is the single goroutine that owns current_sim_time, the event
// queue, and every agent/trend in a run (spec §5's "no other task
// mutates simulation state").
type Engine struct {
	cfg  *config.Config
	repo repository.Repository
	log  *zap.Logger
	met  *telemetry.Metrics
	clk  clock.Clock

	queue    *eventqueue.Queue
	executor *executor.Executor
	infl     *influence.Processor
	weather  *weather.Client

	src  *rand.Rand
	seed int64

	run     domain.Run
	agents  map[domain.AgentID]*domain.Agent
	trends  map[domain.TrendID]*domain.Trend
	nextEID uint64
	nextTID uint64

	now float64

	dailyActionCounts map[string]uint64

	mu          sync.Mutex
	shutdownReq bool
}

// Deps bundles the collaborators Bootstrap wires together.
type Deps struct {
	Config  *config.Config
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Clock   clock.Clock
	Weather *weather.Client
	Seed    int64
}

// New constructs an Engine ready for Bootstrap. d.Seed is used as
// given, zero included, to seed the engine's random source.
func New(d Deps) *Engine {
	return &Engine{
		cfg:               d.Config,
		repo:              d.Repo,
		log:               d.Logger,
		met:               d.Metrics,
		clk:               d.Clock,
		weather:           d.Weather,
		seed:              d.Seed,
		src:               rand.New(rand.NewSource(d.Seed)),
		queue:             eventqueue.New(d.Config.MaxQueueSize),
		executor:          executor.New(d.Config.EffectsByKind(), d.Config.Cooldowns(), d.Config.Limits()),
		infl:              influence.New(float64(d.Config.ExposureResetMin)),
		agents:            make(map[domain.AgentID]*domain.Agent),
		trends:            make(map[domain.TrendID]*domain.Trend),
		dailyActionCounts: make(map[string]uint64),
	}
}

// Bootstrap implements spec §4.8's ordered bootstrap sequence,
// including step 3's "load static tables" via
// Repository.LoadStaticTables (assigned onto the domain package's
// affinity/profession-range/interest-range/topic-mapping vars before
// spawnAgents draws from them). runID must be unique per process
// invocation; agentCount is the initial population size;
// horizonMinutes bounds the run (0 = unbounded, driven purely by
// shutdown).
func (e *Engine) Bootstrap(ctx context.Context, runID string, agentCount int, horizonMinutes float64) error {
	active, err := e.repo.GetActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
	if len(active) > 0 {
		return domain.ErrActiveSimulationExists
	}

	e.run = domain.Run{
		ID:             runID,
		Status:         domain.Initializing,
		StartWallTime:  time.Now().UTC(),
		HorizonMinutes: horizonMinutes,
		AgentCount:     agentCount,
		Seed:           e.seed,
	}
	if err := e.repo.CreateRun(ctx, e.run); err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}

	tables, err := e.repo.LoadStaticTables(ctx)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
	domain.AffinityMap = tables.Affinity
	domain.ProfessionAttributeRanges = tables.ProfessionRanges
	domain.InterestRanges = tables.InterestRanges
	domain.TopicInterestMapping = tables.TopicMapping
	domain.RecomputeShopWeights()

	agents := e.spawnAgents(agentCount)
	for _, a := range agents {
		e.agents[a.ID] = a
	}
	e.repo.PersistAgents(agents)

	e.scheduleSystemEvent(domain.DailyReset, 1440)
	e.scheduleSystemEvent(domain.EnergyRecovery, float64(e.cfg.EnergyRecoveryIntervalMin))
	e.scheduleSystemEvent(domain.SaveDailyTrend, 1440)
	if e.cfg.LawEventEnabled {
		e.scheduleSystemEvent(domain.Law, 1440)
	}
	if e.cfg.WeatherEventEnabled {
		e.scheduleSystemEvent(domain.Weather, 1440)
	}

	e.seedInitialPosts(agents)

	if err := e.repo.UpdateRunStatus(ctx, e.run.ID, domain.Running); err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
	e.run.Status = domain.Running
	e.met.SimulationsActive.Set(1)
	e.log.Info("simulation bootstrapped", zap.String("sim_id", e.run.ID), zap.Int("agents", agentCount))
	return nil
}

// scheduleSystemEvent pushes a SYSTEM-priority event at e.now+offset,
// unless that timestamp falls at or past e.run.HorizonMinutes (spec
// §4.8 main-loop step (a): "no more system events due before
// horizon"). A zero HorizonMinutes means unbounded, matching
// Bootstrap's "0 = unbounded" contract. This is the single gate every
// handler's self-reschedule (DAILY_RESET, ENERGY_RECOVERY,
// SAVE_DAILY_TREND, LAW, WEATHER) goes through, so none of them need
// their own horizon check. System events are never evicted by
// admission control (spec §4.2), but a queue already full of SYSTEM
// events refuses a new one; that refusal is logged at ERROR and the
// event is dropped without stopping the run.
func (e *Engine) scheduleSystemEvent(kind domain.EventKind, offset float64) {
	ts := e.now + offset
	if e.run.HorizonMinutes > 0 && ts >= e.run.HorizonMinutes {
		e.log.Debug("system event falls past horizon, not scheduling",
			zap.String("kind", kind.String()), zap.Float64("timestamp", ts), zap.Float64("horizon_minutes", e.run.HorizonMinutes))
		return
	}
	ev := &domain.Event{
		ID:           e.nextEventID(),
		SimulationID: e.run.ID,
		Priority:     domain.PriorityFor(kind),
		Timestamp:    ts,
		Kind:         kind,
	}
	if err := e.queue.Push(ev); err != nil {
		e.log.Error("system event rejected by queue", zap.Error(err), zap.String("kind", kind.String()))
	}
}

func (e *Engine) nextEventID() uint64 {
	e.nextEID++
	return e.nextEID
}

func (e *Engine) nextTrendID() domain.TrendID {
	e.nextTID++
	return domain.TrendID(e.nextTID)
}

// seedInitialPosts schedules a handful of opening PUBLISH_POST events
// evenly in [0, 60] with uniform jitter, per spec §4.8 step 5's
// "optionally seed initial PUBLISH_POST events."
func (e *Engine) seedInitialPosts(agents []*domain.Agent) {
	if len(agents) == 0 {
		return
	}
	n := len(agents) / 20 // ~5% of the population opens the run
	if n < 1 {
		n = 1
	}
	if n > len(agents) {
		n = len(agents)
	}
	for i := 0; i < n; i++ {
		a := agents[i]
		ts := float64(i) / float64(n) * 60
		ts += e.src.Float64() * (60.0 / float64(n))
		topics := domain.AllTopics()
		topic := topics[e.src.Intn(len(topics))]

		ev := &domain.Event{
			ID:           e.nextEventID(),
			SimulationID: e.run.ID,
			Priority:     domain.PriorityFor(domain.PublishPost),
			Timestamp:    ts,
			Kind:         domain.PublishPost,
			Payload:      domain.PostPayload{AuthorID: a.ID, Topic: topic},
		}
		if err := e.queue.Push(ev); err != nil {
			e.log.Warn("seed post rejected", zap.Error(err))
		}
	}
}

// RequestShutdown marks the engine for graceful drain on its next loop
// iteration (spec §4.8's Shutdown section).
func (e *Engine) RequestShutdown() {
	e.mu.Lock()
	e.shutdownReq = true
	e.mu.Unlock()
}

func (e *Engine) shutdownRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdownReq
}

// Run drives the main loop until the queue is exhausted, the next due
// event falls at or past e.run.HorizonMinutes (when set), shutdown is
// requested, or ctx is cancelled. Implements spec §4.8's loop
// invariant: current_sim_time is monotonically non-decreasing and
// equals the timestamp of the last popped event.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return e.shutdown(context.Background(), domain.ForceStopped)
		}
		if e.shutdownRequested() {
			return e.shutdown(ctx, domain.Completed)
		}

		ts, ok := e.queue.PeekTimestamp()
		if !ok {
			return e.shutdown(ctx, domain.Completed)
		}
		if e.run.HorizonMinutes > 0 && ts >= e.run.HorizonMinutes {
			e.log.Info("horizon reached, no more system events due before it", zap.Float64("horizon_minutes", e.run.HorizonMinutes))
			return e.shutdown(ctx, domain.Completed)
		}

		if err := e.clk.WaitUntil(ctx, ts); err != nil {
			return e.shutdown(context.Background(), domain.ForceStopped)
		}

		ev, ok := e.queue.Pop()
		if !ok {
			continue
		}
		e.now = ev.Timestamp
		e.clk.Advance(e.now)

		start := time.Now()
		if err := e.dispatch(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				return e.abort(ctx, err)
			}
			e.log.Error("event dispatch failed", zap.Error(err), zap.String("kind", ev.Kind.String()))
		}
		e.met.EventLatencyMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
		e.met.QueueLength.Set(float64(e.queue.Size()))
	}
}

// dispatch routes a popped event to the agent-action executor, the
// influence processor, or a system-event handler (spec §4.8 step c).
func (e *Engine) dispatch(ctx context.Context, ev *domain.Event) error {
	switch ev.Kind {
	case domain.PublishPost, domain.SelfDev, domain.PurchaseL1, domain.PurchaseL2, domain.PurchaseL3:
		return e.dispatchAction(ev)
	case domain.TrendInfluence:
		return e.dispatchTrendInfluence(ev)
	case domain.DailyReset:
		return e.handleDailyReset()
	case domain.EnergyRecovery:
		return e.handleEnergyRecovery()
	case domain.SaveDailyTrend:
		return e.handleSaveDailyTrend(ctx)
	case domain.Law:
		return e.handleLaw()
	case domain.Weather:
		return e.handleWeather()
	default:
		e.log.Error("unknown event kind", zap.String("kind", ev.Kind.String()))
		return nil
	}
}

func (e *Engine) agentByID(id domain.AgentID) (*domain.Agent, bool) {
	a, ok := e.agents[id]
	return a, ok
}

// enqueue pushes ev, logging+counting QueueFull as a non-fatal warning
// per spec §4.6's "enqueue failures never crash the loop." An admission
// that evicted a worse peer counts toward queue_full_total too.
func (e *Engine) enqueue(ev *domain.Event) {
	evictionsBefore, _ := e.queue.Stats()
	if err := e.queue.Push(ev); err != nil {
		e.met.QueueFullTotal.Inc()
		e.log.Warn("enqueue rejected, queue full", zap.String("kind", ev.Kind.String()))
		return
	}
	if evictionsAfter, _ := e.queue.Stats(); evictionsAfter > evictionsBefore {
		e.met.QueueFullTotal.Inc()
	}
}

// shutdown implements spec §4.8's graceful Shutdown: drain pending
// AGENT_ACTION events whose timestamp <= current_sim_time, flush the
// Repository, and mark the terminal status. Bounded by
// SHUTDOWN_TIMEOUT_SEC; a drain that doesn't finish in time reports
// FORCE_STOPPED instead of the requested terminal status.
func (e *Engine) shutdown(ctx context.Context, terminal domain.RunStatus) error {
	_ = e.repo.UpdateRunStatus(ctx, e.run.ID, domain.Stopping)

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		for {
			ts, ok := e.queue.PeekTimestamp()
			if !ok || ts > e.now {
				break
			}
			ev, ok := e.queue.Pop()
			if !ok {
				break
			}
			_ = e.dispatch(drainCtx, ev)
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-drainCtx.Done():
		terminal = domain.ForceStopped
		e.log.Error("shutdown drain exceeded timeout", zap.Error(domain.ErrShutdownTimeout))
	}

	if err := e.repo.Flush(drainCtx); err != nil {
		e.log.Error("final flush failed", zap.Error(err))
	}

	if err := e.repo.UpdateRunStatus(context.Background(), e.run.ID, terminal); err != nil {
		e.log.Error("failed to set terminal run status", zap.Error(err))
	}
	e.run.Status = terminal
	e.met.SimulationsActive.Set(0)
	e.log.Info("simulation stopped", zap.String("sim_id", e.run.ID), zap.String("status", terminal.String()))
	return nil
}

// abort implements spec §7's fatal-path unwinding: set Run FAILED,
// flush, and surface the cause. Grounded on the teacher's single-
// exit-path `defer db.Close()` discipline in cmd/worldsim/main.go.
func (e *Engine) abort(ctx context.Context, cause error) error {
	e.log.Error("fatal invariant violation, aborting run", zap.Error(cause))
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := e.repo.Flush(flushCtx); err != nil {
		e.log.Error("flush during abort failed", zap.Error(err))
	}
	if err := e.repo.UpdateRunStatus(context.Background(), e.run.ID, domain.Failed); err != nil {
		e.log.Error("failed to mark run FAILED during abort", zap.Error(err))
	}
	e.run.Status = domain.Failed
	e.met.SimulationsActive.Set(0)
	return fmt.Errorf("engine: aborted: %w", cause)
}
