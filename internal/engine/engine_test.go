package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/talgya/capsim/internal/clock"
	"github.com/talgya/capsim/internal/config"
	"github.com/talgya/capsim/internal/domain"
	"github.com/talgya/capsim/internal/telemetry"
)

// fakeRepo is an in-memory repository.Repository for exercising the
// engine without a database, grounded on the batching repo's own
// Repository contract (internal/repository/repository.go).
type fakeRepo struct {
	mu sync.Mutex

	activeRuns   []domain.Run
	runs         map[string]domain.Run
	statusCalls  []domain.RunStatus
	agents       []*domain.Agent
	trends       []*domain.Trend
	events       []*domain.Event
	history      []domain.HistoryRecord
	archived     []domain.TrendID
	flushCalls   int
	closeCalls   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{runs: make(map[string]domain.Run)}
}

func (f *fakeRepo) GetActiveRuns(ctx context.Context) ([]domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeRuns, nil
}

func (f *fakeRepo) CreateRun(ctx context.Context, run domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRepo) LoadStaticTables(ctx context.Context) (domain.StaticTables, error) {
	return domain.DefaultStaticTables(), nil
}

func (f *fakeRepo) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, status)
	r := f.runs[id]
	r.Status = status
	f.runs[id] = r
	return nil
}

func (f *fakeRepo) PersistAgents(agents []*domain.Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = append(f.agents, agents...)
}

func (f *fakeRepo) PersistTrends(trends []*domain.Trend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trends = append(f.trends, trends...)
}

func (f *fakeRepo) PersistEvents(events []*domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
}

func (f *fakeRepo) PersistHistory(records []domain.HistoryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, records...)
}

func (f *fakeRepo) ArchiveTrend(ctx context.Context, id domain.TrendID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeRepo) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls++
	return nil
}

func (f *fakeRepo) Close() error {
	f.closeCalls++
	return nil
}

func (f *fakeRepo) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

func (f *fakeRepo) lastStatus() domain.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusCalls) == 0 {
		return domain.Initializing
	}
	return f.statusCalls[len(f.statusCalls)-1]
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.MaxQueueSize = 10000
	return cfg
}

func newTestEngine(t *testing.T, repo *fakeRepo, cfg *config.Config) *Engine {
	t.Helper()
	return New(Deps{
		Config:  cfg,
		Repo:    repo,
		Logger:  zaptest.NewLogger(t),
		Metrics: telemetry.NewMetrics(),
		Clock:   clock.NewFastClock(),
		Seed:    42,
	})
}

func TestBootstrapRejectsWhenActiveRunExists(t *testing.T) {
	repo := newFakeRepo()
	repo.activeRuns = []domain.Run{{ID: "existing", Status: domain.Running}}
	e := newTestEngine(t, repo, testConfig())

	err := e.Bootstrap(context.Background(), "sim-1", 10, 0)
	require.ErrorIs(t, err, domain.ErrActiveSimulationExists)
	assert.Empty(t, repo.agents, "no agents should be persisted when bootstrap is rejected")
}

func TestBootstrapSpawnsAgentsAndSchedulesSystemEvents(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.LawEventEnabled = true
	cfg.WeatherEventEnabled = true
	e := newTestEngine(t, repo, cfg)

	err := e.Bootstrap(context.Background(), "sim-1", 20, 0)
	require.NoError(t, err)

	assert.Len(t, e.agents, 20)
	assert.Equal(t, domain.Running, e.run.Status)
	assert.Contains(t, repo.statusCalls, domain.Running)
	assert.Len(t, repo.agents, 20)

	// DAILY_RESET, ENERGY_RECOVERY, SAVE_DAILY_TREND, LAW, WEATHER, plus
	// the ~5% initial PUBLISH_POST seed events.
	assert.GreaterOrEqual(t, e.queue.Size(), 5)
}

func TestBootstrapSkipsGatedEventsWhenDisabled(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.LawEventEnabled = false
	cfg.WeatherEventEnabled = false
	e := newTestEngine(t, repo, cfg)

	err := e.Bootstrap(context.Background(), "sim-1", 20, 0)
	require.NoError(t, err)

	for {
		ev, ok := e.queue.Pop()
		if !ok {
			break
		}
		assert.NotEqual(t, domain.Law, ev.Kind)
		assert.NotEqual(t, domain.Weather, ev.Kind)
	}
}

func TestRunCompletesWhenQueueDrains(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-empty"}

	err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, e.run.Status)
	assert.Equal(t, domain.Completed, repo.lastStatus())
	assert.Equal(t, 1, repo.flushCalls)
}

func TestRunForceStopsWhenContextAlreadyCancelled(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-cancelled"}
	e.queue.Push(&domain.Event{ID: 1, Kind: domain.DailyReset, Timestamp: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ForceStopped, e.run.Status)
}

func TestRunRequestShutdownDrainsDueActionsThenCompletes(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-shutdown"}

	agent := domain.NewAgent(1, "agent-1", domain.Blogger)
	e.agents[agent.ID] = agent
	e.queue.Push(&domain.Event{
		ID: 1, Kind: domain.SelfDev, Timestamp: 0,
		Payload: domain.SelfDevPayload{AgentID: agent.ID},
	})

	e.RequestShutdown()
	err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, e.run.Status)
	assert.Contains(t, repo.statusCalls, domain.Stopping)
	assert.Contains(t, repo.statusCalls, domain.Completed)
}

func TestRunStopsAtHorizonWithoutDrainingEventsPastIt(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-horizon", HorizonMinutes: 100}
	e.queue.Push(&domain.Event{ID: 1, Kind: domain.DailyReset, Timestamp: 200})

	err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, e.run.Status)
	assert.Equal(t, 1, e.queue.Size(), "the past-horizon event must stay unpopped")
}

func TestScheduleSystemEventSkipsReschedulePastHorizon(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-horizon", HorizonMinutes: 1000}
	e.now = 900

	e.scheduleSystemEvent(domain.DailyReset, 1440)

	assert.Equal(t, 0, e.queue.Size(), "reschedule at t=2340 falls past the 1000-minute horizon")
}

func TestDispatchUnknownEventKindDoesNotError(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	err := e.dispatch(context.Background(), &domain.Event{ID: 1, Kind: domain.EventKind(255)})
	assert.NoError(t, err)
}

func newResetTestAgent() *domain.Agent {
	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	ranges := domain.ProfessionAttributeRanges[domain.Blogger]
	a.TimeBudget = ranges.TimeBudget.Mid() - 3
	a.PurchasesToday = 2
	a.ExposureHistory = map[uint64]float64{}
	for i := 0; i < 5; i++ {
		a.ExposureHistory[uint64(i+1)] = float64(i * 100)
	}
	return a
}

func TestHandleDailyResetRestoresTimeBudgetAndTrimsExposure(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.CacheMaxSize = 2
	e := newTestEngine(t, repo, cfg)
	e.run = domain.Run{ID: "sim-1"}
	e.now = 1440

	a := newResetTestAgent()
	e.agents[a.ID] = a

	err := e.handleDailyReset()
	require.NoError(t, err)

	mid := domain.ProfessionAttributeRanges[domain.Blogger].TimeBudget.Mid()
	assert.InDelta(t, mid, a.TimeBudget, 0.5)
	assert.Equal(t, 0, a.PurchasesToday)
	assert.Len(t, a.ExposureHistory, 2)
	assert.NotEmpty(t, repo.history)
	assert.Equal(t, 1, e.queue.Size())
}

func TestHandleDailyResetRejectsNegativePurchases(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	a := newResetTestAgent()
	a.PurchasesToday = -1
	e.agents[a.ID] = a

	err := e.handleDailyReset()
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestHandleEnergyRecoveryBoostsLowEnergyToFive(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	a.EnergyLevel = 1
	e.agents[a.ID] = a

	err := e.handleEnergyRecovery()
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.EnergyLevel)
	assert.NotEmpty(t, repo.history)
}

func TestHandleEnergyRecoveryCapsHighEnergyAtFive(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	a.EnergyLevel = 4
	e.agents[a.ID] = a

	err := e.handleEnergyRecovery()
	require.NoError(t, err)
	assert.Equal(t, 5.0, a.EnergyLevel)
}

func TestHandleLawDecaysFinancialCapabilityAndRewardsPurchasers(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	a.FinancialCapability = 3
	a.SocialStatus = 1
	a.PurchasesToday = 2
	e.agents[a.ID] = a

	err := e.handleLaw()
	require.NoError(t, err)
	assert.InDelta(t, 2.99, a.FinancialCapability, 1e-9)
	assert.Greater(t, a.SocialStatus, 1.0)
	assert.Len(t, repo.history, 2)
	assert.Equal(t, 1, e.queue.Size())
}

func TestHandleLawSkipsRewardWhenNoPurchases(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}

	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	a.FinancialCapability = 3
	a.SocialStatus = 1
	a.PurchasesToday = 0
	e.agents[a.ID] = a

	err := e.handleLaw()
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.SocialStatus)
	assert.Len(t, repo.history, 1)
}

func TestHandleWeatherFallsBackToFairWeatherWithoutClient(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}
	e.weather = nil

	a := domain.NewAgent(1, "agent-1", domain.Blogger)
	a.EnergyLevel = 3
	e.agents[a.ID] = a

	err := e.handleWeather()
	require.NoError(t, err)
	assert.InDelta(t, 3.1, a.EnergyLevel, 1e-9)
	assert.Equal(t, 1, e.queue.Size())
}

func TestHandleSaveDailyTrendResetsActionCountsAndReschedules(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(t, repo, testConfig())
	e.run = domain.Run{ID: "sim-1"}
	e.now = 1440

	e.dailyActionCounts[domain.PublishPost.String()] = 3
	e.dailyActionCounts[domain.SelfDev.String()] = 1

	trend := domain.NewTrend(1, e.run.ID, domain.Economic, domain.NewAgent(1, "agent-1", domain.Blogger), nil, 0, 1, 0.5, 0.5)
	e.trends[trend.ID] = trend

	err := e.handleSaveDailyTrend(context.Background())
	require.NoError(t, err)

	assert.Empty(t, e.dailyActionCounts)
	assert.Equal(t, 1, e.queue.Size())
}

func TestScheduleSystemEventRejectionIsLoggedNotFatal(t *testing.T) {
	repo := newFakeRepo()
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	e := newTestEngine(t, repo, cfg)
	e.run = domain.Run{ID: "sim-1"}

	e.scheduleSystemEvent(domain.DailyReset, 10)
	assert.NotPanics(t, func() { e.scheduleSystemEvent(domain.EnergyRecovery, 10) })
	assert.Equal(t, 1, e.queue.Size(), "second system event should be rejected, not evict the first")
}
