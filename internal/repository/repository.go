// Package repository implements the batched, retrying persistence
// layer (spec §4.3/§6.2), grounded on the teacher's
// internal/persistence/db.go: sqlx.Open("sqlite", ...) with
// WAL+busy_timeout, a single migrate() schema string, Preparex+Exec
// inside a transaction per table, and conn.Select/conn.Get for reads.
// The batching/retry/async-flush machinery itself is new (the teacher
// persists synchronously once per tick) and is grounded on
// golang.org/x/sync/errgroup's producer/consumer pattern, used the
// same way by niceyeti-tabular's codenerd worker coordination.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/capsim/internal/domain"
)

// Repository is the persistence contract spec §6.2 names.
type Repository interface {
	GetActiveRuns(ctx context.Context) ([]domain.Run, error)
	CreateRun(ctx context.Context, run domain.Run) error
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error

	// LoadStaticTables returns the affinity, profession-range,
	// interest-range, and topic-mapping lookups (spec §6.2's
	// load_static_tables, Bootstrap step 3). On first call against a
	// fresh database it seeds the table with domain.DefaultStaticTables()
	// and returns that; later calls read back whatever was seeded,
	// making the tables a swappable external document rather than a
	// compiled-in literal.
	LoadStaticTables(ctx context.Context) (domain.StaticTables, error)

	PersistAgents(agents []*domain.Agent)
	PersistTrends(trends []*domain.Trend)
	PersistEvents(events []*domain.Event)
	PersistHistory(records []domain.HistoryRecord)

	ArchiveTrend(ctx context.Context, id domain.TrendID) error
	Flush(ctx context.Context) error
	Close() error
}

// batch is the union of buffered record kinds spec §4.3 names.
type batch struct {
	agents  []*domain.Agent
	trends  []*domain.Trend
	events  []*domain.Event
	history []domain.HistoryRecord
}

func (b *batch) empty() bool {
	return len(b.agents) == 0 && len(b.trends) == 0 && len(b.events) == 0 && len(b.history) == 0
}

func (b *batch) count() int {
	return len(b.agents) + len(b.trends) + len(b.events) + len(b.history)
}

// SQLiteRepository is the spec's Repository backed by modernc.org/sqlite.
type SQLiteRepository struct {
	conn *sqlx.DB

	batchSize     int
	flushInterval time.Duration
	backoffs      []time.Duration

	onCommitError func(table string, err error) // hook for telemetry/logging

	mu      sync.Mutex
	pending batch

	flushCh chan chan error
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// Config configures batching behaviour (spec §6.1: BATCH_SIZE,
// flush interval derived from SIM_SPEED_FACTOR, BATCH_RETRY_BACKOFFS).
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	Backoffs      []time.Duration
	OnCommitError func(table string, err error)
}

// Open opens (creating if absent) a SQLite database at path, applies
// the schema migration, and starts the background flusher goroutine.
func Open(path string, cfg Config) (*SQLiteRepository, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}

	r := &SQLiteRepository{
		conn:          conn,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		backoffs:      cfg.Backoffs,
		onCommitError: cfg.OnCommitError,
		flushCh:       make(chan chan error),
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	if r.flushInterval <= 0 {
		r.flushInterval = time.Second
	}
	if len(r.backoffs) == 0 {
		r.backoffs = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	if r.onCommitError == nil {
		r.onCommitError = func(string, error) {}
	}

	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	g.Go(func() error { return r.runFlusher(gctx) })

	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_wall_time DATETIME NOT NULL,
		horizon_minutes REAL NOT NULL,
		agent_count INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		config_snapshot TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		profession INTEGER NOT NULL,
		financial_capability REAL NOT NULL,
		trend_receptivity REAL NOT NULL,
		social_status REAL NOT NULL,
		energy_level REAL NOT NULL,
		time_budget REAL NOT NULL,
		interests_json TEXT NOT NULL,
		exposure_history_json TEXT NOT NULL,
		purchases_today INTEGER NOT NULL,
		last_post_ts REAL,
		last_self_dev_ts REAL,
		last_purchase_ts_json TEXT NOT NULL,
		relationships_json TEXT NOT NULL,
		alive INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trends (
		id INTEGER PRIMARY KEY,
		simulation_id TEXT NOT NULL,
		topic INTEGER NOT NULL,
		originator_id INTEGER NOT NULL,
		parent_trend_id INTEGER,
		created_at REAL NOT NULL,
		base_virality REAL NOT NULL,
		current_virality REAL NOT NULL,
		coverage_level INTEGER NOT NULL,
		total_interactions INTEGER NOT NULL,
		sentiment INTEGER NOT NULL,
		last_interaction_ts REAL NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		simulation_id TEXT NOT NULL,
		priority INTEGER NOT NULL,
		timestamp REAL NOT NULL,
		kind INTEGER NOT NULL,
		payload_json TEXT
	);

	CREATE TABLE IF NOT EXISTS static_tables (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		affinity_json TEXT NOT NULL,
		profession_ranges_json TEXT NOT NULL,
		interest_ranges_json TEXT NOT NULL,
		topic_mapping_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attribute_history (
		agent_id INTEGER NOT NULL,
		attribute INTEGER NOT NULL,
		sim_minute REAL NOT NULL,
		old_value REAL NOT NULL,
		new_value REAL NOT NULL,
		delta REAL NOT NULL,
		reason TEXT NOT NULL,
		source_trend_id INTEGER,
		PRIMARY KEY (agent_id, attribute, sim_minute)
	);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// Close stops the flusher (blocking until its last cycle finishes)
// and closes the underlying connection.
func (r *SQLiteRepository) Close() error {
	r.cancel()
	_ = r.group.Wait()
	return r.conn.Close()
}

// GetActiveRuns implements the bootstrap single-active-simulation check.
func (r *SQLiteRepository) GetActiveRuns(ctx context.Context) ([]domain.Run, error) {
	type row struct {
		ID             string    `db:"id"`
		Status         string    `db:"status"`
		StartWallTime  time.Time `db:"start_wall_time"`
		HorizonMinutes float64   `db:"horizon_minutes"`
		AgentCount     int       `db:"agent_count"`
		Seed           int64     `db:"seed"`
		ConfigSnapshot string    `db:"config_snapshot"`
	}
	var rows []row
	if err := r.conn.SelectContext(ctx, &rows, "SELECT * FROM runs WHERE status NOT IN (?, ?, ?)",
		domain.Completed.String(), domain.Failed.String(), domain.ForceStopped.String()); err != nil {
		return nil, fmt.Errorf("repository: get active runs: %w", err)
	}

	out := make([]domain.Run, 0, len(rows))
	for _, rw := range rows {
		out = append(out, domain.Run{
			ID:             rw.ID,
			Status:         statusFromString(rw.Status),
			StartWallTime:  rw.StartWallTime,
			HorizonMinutes: rw.HorizonMinutes,
			AgentCount:     rw.AgentCount,
			Seed:           rw.Seed,
			ConfigSnapshot: rw.ConfigSnapshot,
		})
	}
	return out, nil
}

func statusFromString(s string) domain.RunStatus {
	for st := domain.Initializing; st <= domain.ForceStopped; st++ {
		if st.String() == s {
			return st
		}
	}
	return domain.Failed
}

// CreateRun inserts a new Run row. Called once at bootstrap, after
// GetActiveRuns confirms no non-terminal run exists (spec §4.8 step 1).
func (r *SQLiteRepository) CreateRun(ctx context.Context, run domain.Run) error {
	_, err := r.conn.ExecContext(ctx,
		`INSERT INTO runs (id, status, start_wall_time, horizon_minutes, agent_count, seed, config_snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status.String(), run.StartWallTime, run.HorizonMinutes, run.AgentCount, run.Seed, run.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("repository: create run: %w", err)
	}
	return nil
}

// UpdateRunStatus is idempotent on run id (spec §6.2).
func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	_, err := r.conn.ExecContext(ctx, "UPDATE runs SET status = ? WHERE id = ?", status.String(), id)
	if err != nil {
		return fmt.Errorf("repository: update run status: %w", err)
	}
	return nil
}

// staticTablesRow is the JSON-column encoding of domain.StaticTables,
// stored as a single row (spec §6.2, load_static_tables).
type staticTablesRow struct {
	AffinityJSON         string `db:"affinity_json"`
	ProfessionRangesJSON string `db:"profession_ranges_json"`
	InterestRangesJSON   string `db:"interest_ranges_json"`
	TopicMappingJSON     string `db:"topic_mapping_json"`
}

// LoadStaticTables implements the Repository contract's static-lookup
// load (spec §4.8 Bootstrap step 3). A fresh database has no row yet;
// it is seeded with domain.DefaultStaticTables() on first call so the
// tables become durable, swappable state instead of a compiled-in
// literal from then on.
func (r *SQLiteRepository) LoadStaticTables(ctx context.Context) (domain.StaticTables, error) {
	var rows []staticTablesRow
	if err := r.conn.SelectContext(ctx, &rows,
		"SELECT affinity_json, profession_ranges_json, interest_ranges_json, topic_mapping_json FROM static_tables WHERE id = 1"); err != nil {
		return domain.StaticTables{}, fmt.Errorf("repository: load static tables: %w", err)
	}

	if len(rows) == 0 {
		tables := domain.DefaultStaticTables()
		if err := r.seedStaticTables(ctx, tables); err != nil {
			return domain.StaticTables{}, err
		}
		return tables, nil
	}

	row := rows[0]
	var tables domain.StaticTables
	if err := json.Unmarshal([]byte(row.AffinityJSON), &tables.Affinity); err != nil {
		return domain.StaticTables{}, fmt.Errorf("repository: decode affinity table: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ProfessionRangesJSON), &tables.ProfessionRanges); err != nil {
		return domain.StaticTables{}, fmt.Errorf("repository: decode profession ranges table: %w", err)
	}
	if err := json.Unmarshal([]byte(row.InterestRangesJSON), &tables.InterestRanges); err != nil {
		return domain.StaticTables{}, fmt.Errorf("repository: decode interest ranges table: %w", err)
	}
	if err := json.Unmarshal([]byte(row.TopicMappingJSON), &tables.TopicMapping); err != nil {
		return domain.StaticTables{}, fmt.Errorf("repository: decode topic mapping table: %w", err)
	}
	return tables, nil
}

func (r *SQLiteRepository) seedStaticTables(ctx context.Context, tables domain.StaticTables) error {
	affinityJSON, err := json.Marshal(tables.Affinity)
	if err != nil {
		return fmt.Errorf("repository: encode affinity table: %w", err)
	}
	professionRangesJSON, err := json.Marshal(tables.ProfessionRanges)
	if err != nil {
		return fmt.Errorf("repository: encode profession ranges table: %w", err)
	}
	interestRangesJSON, err := json.Marshal(tables.InterestRanges)
	if err != nil {
		return fmt.Errorf("repository: encode interest ranges table: %w", err)
	}
	topicMappingJSON, err := json.Marshal(tables.TopicMapping)
	if err != nil {
		return fmt.Errorf("repository: encode topic mapping table: %w", err)
	}

	_, err = r.conn.ExecContext(ctx,
		`INSERT INTO static_tables (id, affinity_json, profession_ranges_json, interest_ranges_json, topic_mapping_json)
		 VALUES (1, ?, ?, ?, ?)`,
		string(affinityJSON), string(professionRangesJSON), string(interestRangesJSON), string(topicMappingJSON))
	if err != nil {
		return fmt.Errorf("repository: seed static tables: %w", err)
	}
	return nil
}

// ArchiveTrend marks a trend archived (spec §4.5's archival predicate
// acting through the Repository).
func (r *SQLiteRepository) ArchiveTrend(ctx context.Context, id domain.TrendID) error {
	_, err := r.conn.ExecContext(ctx, "UPDATE trends SET archived = 1 WHERE id = ?", int64(id))
	if err != nil {
		return fmt.Errorf("repository: archive trend %d: %w", id, err)
	}
	return nil
}

// PersistAgents buffers a batch of agent snapshots; callers submit
// and forget (spec §4.3's ownership rule).
func (r *SQLiteRepository) PersistAgents(agents []*domain.Agent) {
	r.mu.Lock()
	r.pending.agents = append(r.pending.agents, agents...)
	full := r.pending.count() >= r.batchSize
	r.mu.Unlock()
	if full {
		r.triggerFlush()
	}
}

// PersistTrends buffers a batch of trend upserts.
func (r *SQLiteRepository) PersistTrends(trends []*domain.Trend) {
	r.mu.Lock()
	r.pending.trends = append(r.pending.trends, trends...)
	full := r.pending.count() >= r.batchSize
	r.mu.Unlock()
	if full {
		r.triggerFlush()
	}
}

// PersistEvents buffers a batch of event-audit records.
func (r *SQLiteRepository) PersistEvents(events []*domain.Event) {
	r.mu.Lock()
	r.pending.events = append(r.pending.events, events...)
	full := r.pending.count() >= r.batchSize
	r.mu.Unlock()
	if full {
		r.triggerFlush()
	}
}

// PersistHistory buffers a batch of attribute-history appends.
func (r *SQLiteRepository) PersistHistory(records []domain.HistoryRecord) {
	r.mu.Lock()
	r.pending.history = append(r.pending.history, records...)
	full := r.pending.count() >= r.batchSize
	r.mu.Unlock()
	if full {
		r.triggerFlush()
	}
}

// triggerFlush asks the background flusher to run a cycle without
// blocking the caller on completion.
func (r *SQLiteRepository) triggerFlush() {
	select {
	case r.flushCh <- nil:
	default:
		// A flush is already pending; the ticker or the in-flight
		// request will pick up everything accumulated since.
	}
}

// Flush blocks until the current buffer is committed (spec §4.3: "OR
// flush() is called").
func (r *SQLiteRepository) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case r.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runFlusher is the second task spec §5 describes: a background
// consumer fed by the batch-size trigger, a fixed-interval ticker, and
// explicit Flush() calls.
func (r *SQLiteRepository) runFlusher(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.commitPending()
			return nil
		case <-ticker.C:
			r.commitPending()
		case done := <-r.flushCh:
			r.commitPending()
			if done != nil {
				done <- nil
			}
		}
	}
}

func (r *SQLiteRepository) commitPending() {
	r.mu.Lock()
	b := r.pending
	r.pending = batch{}
	r.mu.Unlock()

	if b.empty() {
		return
	}

	if len(b.agents) > 0 {
		r.commitWithRetry("agents", func() error { return r.commitAgents(b.agents) })
	}
	if len(b.trends) > 0 {
		r.commitWithRetry("trends", func() error { return r.commitTrends(b.trends) })
	}
	if len(b.events) > 0 {
		r.commitWithRetry("events", func() error { return r.commitEvents(b.events) })
	}
	if len(b.history) > 0 {
		r.commitWithRetry("history", func() error { return r.commitHistory(b.history) })
	}
}

// commitWithRetry implements spec §4.3's exponential back-off: on
// failure, sleep per r.backoffs and retry; after the schedule is
// exhausted, report via onCommitError (CRITICAL log + metric by the
// caller) and drop the batch without crashing the loop.
func (r *SQLiteRepository) commitWithRetry(table string, commit func() error) {
	err := commit()
	if err == nil {
		return
	}
	for _, wait := range r.backoffs {
		time.Sleep(wait)
		if err = commit(); err == nil {
			return
		}
	}
	r.onCommitError(table, err)
}

func (r *SQLiteRepository) commitAgents(agents []*domain.Agent) error {
	return r.withTx(func(tx *sqlx.Tx) error {
		stmt, err := tx.Preparex(`
			INSERT INTO agents (id, name, profession, financial_capability, trend_receptivity,
				social_status, energy_level, time_budget, interests_json, exposure_history_json,
				purchases_today, last_post_ts, last_self_dev_ts, last_purchase_ts_json, relationships_json, alive)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, profession=excluded.profession,
				financial_capability=excluded.financial_capability, trend_receptivity=excluded.trend_receptivity,
				social_status=excluded.social_status, energy_level=excluded.energy_level, time_budget=excluded.time_budget,
				interests_json=excluded.interests_json, exposure_history_json=excluded.exposure_history_json,
				purchases_today=excluded.purchases_today, last_post_ts=excluded.last_post_ts,
				last_self_dev_ts=excluded.last_self_dev_ts, last_purchase_ts_json=excluded.last_purchase_ts_json,
				relationships_json=excluded.relationships_json, alive=excluded.alive`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range agents {
			interestsJSON, _ := json.Marshal(a.Interests)
			exposureJSON, _ := json.Marshal(a.ExposureHistory)
			purchaseTSJSON, _ := json.Marshal(a.LastPurchaseTS)
			relationshipsJSON, _ := json.Marshal(a.Relationships)

			if _, err := stmt.Exec(
				a.ID, a.Name, a.Profession, a.FinancialCapability, a.TrendReceptivity,
				a.SocialStatus, a.EnergyLevel, a.TimeBudget, string(interestsJSON), string(exposureJSON),
				a.PurchasesToday, nullableFloat(a.LastPostTS), nullableFloat(a.LastSelfDevTS),
				string(purchaseTSJSON), string(relationshipsJSON), a.Alive,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) commitTrends(trends []*domain.Trend) error {
	return r.withTx(func(tx *sqlx.Tx) error {
		stmt, err := tx.Preparex(`
			INSERT INTO trends (id, simulation_id, topic, originator_id, parent_trend_id, created_at,
				base_virality, current_virality, coverage_level, total_interactions, sentiment, last_interaction_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				current_virality=excluded.current_virality, coverage_level=excluded.coverage_level,
				total_interactions=excluded.total_interactions, last_interaction_ts=excluded.last_interaction_ts`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tr := range trends {
			if _, err := stmt.Exec(
				tr.ID, tr.SimulationID, tr.Topic, tr.OriginatorID, nullableTrendID(tr.ParentTrendID), tr.CreatedAt,
				tr.BaseVirality, tr.CurrentVirality, tr.CoverageLevel, tr.TotalInteractions, tr.Sentiment, tr.LastInteractionTS,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) commitEvents(events []*domain.Event) error {
	return r.withTx(func(tx *sqlx.Tx) error {
		stmt, err := tx.Preparex(`
			INSERT INTO events (id, simulation_id, priority, timestamp, kind, payload_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, ev := range events {
			payloadJSON, _ := json.Marshal(ev.Payload)
			if _, err := stmt.Exec(ev.ID, ev.SimulationID, ev.Priority, ev.Timestamp, ev.Kind, string(payloadJSON)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) commitHistory(records []domain.HistoryRecord) error {
	return r.withTx(func(tx *sqlx.Tx) error {
		stmt, err := tx.Preparex(`
			INSERT INTO attribute_history (agent_id, attribute, sim_minute, old_value, new_value, delta, reason, source_trend_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id, attribute, sim_minute) DO UPDATE SET
				old_value=excluded.old_value, new_value=excluded.new_value, delta=excluded.delta,
				reason=excluded.reason, source_trend_id=excluded.source_trend_id`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range records {
			var sourceTrendID sql.NullInt64
			if h.SourceTrendID != nil {
				sourceTrendID = sql.NullInt64{Int64: int64(*h.SourceTrendID), Valid: true}
			}
			if _, err := stmt.Exec(h.AgentID, h.Attribute, h.SimMinute, h.OldValue, h.NewValue, h.Delta, h.Reason, sourceTrendID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := r.conn.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableTrendID(v *domain.TrendID) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
