package domain

import (
	"fmt"
	"sort"
)

// AgentID uniquely identifies an agent within a simulation run.
type AgentID uint64

// AttrName names one of the five mutable scalar attributes an agent
// carries (spec §3). time_budget is included even though it quantises
// to 0.5 steps rather than being a free float.
type AttrName uint8

const (
	FinancialCapability AttrName = iota
	TrendReceptivity
	SocialStatus
	EnergyLevel
	TimeBudget
)

func (a AttrName) String() string {
	switch a {
	case FinancialCapability:
		return "financial_capability"
	case TrendReceptivity:
		return "trend_receptivity"
	case SocialStatus:
		return "social_status"
	case EnergyLevel:
		return "energy_level"
	case TimeBudget:
		return "time_budget"
	default:
		return "unknown"
	}
}

// Relationship is a social bond to another agent (SPEC_FULL §3,
// recovered from the teacher's Relationship type).
type Relationship struct {
	TargetID  AgentID
	Sentiment float64 // -1..+1
	Trust     float64 // 0..1
}

// Agent is the core CAPSIM entity (spec §3).
type Agent struct {
	ID         AgentID
	Name       string
	Profession Profession

	// Scalars, each in [0, 5].
	FinancialCapability float64
	TrendReceptivity    float64
	SocialStatus        float64
	EnergyLevel         float64
	TimeBudget          float64 // [0, 5], quantised to 0.5

	Interests      map[Interest]float64 // >= 0
	ExposureHistory map[uint64]float64  // trend id -> sim-minute of last exposure

	PurchasesToday int // 0..MAX_PURCHASES_DAY

	LastPostTS    *float64
	LastSelfDevTS *float64
	LastPurchaseTS map[ActionKind]*float64 // keyed by L1/L2/L3

	Relationships []Relationship

	Alive bool
}

// NewAgent constructs an agent with empty maps initialized, ready for
// the spawner to fill in scalar draws.
func NewAgent(id AgentID, name string, profession Profession) *Agent {
	return &Agent{
		ID:         id,
		Name:       name,
		Profession: profession,
		Interests:  make(map[Interest]float64, numInterests),
		ExposureHistory: make(map[uint64]float64),
		LastPurchaseTS: map[ActionKind]*float64{
			ActionPurchaseL1: nil,
			ActionPurchaseL2: nil,
			ActionPurchaseL3: nil,
		},
		Alive: true,
	}
}

// Scalar reads the current value of a named scalar attribute.
func (a *Agent) Scalar(attr AttrName) float64 {
	switch attr {
	case FinancialCapability:
		return a.FinancialCapability
	case TrendReceptivity:
		return a.TrendReceptivity
	case SocialStatus:
		return a.SocialStatus
	case EnergyLevel:
		return a.EnergyLevel
	case TimeBudget:
		return a.TimeBudget
	default:
		return 0
	}
}

func (a *Agent) setScalar(attr AttrName, v float64) {
	switch attr {
	case FinancialCapability:
		a.FinancialCapability = v
	case TrendReceptivity:
		a.TrendReceptivity = v
	case SocialStatus:
		a.SocialStatus = v
	case EnergyLevel:
		a.EnergyLevel = v
	case TimeBudget:
		a.TimeBudget = v
	}
}

// HistoryRecord is the append-only attribute-mutation record (spec §3,
// invariant I3). Every ApplyDelta call produces exactly one.
type HistoryRecord struct {
	AgentID      AgentID
	Attribute    AttrName
	OldValue     float64
	NewValue     float64
	Delta        float64
	SimMinute    float64
	Reason       string
	SourceTrendID *uint64
}

// clampScalar clamps v to [0, 5], quantising time_budget to 0.5 steps
// (spec §4.4, I1/I2/P2).
func clampScalar(attr AttrName, v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 5 {
		v = 5
	}
	if attr == TimeBudget {
		v = quantizeHalf(v)
	}
	return v
}

func quantizeHalf(v float64) float64 {
	// Round to nearest 0.5.
	return float64(int(v*2+0.5)) / 2
}

// ApplyDelta is the single mutation routine spec §4.4 requires: it
// clamps, writes, and returns the history record the caller must
// persist. It never touches the repository directly — callers own
// when/how the record is buffered (spec §4.3's "submit and forget").
func (a *Agent) ApplyDelta(attr AttrName, delta float64, now float64, reason string, sourceTrendID *uint64) HistoryRecord {
	old := a.Scalar(attr)
	next := clampScalar(attr, old+delta)
	a.setScalar(attr, next)

	switch attr {
	case FinancialCapability, TrendReceptivity, SocialStatus, EnergyLevel:
		a.touchTimestampFor(reason, now)
	}

	return HistoryRecord{
		AgentID:       a.ID,
		Attribute:     attr,
		OldValue:      old,
		NewValue:      next,
		Delta:         next - old,
		SimMinute:     now,
		Reason:        reason,
		SourceTrendID: sourceTrendID,
	}
}

// touchTimestampFor updates the last-touched cooldown timestamp that
// corresponds to a given reason code, when applicable. Most reasons
// (e.g. TREND_INFLUENCE deltas) don't touch any cooldown clock.
func (a *Agent) touchTimestampFor(reason string, now float64) {
	switch reason {
	case "Post":
		t := now
		a.LastPostTS = &t
	case "SelfDev":
		t := now
		a.LastSelfDevTS = &t
	}
}

// IsWorkHours implements spec §4.4's work-hours predicate: agents are
// inactive during the first 480 sim-minutes of each day.
func IsWorkHours(t float64) bool {
	const minutesPerDay = 1440
	m := mod(t, minutesPerDay)
	return m >= 480
}

func mod(a, m float64) float64 {
	r := a - float64(int(a/m))*m
	if r < 0 {
		r += m
	}
	return r
}

// CanPost evaluates the POST gate (spec §4.4).
func (a *Agent) CanPost(t float64, postCooldownMin float64) bool {
	if a.LastPostTS != nil && t-*a.LastPostTS < postCooldownMin {
		return false
	}
	eff := ActionEffects[ActionPost]
	if a.EnergyLevel < -eff.EnergyLevel {
		return false
	}
	if a.TimeBudget < -eff.TimeBudget {
		return false
	}
	return IsWorkHours(t)
}

// CanSelfDev evaluates the SELF_DEV gate (spec §4.4).
func (a *Agent) CanSelfDev(t float64, selfDevCooldownMin float64) bool {
	if a.LastSelfDevTS != nil && t-*a.LastSelfDevTS < selfDevCooldownMin {
		return false
	}
	eff := ActionEffects[ActionSelfDev]
	return a.TimeBudget >= -eff.TimeBudget
}

// CanPurchase evaluates the PURCHASE_Lk gate (spec §4.4).
func (a *Agent) CanPurchase(level ActionKind, maxPurchasesDay int) bool {
	if a.PurchasesToday >= maxPurchasesDay {
		return false
	}
	return a.FinancialCapability >= PurchaseThreshold(level)
}

// String renders a short identity, used in log lines and event Detail
// strings (teacher's Spawner/Name convention).
func (a *Agent) String() string {
	return fmt.Sprintf("%s#%d(%s)", a.Profession, a.ID, a.Name)
}

// TrimExposureHistory bounds ExposureHistory to maxSize entries,
// evicting the oldest exposures first. CACHE_MAX_SIZE names no single
// consumer in the spec; DAILY_RESET calls this to keep the map from
// growing unbounded over a long run the way a trend's reader count
// otherwise would.
func (a *Agent) TrimExposureHistory(maxSize int) {
	if maxSize <= 0 || len(a.ExposureHistory) <= maxSize {
		return
	}
	type entry struct {
		trendID uint64
		at      float64
	}
	entries := make([]entry, 0, len(a.ExposureHistory))
	for id, at := range a.ExposureHistory {
		entries = append(entries, entry{id, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at < entries[j].at })
	toEvict := len(entries) - maxSize
	for i := 0; i < toEvict; i++ {
		delete(a.ExposureHistory, entries[i].trendID)
	}
}
