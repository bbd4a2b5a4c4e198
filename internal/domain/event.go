package domain

// EventKind enumerates the eleven event kinds spec §3 names.
type EventKind uint8

const (
	PublishPost EventKind = iota
	PurchaseL1
	PurchaseL2
	PurchaseL3
	SelfDev
	TrendInfluence
	EnergyRecovery
	DailyReset
	SaveDailyTrend
	Law
	Weather
)

func (k EventKind) String() string {
	switch k {
	case PublishPost:
		return "PUBLISH_POST"
	case PurchaseL1:
		return "PURCHASE_L1"
	case PurchaseL2:
		return "PURCHASE_L2"
	case PurchaseL3:
		return "PURCHASE_L3"
	case SelfDev:
		return "SELF_DEV"
	case TrendInfluence:
		return "TREND_INFLUENCE"
	case EnergyRecovery:
		return "ENERGY_RECOVERY"
	case DailyReset:
		return "DAILY_RESET"
	case SaveDailyTrend:
		return "SAVE_DAILY_TREND"
	case Law:
		return "LAW"
	case Weather:
		return "WEATHER"
	default:
		return "UNKNOWN"
	}
}

// Priority values from spec §4.2.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityAgent  Priority = 50
	PrioritySystem Priority = 100
)

// PriorityFor returns the fixed priority class for an event kind.
func PriorityFor(kind EventKind) Priority {
	switch kind {
	case DailyReset, EnergyRecovery, SaveDailyTrend, Law, Weather:
		return PrioritySystem
	case PublishPost, PurchaseL1, PurchaseL2, PurchaseL3, SelfDev, TrendInfluence:
		return PriorityAgent
	default:
		return PriorityLow
	}
}

// PostPayload carries context for a PUBLISH_POST event.
type PostPayload struct {
	AuthorID      AgentID
	Topic         Topic
	ParentTrendID *TrendID
}

// PurchasePayload carries context for a PURCHASE_Lk event.
type PurchasePayload struct {
	AgentID AgentID
	Level   ActionKind
}

// SelfDevPayload carries context for a SELF_DEV event.
type SelfDevPayload struct {
	AgentID AgentID
}

// TrendInfluencePayload carries context for a TREND_INFLUENCE event.
type TrendInfluencePayload struct {
	TrendID  TrendID
	DayIndex uint64
}

// Event is a scheduled, immutable unit of work (spec §3).
type Event struct {
	ID           uint64
	SimulationID string
	Priority     Priority
	Timestamp    float64 // sim-minute, non-negative
	Kind         EventKind
	Payload      any // one of the *Payload types above, or nil for pure system ticks

	// seq is assigned by the event queue at insertion time and breaks
	// ties between equal (priority, timestamp) pairs (spec §4.2).
	seq uint64
}

// Seq returns the event's insertion sequence number, used only for
// tie-breaking within the queue.
func (e *Event) Seq() uint64 { return e.seq }

// SetSeq is called by the event queue exactly once, at push time.
func (e *Event) SetSeq(seq uint64) { e.seq = seq }
