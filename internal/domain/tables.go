package domain

// Profession is one of the 12 fixed agent professions (spec §3).
type Profession uint8

const (
	ShopClerk Profession = iota
	Worker
	Developer
	Politician
	Blogger
	Businessman
	SpiritualMentor
	Philosopher
	Unemployed
	Teacher
	Artist
	Doctor
	numProfessions
)

func (p Profession) String() string {
	switch p {
	case ShopClerk:
		return "ShopClerk"
	case Worker:
		return "Worker"
	case Developer:
		return "Developer"
	case Politician:
		return "Politician"
	case Blogger:
		return "Blogger"
	case Businessman:
		return "Businessman"
	case SpiritualMentor:
		return "SpiritualMentor"
	case Philosopher:
		return "Philosopher"
	case Unemployed:
		return "Unemployed"
	case Teacher:
		return "Teacher"
	case Artist:
		return "Artist"
	case Doctor:
		return "Doctor"
	default:
		return "Unknown"
	}
}

// AllProfessions lists every profession, in declaration order.
func AllProfessions() []Profession {
	out := make([]Profession, 0, numProfessions)
	for p := Profession(0); p < numProfessions; p++ {
		out = append(out, p)
	}
	return out
}

// Topic is one of the seven trend topics (spec §3).
type Topic uint8

const (
	Economic Topic = iota
	Health
	Spiritual
	Conspiracy
	Science
	Culture
	Sport
	numTopics
)

func (t Topic) String() string {
	switch t {
	case Economic:
		return "Economic"
	case Health:
		return "Health"
	case Spiritual:
		return "Spiritual"
	case Conspiracy:
		return "Conspiracy"
	case Science:
		return "Science"
	case Culture:
		return "Culture"
	case Sport:
		return "Sport"
	default:
		return "Unknown"
	}
}

// AllTopics lists every topic, in declaration order.
func AllTopics() []Topic {
	out := make([]Topic, 0, numTopics)
	for t := Topic(0); t < numTopics; t++ {
		out = append(out, t)
	}
	return out
}

// Interest is one of the six interest categories agents track affinity for.
type Interest uint8

const (
	Economics Interest = iota
	Wellbeing
	Spirituality
	Knowledge
	Creativity
	Society
	numInterests
)

func (i Interest) String() string {
	switch i {
	case Economics:
		return "Economics"
	case Wellbeing:
		return "Wellbeing"
	case Spirituality:
		return "Spirituality"
	case Knowledge:
		return "Knowledge"
	case Creativity:
		return "Creativity"
	case Society:
		return "Society"
	default:
		return "Unknown"
	}
}

// AllInterests lists every interest category, in declaration order.
func AllInterests() []Interest {
	out := make([]Interest, 0, numInterests)
	for i := Interest(0); i < numInterests; i++ {
		out = append(out, i)
	}
	return out
}

// TopicInterestMapping maps each trend topic to its corresponding
// interest category (spec §3, TopicInterestMapping).
var TopicInterestMapping = map[Topic]Interest{
	Economic:   Economics,
	Health:     Wellbeing,
	Spiritual:  Spirituality,
	Conspiracy: Society,
	Science:    Knowledge,
	Culture:    Creativity,
	Sport:      Wellbeing,
}

// CoverageLevel is the discrete audience-size class of a trend.
type CoverageLevel uint8

const (
	Low CoverageLevel = iota
	Middle
	High
)

func (c CoverageLevel) String() string {
	switch c {
	case Low:
		return "Low"
	case Middle:
		return "Middle"
	case High:
		return "High"
	default:
		return "Unknown"
	}
}

// AudienceFraction returns the fraction of the eligible audience a
// trend of this coverage level reaches (spec §4.7).
func (c CoverageLevel) AudienceFraction() float64 {
	switch c {
	case Low:
		return 0.30
	case Middle:
		return 0.60
	default:
		return 1.00
	}
}

// TimeBudgetCoverageFactor returns the per-reader time_budget cost
// multiplier for this coverage level (spec §4.7).
func (c CoverageLevel) TimeBudgetCoverageFactor() float64 {
	switch c {
	case Low:
		return 0.2
	case Middle:
		return 0.4
	default:
		return 0.6
	}
}

// Sentiment is the emotional valence of a trend.
type Sentiment uint8

const (
	Positive Sentiment = iota
	Negative
)

func (s Sentiment) String() string {
	if s == Positive {
		return "Positive"
	}
	return "Negative"
}

// Signed returns +1 for Positive, -1 for Negative.
func (s Sentiment) Signed() float64 {
	if s == Positive {
		return 1
	}
	return -1
}

// AttributeRange is an inclusive [Min, Max] bound for a scalar attribute.
type AttributeRange struct {
	Min float64
	Max float64
}

// Mid returns the midpoint of the range.
func (r AttributeRange) Mid() float64 {
	return (r.Min + r.Max) / 2
}

// ProfessionAttributes bundles the per-profession attribute ranges used
// at bootstrap (draw) and at DAILY_RESET (time_budget restoration).
type ProfessionAttributes struct {
	FinancialCapability AttributeRange
	TrendReceptivity    AttributeRange
	SocialStatus        AttributeRange
	EnergyLevel         AttributeRange
	TimeBudget          AttributeRange
}

// ProfessionAttributeRanges is the static per-profession attribute
// range table (spec §3). Populated with plausible, internally
// consistent defaults; Engine.Bootstrap replaces it with the table
// returned by Repository.LoadStaticTables.
var ProfessionAttributeRanges = defaultProfessionAttributeRanges()

func defaultProfessionAttributeRanges() map[Profession]ProfessionAttributes {
	// Base ranges, then a few professions are nudged to keep the table
	// from reading as arbitrary static noise (e.g. Unemployed has a
	// depressed financial_capability ceiling, Businessman has an
	// elevated one).
	base := ProfessionAttributes{
		FinancialCapability: AttributeRange{0.5, 3.5},
		TrendReceptivity:    AttributeRange{1.0, 4.0},
		SocialStatus:        AttributeRange{0.5, 3.5},
		EnergyLevel:         AttributeRange{2.0, 5.0},
		TimeBudget:          AttributeRange{2.0, 4.0},
	}

	out := make(map[Profession]ProfessionAttributes, numProfessions)
	for _, p := range AllProfessions() {
		out[p] = base
	}

	unemployed := base
	unemployed.FinancialCapability = AttributeRange{0.0, 1.5}
	unemployed.SocialStatus = AttributeRange{0.0, 2.0}
	out[Unemployed] = unemployed

	businessman := base
	businessman.FinancialCapability = AttributeRange{2.0, 5.0}
	businessman.SocialStatus = AttributeRange{2.0, 5.0}
	out[Businessman] = businessman

	politician := base
	politician.SocialStatus = AttributeRange{2.5, 5.0}
	politician.TrendReceptivity = AttributeRange{1.5, 4.5}
	out[Politician] = politician

	blogger := base
	blogger.TrendReceptivity = AttributeRange{2.5, 5.0}
	out[Blogger] = blogger

	spiritualMentor := base
	spiritualMentor.EnergyLevel = AttributeRange{2.5, 5.0}
	out[SpiritualMentor] = spiritualMentor

	return out
}

// AffinityMap gives profession×topic affinity, 1..5 (spec §3). Built
// so that each profession has a clear high-affinity topic or two,
// rather than uniform noise — grounded on the teacher's occupation
// tables in internal/agents/spawner.go, which hand-tune plausible
// per-occupation leanings instead of drawing them at random.
var AffinityMap = defaultAffinityMap()

func defaultAffinityMap() map[Profession]map[Topic]int {
	m := make(map[Profession]map[Topic]int, numProfessions)
	for _, p := range AllProfessions() {
		row := make(map[Topic]int, numTopics)
		for _, t := range AllTopics() {
			row[t] = 1
		}
		m[p] = row
	}

	set := func(p Profession, t Topic, v int) { m[p][t] = v }

	set(ShopClerk, Economic, 4)
	set(ShopClerk, Culture, 2)

	set(Worker, Economic, 3)
	set(Worker, Sport, 3)

	set(Developer, Science, 5)
	set(Developer, Economic, 3)

	set(Politician, Economic, 4)
	set(Politician, Conspiracy, 3)
	set(Politician, Culture, 3)

	set(Blogger, Culture, 5)
	set(Blogger, Conspiracy, 4)
	set(Blogger, Sport, 3)

	set(Businessman, Economic, 5)
	set(Businessman, Science, 2)

	set(SpiritualMentor, Spiritual, 5)
	set(SpiritualMentor, Health, 3)

	set(Philosopher, Spiritual, 4)
	set(Philosopher, Science, 3)
	set(Philosopher, Conspiracy, 2)

	set(Unemployed, Conspiracy, 3)
	set(Unemployed, Sport, 2)

	set(Teacher, Science, 4)
	set(Teacher, Culture, 3)

	set(Artist, Culture, 5)
	set(Artist, Spiritual, 2)

	set(Doctor, Health, 5)
	set(Doctor, Science, 3)

	return m
}

// Affinity returns the profession×topic affinity (1..5), or 1 if unset.
func Affinity(p Profession, t Topic) int {
	return affinityFrom(AffinityMap, p, t)
}

func affinityFrom(m map[Profession]map[Topic]int, p Profession, t Topic) int {
	if row, ok := m[p]; ok {
		if v, ok := row[t]; ok {
			return v
		}
	}
	return 1
}

// InterestRanges gives per-profession, per-interest draw bounds used
// at bootstrap (spec §3, InterestRanges). Defaults center each
// profession's native interest (via TopicInterestMapping/affinity)
// higher than the rest.
var InterestRanges = defaultInterestRanges(AffinityMap)

// defaultInterestRanges takes affinity as a parameter, rather than
// reading the AffinityMap package var, so DefaultStaticTables can
// derive a fresh, self-consistent StaticTables independent of
// whatever LoadStaticTables last assigned to AffinityMap.
func defaultInterestRanges(affinity map[Profession]map[Topic]int) map[Profession]map[Interest]AttributeRange {
	m := make(map[Profession]map[Interest]AttributeRange, numProfessions)
	for _, p := range AllProfessions() {
		row := make(map[Interest]AttributeRange, numInterests)
		for _, i := range AllInterests() {
			row[i] = AttributeRange{0.2, 1.5}
		}
		// Boost interests behind topics this profession has high affinity for.
		for _, t := range AllTopics() {
			if affinityFrom(affinity, p, t) >= 4 {
				if interest, ok := TopicInterestMapping[t]; ok {
					row[interest] = AttributeRange{1.0, 3.0}
				}
			}
		}
		m[p] = row
	}
	return m
}

// ShopWeights gives the per-profession purchase-score multiplier used
// by the selector (spec §4.4). Defaults derive from financial
// capability ceiling: professions with deeper pockets shop more readily.
var ShopWeights = defaultShopWeights()

func defaultShopWeights() map[Profession]float64 {
	m := make(map[Profession]float64, numProfessions)
	for p, attrs := range ProfessionAttributeRanges {
		// Normalize financial ceiling (max observed is 5.0) to a [0.5, 1.5] weight.
		m[p] = 0.5 + attrs.FinancialCapability.Max/5.0
	}
	return m
}

// RecomputeShopWeights rebuilds ShopWeights from the current
// ProfessionAttributeRanges. Bootstrap calls this after
// LoadStaticTables replaces ProfessionAttributeRanges, since
// ShopWeights is otherwise only ever derived once, at package init,
// from the compiled-in defaults.
func RecomputeShopWeights() {
	ShopWeights = defaultShopWeights()
}

// StaticTables bundles the four document-backed lookup tables spec.md
// §6.2's load_static_tables names: affinity, profession_ranges,
// interest_ranges, topic_mapping. Repository.LoadStaticTables returns
// one of these at bootstrap, so the tables are a swappable external
// document rather than a compiled-in literal (the package vars above
// remain the compiled-in defaults a fresh database is seeded with).
type StaticTables struct {
	Affinity         map[Profession]map[Topic]int
	ProfessionRanges map[Profession]ProfessionAttributes
	InterestRanges   map[Profession]map[Interest]AttributeRange
	TopicMapping     map[Topic]Interest
}

// DefaultStaticTables returns the compiled-in StaticTables a new
// database is seeded with on first bootstrap.
func DefaultStaticTables() StaticTables {
	affinity := defaultAffinityMap()
	return StaticTables{
		Affinity:         affinity,
		ProfessionRanges: defaultProfessionAttributeRanges(),
		InterestRanges:   defaultInterestRanges(affinity),
		TopicMapping:     TopicInterestMapping,
	}
}

// ActionKind names the five action kinds in spec §3/§4.6.
type ActionKind uint8

const (
	ActionPost ActionKind = iota
	ActionPurchaseL1
	ActionPurchaseL2
	ActionPurchaseL3
	ActionSelfDev
)

func (a ActionKind) String() string {
	switch a {
	case ActionPost:
		return "Post"
	case ActionPurchaseL1:
		return "PurchaseL1"
	case ActionPurchaseL2:
		return "PurchaseL2"
	case ActionPurchaseL3:
		return "PurchaseL3"
	case ActionSelfDev:
		return "SelfDev"
	default:
		return "Unknown"
	}
}

// EffectRow is a set of scalar attribute deltas applied by an action.
// Tagged for yaml so config.Load can override the table from a file.
type EffectRow struct {
	TimeBudget          float64 `yaml:"time_budget"`
	EnergyLevel         float64 `yaml:"energy_level"`
	SocialStatus        float64 `yaml:"social_status"`
	FinancialCapability float64 `yaml:"financial_capability"`
}

// ActionEffects is the static per-action-kind effect table (spec §3/§4.6).
var ActionEffects = map[ActionKind]EffectRow{
	ActionPost:       {TimeBudget: -0.20, EnergyLevel: -0.50, SocialStatus: +0.10},
	ActionSelfDev:    {TimeBudget: -1.00, EnergyLevel: +0.80},
	ActionPurchaseL1: {FinancialCapability: -0.05, TimeBudget: -0.10},
	ActionPurchaseL2: {FinancialCapability: -0.50, TimeBudget: -0.20},
	ActionPurchaseL3: {FinancialCapability: -2.00, TimeBudget: -0.40},
}

// PurchaseThreshold is the minimum financial_capability required to
// gate a purchase at the given level (spec §4.4).
func PurchaseThreshold(level ActionKind) float64 {
	switch level {
	case ActionPurchaseL1:
		return 0.05
	case ActionPurchaseL2:
		return 0.50
	case ActionPurchaseL3:
		return 2.00
	default:
		return 0
	}
}

// Cooldowns holds the static cooldown minutes table (spec §6.1).
type Cooldowns struct {
	PostMin    float64
	SelfDevMin float64
}

// DefaultCooldowns are the spec §6.1 defaults.
var DefaultCooldowns = Cooldowns{PostMin: 60, SelfDevMin: 30}

// Limits holds static per-run limits (spec §6.1).
type Limits struct {
	MaxPurchasesDay int
}

// DefaultLimits are the spec §6.1 defaults.
var DefaultLimits = Limits{MaxPurchasesDay: 5}
