package influence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/capsim/internal/domain"
)

func newReader(id domain.AgentID, profession domain.Profession) *domain.Agent {
	a := domain.NewAgent(id, "reader", profession)
	a.TrendReceptivity = 4
	a.EnergyLevel = 3
	a.SocialStatus = 2
	a.TimeBudget = 4
	return a
}

// Every profession has an affinity of at least 1 for every topic, so no
// reader can be excluded on affinity here; only the author drops out.
func TestFilterAudienceExcludesAuthor(t *testing.T) {
	p := New(1440)
	author := newReader(1, domain.Developer)
	trend := &domain.Trend{ID: 1, Topic: domain.Science, OriginatorID: author.ID}

	matched := newReader(2, domain.Developer) // Developer has positive affinity for Science
	var noAffinity domain.Profession
	for _, prof := range domain.AllProfessions() {
		if domain.Affinity(prof, domain.Science) <= 0 {
			noAffinity = prof
			break
		}
	}
	unaffine := newReader(3, noAffinity)

	out := p.FilterAudience([]*domain.Agent{author, matched, unaffine}, trend, 100)

	var ids []domain.AgentID
	for _, a := range out {
		ids = append(ids, a.ID)
	}
	assert.Contains(t, ids, matched.ID)
	assert.NotContains(t, ids, author.ID)
}

func TestFilterAudienceExcludesRecentlyExposedAgents(t *testing.T) {
	p := New(1440)
	trend := &domain.Trend{ID: 7, Topic: domain.Science, OriginatorID: 999}
	reader := newReader(2, domain.Developer)
	reader.ExposureHistory[uint64(trend.ID)] = 90 // exposed recently

	out := p.FilterAudience([]*domain.Agent{reader}, trend, 100) // 100-90=10 < 1440
	assert.Empty(t, out)

	out2 := p.FilterAudience([]*domain.Agent{reader}, trend, 90+1440+1)
	assert.Len(t, out2, 1)
}

func TestProcessIsDeterministicGivenSameSeed(t *testing.T) {
	p := New(1440)
	build := func() (*domain.Trend, *domain.Agent, []*domain.Agent) {
		author := newReader(1, domain.Developer)
		trend := &domain.Trend{
			ID: 10, Topic: domain.Science, OriginatorID: author.ID,
			BaseVirality: 3, CurrentVirality: 3, Sentiment: domain.Positive, CoverageLevel: domain.High,
		}
		var readers []*domain.Agent
		for i := domain.AgentID(2); i < 12; i++ {
			readers = append(readers, newReader(i, domain.Developer))
		}
		return trend, author, readers
	}

	trend1, author1, readers1 := build()
	eligible1 := p.FilterAudience(readers1, trend1, 0)
	res1 := p.Process(42, trend1, 0, 100, eligible1, author1)

	trend2, author2, readers2 := build()
	eligible2 := p.FilterAudience(readers2, trend2, 0)
	res2 := p.Process(42, trend2, 0, 100, eligible2, author2)

	assert.Equal(t, len(res1.FollowUps), len(res2.FollowUps))
	assert.Equal(t, res1.ReaderCount, res2.ReaderCount)
	for i := range res1.FollowUps {
		assert.Equal(t, res1.FollowUps[i], res2.FollowUps[i])
	}
}

func TestProcessUpdatesTrendViralityExactlyOnce(t *testing.T) {
	p := New(1440)
	author := newReader(1, domain.Developer)
	trend := &domain.Trend{
		ID: 11, Topic: domain.Science, OriginatorID: author.ID,
		BaseVirality: 2, CurrentVirality: 2, Sentiment: domain.Positive, CoverageLevel: domain.Low,
	}

	p.Process(1, trend, 0, 50, nil, author)
	require.Equal(t, uint64(1), trend.TotalInteractions)
}

func TestPostEffectAmplificationScalesWithFullAudienceNotJustReactors(t *testing.T) {
	p := New(1440)

	// build constructs one guaranteed reactor (affinity and virality pushed
	// past 1 so pReact always exceeds 1) plus `padding` guaranteed
	// non-reactors (zero trend receptivity, so pReact is always 0). High coverage
	// means capAudience never shuffles, and the reactor sorts first by
	// AgentID, so its RNG draws are identical regardless of padding size:
	// only the audience size should move the author's PostEffect delta.
	build := func(padding int) (*domain.Trend, *domain.Agent, []*domain.Agent) {
		author := newReader(1, domain.Developer)
		trend := &domain.Trend{
			ID: 20, Topic: domain.Science, OriginatorID: author.ID,
			BaseVirality: 10, CurrentVirality: 10, Sentiment: domain.Positive, CoverageLevel: domain.High,
		}
		reactor := newReader(2, domain.Developer)
		reactor.TrendReceptivity = 5
		audience := []*domain.Agent{reactor}
		for i := 0; i < padding; i++ {
			pad := newReader(domain.AgentID(100+i), domain.Developer)
			pad.TrendReceptivity = 0
			audience = append(audience, pad)
		}
		return trend, author, audience
	}

	authorDelta := func(res Result, authorID domain.AgentID) float64 {
		for _, rec := range res.History {
			if rec.AgentID == authorID && rec.Attribute == domain.SocialStatus && rec.Reason == "PostEffect" {
				return rec.Delta
			}
		}
		t.Fatalf("no PostEffect SocialStatus record found for author %d", authorID)
		return 0
	}

	trendSmall, authorSmall, audienceSmall := build(0)
	resSmall := p.Process(99, trendSmall, 0, 10, audienceSmall, authorSmall)
	require.Equal(t, 1, resSmall.ReaderCount)
	deltaSmall := authorDelta(resSmall, authorSmall.ID)

	trendLarge, authorLarge, audienceLarge := build(50)
	resLarge := p.Process(99, trendLarge, 0, 10, audienceLarge, authorLarge)
	require.Equal(t, 51, resLarge.ReaderCount)
	require.Len(t, resLarge.FollowUps, 1, "only the reactor responds; zero-receptivity padding never reacts")
	deltaLarge := authorDelta(resLarge, authorLarge.ID)

	assert.Greater(t, deltaLarge, deltaSmall, "ln(n+1) amplification must grow with the full audience, not stay pinned to the single reactor")
}

func TestProcessCapsAudienceByCoverageLevel(t *testing.T) {
	p := New(1440)
	author := newReader(1, domain.Developer)
	trend := &domain.Trend{
		ID: 12, Topic: domain.Science, OriginatorID: author.ID,
		BaseVirality: 1, CurrentVirality: 1, Sentiment: domain.Positive, CoverageLevel: domain.Low,
	}

	var readers []*domain.Agent
	for i := domain.AgentID(2); i < 102; i++ {
		readers = append(readers, newReader(i, domain.Developer))
	}

	res := p.Process(7, trend, 0, 10, readers, author)
	assert.LessOrEqual(t, res.ReaderCount, 30) // Low coverage caps at 30% of 100
}
