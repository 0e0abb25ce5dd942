package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sift/internal/models"
)

func keywordResult() *models.KeywordFilterResult {
	return &models.KeywordFilterResult{
		Matches: []models.KeywordMatch{
			{Keyword: "AI", Category: "technology"},
			{Keyword: "AI", Category: "technology"},
			{Keyword: "GPU", Category: "technology"},
			{Keyword: "Shanghai", Category: "location"},
		},
		CategoryScores: map[string]float64{
			"technology": 0.9,
			"location":   0.4,
			"finance":    0.1,
		},
	}
}

func aiResult(total int, tags ...string) *models.AIFilterResult {
	return &models.AIFilterResult{Evaluation: models.AIEvaluation{TotalScore: total, Tags: tags}}
}

func TestFromKeywordResult(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	tags := g.FromKeywordResult(keywordResult())

	require.Len(t, tags, 2, "finance is below the minimum tag score")
	assert.Equal(t, "technology", tags[0].Name)
	assert.Equal(t, models.TagSourceKeyword, tags[0].Source)
	// 0.8 + min(0.2, 3*0.05) + min(0.1, 2*0.02), capped at 1.
	assert.InDelta(t, 0.99, tags[0].Confidence, 1e-9)
	assert.Equal(t, "location", tags[1].Name)
	assert.InDelta(t, 0.4+0.05+0.02, tags[1].Confidence, 1e-9)

	assert.Nil(t, g.FromKeywordResult(nil))
}

func TestFromKeywordResult_Truncates(t *testing.T) {
	g := NewGenerator(Options{MinTagScore: 0.1, MaxTagsPerArticle: 1, PrimaryTagThreshold: 0.5})
	tags := g.FromKeywordResult(keywordResult())
	require.Len(t, tags, 1)
	assert.Equal(t, "technology", tags[0].Name)
}

func TestEnhanceWithAI_Merge(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	kw := g.FromKeywordResult(keywordResult())
	got := g.EnhanceWithAI(kw, aiResult(24, "Location", "Quantum Computing"))

	byName := map[string]models.ArticleTag{}
	for _, tag := range got {
		byName[tag.Name] = tag
	}

	loc := byName["location"]
	assert.Equal(t, models.TagSourceKeywordAI, loc.Source)
	assert.InDelta(t, 1.0, loc.Score, 1e-9, "merged score is the max of both")
	assert.InDelta(t, (0.47+0.7)/2, loc.Confidence, 1e-9)
	assert.Zero(t, loc.Boost)

	qc := byName["quantum_computing"]
	assert.Equal(t, models.TagSourceAI, qc.Source)
	assert.InDelta(t, 0.9, qc.Score, 1e-9)
	assert.InDelta(t, 0.7, qc.Confidence, 1e-9)

	tech := byName["technology"]
	assert.Equal(t, models.TagSourceKeyword, tech.Source)
	assert.InDelta(t, 1.0, tech.Confidence, 1e-9, "boost is capped at 1")
	assert.InDelta(t, 0.01, tech.Boost, 1e-9)

	assert.Equal(t, "location", got[0].Name, "re-sorted by score")
}

func TestEnhanceWithAI_Idempotent(t *testing.T) {
	g := NewGenerator(Options{MinTagScore: 0.2, MaxTagsPerArticle: 3, PrimaryTagThreshold: 0.5})
	kw := g.FromKeywordResult(keywordResult())
	ai := aiResult(18, "technology", "chips", "robots", "supply chain")

	once := g.EnhanceWithAI(kw, ai)
	twice := g.EnhanceWithAI(once, ai)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Name, twice[i].Name)
		assert.Equal(t, once[i].Source, twice[i].Source)
		assert.InDelta(t, once[i].Score, twice[i].Score, 1e-9)
		assert.InDelta(t, once[i].Confidence, twice[i].Confidence, 1e-9)
		assert.InDelta(t, once[i].Boost, twice[i].Boost, 1e-9)
	}
}

func TestEnhanceWithAI_BoostIsReplaced(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	kw := []models.ArticleTag{models.NewArticleTag("finance", 0.5, 0.5, models.TagSourceKeyword)}

	high := g.EnhanceWithAI(kw, aiResult(30))
	assert.InDelta(t, 0.7, high[0].Confidence, 1e-9)

	low := g.EnhanceWithAI(high, aiResult(15))
	assert.InDelta(t, 0.6, low[0].Confidence, 1e-9)
	assert.InDelta(t, 0.1, low[0].Boost, 1e-9)
}

func TestEnhanceWithAI_IgnoresDegraded(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	kw := g.FromKeywordResult(keywordResult())
	degraded := &models.AIFilterResult{Evaluation: models.AIEvaluation{
		TotalScore: 15, Degraded: true, Tags: []string{"pending_review", "ai_unavailable"},
	}}
	assert.Equal(t, kw, g.EnhanceWithAI(kw, degraded))
	assert.Equal(t, kw, g.EnhanceWithAI(kw, nil))
}

func TestPrimaryAndConfidenceFilter(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	tags := []models.ArticleTag{
		models.NewArticleTag("a", 0.4, 0.9, models.TagSourceKeyword),
		models.NewArticleTag("b", 0.45, 0.3, models.TagSourceAI),
	}
	_, ok := g.Primary(tags)
	assert.False(t, ok, "best tag is below the primary threshold")

	tags = append(tags, models.NewArticleTag("c", 0.8, 0.6, models.TagSourceAI))
	p, ok := g.Primary(tags)
	require.True(t, ok)
	assert.Equal(t, "c", p.Name)

	kept := FilterByConfidence(tags, 0)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Name)
	assert.Equal(t, "c", kept[1].Name)
}
