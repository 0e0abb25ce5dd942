package tagging

import (
	"math"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"sift/internal/config"
	"sift/internal/models"
)

const (
	aiTagConfidence = 0.7
	aiTagMinScore   = 0.3
	maxBoost        = 0.2
)

type Options struct {
	MinTagScore         float64
	MaxTagsPerArticle   int
	PrimaryTagThreshold float64
}

func DefaultOptions() Options {
	return Options{MinTagScore: 0.2, MaxTagsPerArticle: 5, PrimaryTagThreshold: 0.5}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Tags.MinTagScore > 0 {
		opts.MinTagScore = cfg.Tags.MinTagScore
	}
	if cfg.Tags.MaxTagsPerArticle > 0 {
		opts.MaxTagsPerArticle = cfg.Tags.MaxTagsPerArticle
	}
	if cfg.Tags.PrimaryTagThreshold > 0 {
		opts.PrimaryTagThreshold = cfg.Tags.PrimaryTagThreshold
	}
	return opts
}

// Generator derives tags from keyword category scores and fuses AI-suggested tags into them.
// It holds no mutable state and is safe for concurrent use.
type Generator struct {
	opts Options
}

func NewGenerator(opts Options) *Generator {
	if opts.MaxTagsPerArticle <= 0 {
		opts.MaxTagsPerArticle = DefaultOptions().MaxTagsPerArticle
	}
	return &Generator{opts: opts}
}

func (g *Generator) Options() Options { return g.opts }

// FromKeywordResult emits one tag per category that scored at least MinTagScore.
func (g *Generator) FromKeywordResult(r *models.KeywordFilterResult) []models.ArticleTag {
	if r == nil || len(r.CategoryScores) == 0 {
		return nil
	}

	matches := make(map[string]int)
	unique := make(map[string]map[string]bool)
	for _, m := range r.Matches {
		matches[m.Category]++
		if unique[m.Category] == nil {
			unique[m.Category] = make(map[string]bool)
		}
		unique[m.Category][strings.ToLower(m.Keyword)] = true
	}

	names := make([]string, 0, len(r.CategoryScores))
	for name := range r.CategoryScores {
		names = append(names, name)
	}
	sort.Strings(names)

	var tags []models.ArticleTag
	for _, name := range names {
		score := r.CategoryScores[name]
		if score < g.opts.MinTagScore {
			continue
		}
		conf := keywordConfidence(score, matches[name], len(unique[name]))
		tags = append(tags, models.NewArticleTag(name, score, conf, models.TagSourceKeyword))
	}
	return g.rank(tags)
}

func keywordConfidence(score float64, matchCount, uniqueCount int) float64 {
	c := math.Min(0.8, score) +
		math.Min(0.2, float64(matchCount)*0.05) +
		math.Min(0.1, float64(uniqueCount)*0.02)
	return math.Min(1, c)
}

// normalizeTagName maps free-form AI tags onto the snake_case category namespace.
func normalizeTagName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func aiTags(names []string) []models.ArticleTag {
	seen := make(map[string]bool, len(names))
	var out []models.ArticleTag
	idx := 0
	for _, raw := range names {
		name := normalizeTagName(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		score := math.Max(aiTagMinScore, 1.0-float64(idx)*0.1)
		out = append(out, models.NewArticleTag(name, score, aiTagConfidence, models.TagSourceAI))
		idx++
	}
	return out
}

// EnhanceWithAI fuses the evaluation's tags into keyword tags. Applying it twice with the same
// evaluation gives the same result as applying it once.
func (g *Generator) EnhanceWithAI(tags []models.ArticleTag, ai *models.AIFilterResult) []models.ArticleTag {
	if ai == nil || ai.Evaluation.Degraded {
		return tags
	}

	out := make([]models.ArticleTag, len(tags))
	copy(out, tags)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.Name] = i
	}

	for _, at := range aiTags(ai.Evaluation.Tags) {
		i, ok := index[at.Name]
		if !ok {
			index[at.Name] = len(out)
			out = append(out, at)
			continue
		}
		existing := out[i]
		if existing.HasAI() {
			continue
		}
		base := existing.Confidence - existing.Boost
		out[i] = models.NewArticleTag(
			existing.Name,
			math.Max(existing.Score, at.Score),
			(base+at.Confidence)/2,
			models.TagSourceKeywordAI,
		)
	}

	boost := math.Min(maxBoost, float64(ai.Evaluation.TotalScore)/150.0)
	for i, t := range out {
		if t.Source != models.TagSourceKeyword {
			continue
		}
		base := t.Confidence - t.Boost
		boosted := math.Min(1, base+boost)
		out[i].Confidence = boosted
		out[i].Boost = boosted - base
	}

	log.Debugf("Fused %d AI tags into %d keyword tags", len(ai.Evaluation.Tags), len(tags))
	return g.rank(out)
}

// rank stable-sorts by score descending and truncates to MaxTagsPerArticle.
func (g *Generator) rank(tags []models.ArticleTag) []models.ArticleTag {
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Score > tags[j].Score })
	if len(tags) > g.opts.MaxTagsPerArticle {
		tags = tags[:g.opts.MaxTagsPerArticle]
	}
	return tags
}

// Generate builds the final tag set for one article from both stages.
func (g *Generator) Generate(kw *models.KeywordFilterResult, ai *models.AIFilterResult) []models.ArticleTag {
	return g.EnhanceWithAI(g.FromKeywordResult(kw), ai)
}

// Primary returns the highest scoring tag when it clears PrimaryTagThreshold.
func (g *Generator) Primary(tags []models.ArticleTag) (models.ArticleTag, bool) {
	t, ok := models.PrimaryTag(tags)
	if !ok || t.Score < g.opts.PrimaryTagThreshold {
		return models.ArticleTag{}, false
	}
	return t, true
}

const DefaultMinConfidence = 0.5

func FilterByConfidence(tags []models.ArticleTag, min float64) []models.ArticleTag {
	if min <= 0 {
		min = DefaultMinConfidence
	}
	var out []models.ArticleTag
	for _, t := range tags {
		if t.Confidence >= min {
			out = append(out, t)
		}
	}
	return out
}
