package keyword

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"sift/internal/config"
	"sift/internal/models"
	"sift/internal/util"
)

// Category is one named keyword group with its scoring weight.
type Category struct {
	Name     string
	Keywords []string
	Weight   float64
}

// ScoringWeights holds every heuristic constant used by Score.
type ScoringWeights struct {
	UniqueKeyword   float64 // per distinct keyword
	PositionTitle   float64
	PositionSummary float64
	PositionContent float64
	PositionFactor  float64 // multiplier on position*category weight per match
	CategoryBonus   float64 // per category hit
	DensityFactor   float64
	DensityCap      float64
	CategoryUnique  float64 // per distinct keyword within a category
	CategoryCount   float64 // per match within a category
}

func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		UniqueKeyword:   0.1,
		PositionTitle:   3.0,
		PositionSummary: 2.0,
		PositionContent: 1.0,
		PositionFactor:  0.05,
		CategoryBonus:   0.1,
		DensityFactor:   1000,
		DensityCap:      0.2,
		CategoryUnique:  0.3,
		CategoryCount:   0.1,
	}
}

type Options struct {
	CaseSensitive bool
	WordBoundary  bool
	MinMatches    int
	Threshold     float64
	MaxResults    int
	ContentPrefix int // runes of content scanned
	TitleRepeat   int
	SummaryRepeat int
	ContextChars  int // runes of context on each side of a match
	Weights       ScoringWeights
}

func DefaultOptions() Options {
	return Options{
		WordBoundary:  true,
		MinMatches:    2,
		Threshold:     0.6,
		MaxResults:    100,
		ContentPrefix: 2000,
		TitleRepeat:   3,
		SummaryRepeat: 2,
		ContextChars:  50,
		Weights:       DefaultWeights(),
	}
}

// FromConfig builds the category list (sorted by name) and options from the keywords section.
func FromConfig(cfg *config.Config) ([]Category, Options) {
	kc := cfg.Keywords
	names := make([]string, 0, len(kc.Categories))
	for name := range kc.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	cats := make([]Category, 0, len(names))
	for _, name := range names {
		c := kc.Categories[name]
		cats = append(cats, Category{Name: name, Keywords: c.Keywords, Weight: c.Weight})
	}

	opts := DefaultOptions()
	opts.CaseSensitive = kc.CaseSensitive
	opts.WordBoundary = kc.WordBoundary
	opts.MinMatches = kc.MinMatches
	opts.Threshold = kc.Threshold
	opts.MaxResults = kc.MaxResults
	if kc.ContentPrefix > 0 {
		opts.ContentPrefix = kc.ContentPrefix
	}
	s := kc.Scoring
	opts.Weights = ScoringWeights{
		UniqueKeyword:   s.UniqueKeyword,
		PositionTitle:   s.PositionTitle,
		PositionSummary: s.PositionSummary,
		PositionContent: s.PositionContent,
		PositionFactor:  s.PositionFactor,
		CategoryBonus:   s.CategoryBonus,
		DensityFactor:   s.DensityFactor,
		DensityCap:      s.DensityCap,
		CategoryUnique:  s.CategoryUnique,
		CategoryCount:   s.CategoryCount,
	}
	return cats, opts
}

type matcher struct {
	category string
	weight   float64
	re       *regexp.Regexp
}

// Metrics summarizes scorer activity since construction. Qualified counts scored articles that
// reach MinMatches and Threshold.
type Metrics struct {
	Processed      int           `json:"processed"`
	Qualified      int           `json:"qualified"`
	TotalTime      time.Duration `json:"total_time"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Scorer matches category keywords against article text and derives a relevance score.
// It is safe for concurrent use.
type Scorer struct {
	opts     Options
	matchers []matcher

	mu      sync.Mutex
	metrics Metrics
}

// NewScorer compiles one matcher per category. A category with no usable keyword is an error.
func NewScorer(categories []Category, opts Options) (*Scorer, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: at least one keyword category is required", models.ErrValidation)
	}
	if opts.TitleRepeat <= 0 {
		opts.TitleRepeat = 1
	}
	if opts.SummaryRepeat <= 0 {
		opts.SummaryRepeat = 1
	}

	s := &Scorer{opts: opts}
	for _, c := range categories {
		re, err := compileCategory(c.Keywords, opts.CaseSensitive, opts.WordBoundary)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c.Name, err)
		}
		s.matchers = append(s.matchers, matcher{category: c.Name, weight: c.Weight, re: re})
	}
	log.Debugf("Keyword scorer compiled %d categories", len(s.matchers))
	return s, nil
}

func compileCategory(keywords []string, caseSensitive, wordBoundary bool) (*regexp.Regexp, error) {
	seen := make(map[string]bool, len(keywords))
	var kws []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		k := kw
		if !caseSensitive {
			k = strings.ToLower(kw)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kws = append(kws, kw)
	}
	if len(kws) == 0 {
		return nil, fmt.Errorf("%w: no usable keywords", models.ErrValidation)
	}

	// Longest first so overlapping alternatives prefer the longer phrase.
	sort.SliceStable(kws, func(i, j int) bool {
		return utf8.RuneCountInString(kws[i]) > utf8.RuneCountInString(kws[j])
	})

	parts := make([]string, len(kws))
	for i, kw := range kws {
		p := regexp.QuoteMeta(kw)
		if wordBoundary {
			first, _ := utf8.DecodeRuneInString(kw)
			last, _ := utf8.DecodeLastRuneInString(kw)
			// RE2 \b only understands ASCII word characters.
			if isASCIIWord(first) {
				p = `\b` + p
			}
			if isASCIIWord(last) {
				p = p + `\b`
			}
		}
		parts[i] = p
	}

	pattern := strings.Join(parts, "|")
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func isASCIIWord(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

type position int

const (
	inTitle position = iota
	inSummary
	inContent
)

// prepared is the scan text plus the character offsets where the title and summary regions end.
type prepared struct {
	text       string
	titleEnd   int
	summaryEnd int
}

func (p prepared) positionOf(offset int) position {
	switch {
	case offset < p.titleEnd:
		return inTitle
	case offset < p.summaryEnd:
		return inSummary
	default:
		return inContent
	}
}

func (s *Scorer) prepare(a *models.Article) prepared {
	var parts []string
	var p prepared
	length := 0
	add := func(seg string) {
		if len(parts) > 0 {
			length++ // joining space
		}
		parts = append(parts, seg)
		length += utf8.RuneCountInString(seg)
	}

	if a.Title != "" {
		for i := 0; i < s.opts.TitleRepeat; i++ {
			add(a.Title)
		}
	}
	p.titleEnd = length
	if a.Summary != "" {
		for i := 0; i < s.opts.SummaryRepeat; i++ {
			add(a.Summary)
		}
	}
	p.summaryEnd = length
	if a.Content != "" {
		content := a.Content
		if s.opts.ContentPrefix > 0 {
			content = util.TruncateRunes(content, s.opts.ContentPrefix)
		}
		add(content)
	}
	p.text = strings.Join(parts, " ")
	return p
}

func (s *Scorer) findMatches(p prepared) []models.KeywordMatch {
	if p.text == "" {
		return nil
	}
	var matches []models.KeywordMatch
	for _, m := range s.matchers {
		// Match offsets ascend, so the rune count is carried forward from the previous match.
		byteOff, runeOff := 0, 0
		for _, loc := range m.re.FindAllStringIndex(p.text, -1) {
			runeOff += utf8.RuneCountInString(p.text[byteOff:loc[0]])
			byteOff = loc[0]
			matches = append(matches, models.KeywordMatch{
				Keyword:  p.text[loc[0]:loc[1]],
				Category: m.category,
				Position: runeOff,
				Context:  s.context(p.text, loc[0], loc[1]),
				Kind:     models.MatchExact,
			})
		}
	}
	return matches
}

// context returns up to ContextChars runes on each side of text[start:end], with the match in bold.
func (s *Scorer) context(text string, start, end int) string {
	n := s.opts.ContextChars
	before := text[:start]
	if cnt := utf8.RuneCountInString(before); cnt > n {
		before = string([]rune(before)[cnt-n:])
	}
	after := util.TruncateRunes(text[end:], n)
	return before + "**" + text[start:end] + "**" + after
}

// Score matches and scores one article. The result never depends on time or randomness,
// apart from ProcessingTime.
func (s *Scorer) Score(a *models.Article) *models.KeywordFilterResult {
	start := time.Now()
	p := s.prepare(a)
	matches := s.findMatches(p)

	result := &models.KeywordFilterResult{
		Article:        a,
		Matches:        matches,
		RelevanceScore: s.relevance(matches, p, a),
		CategoryScores: s.categoryScores(matches),
		ProcessingTime: time.Since(start),
	}

	s.mu.Lock()
	s.metrics.Processed++
	if s.Qualifies(result) && result.RelevanceScore >= s.opts.Threshold {
		s.metrics.Qualified++
	}
	s.metrics.TotalTime += result.ProcessingTime
	s.mu.Unlock()
	return result
}

func (s *Scorer) categoryWeight(name string) float64 {
	for _, m := range s.matchers {
		if m.category == name {
			return m.weight
		}
	}
	return 1.0
}

func (s *Scorer) relevance(matches []models.KeywordMatch, p prepared, a *models.Article) float64 {
	if len(matches) == 0 {
		return 0
	}
	w := s.opts.Weights

	unique := make(map[string]bool)
	categories := make(map[string]bool)
	positionScore := 0.0
	for _, m := range matches {
		unique[strings.ToLower(m.Keyword)] = true
		categories[m.Category] = true

		posWeight := w.PositionContent
		switch p.positionOf(m.Position) {
		case inTitle:
			posWeight = w.PositionTitle
		case inSummary:
			posWeight = w.PositionSummary
		}
		positionScore += posWeight * s.categoryWeight(m.Category) * w.PositionFactor
	}

	density := 0.0
	if length := utf8.RuneCountInString(a.Title) + utf8.RuneCountInString(a.Summary); length > 0 {
		density = min(float64(len(matches))/float64(length)*w.DensityFactor, w.DensityCap)
	}

	total := float64(len(unique))*w.UniqueKeyword + positionScore + float64(len(categories))*w.CategoryBonus + density
	return clamp01(total)
}

func (s *Scorer) categoryScores(matches []models.KeywordMatch) map[string]float64 {
	type tally struct {
		unique map[string]bool
		count  int
	}
	tallies := make(map[string]*tally)
	for _, m := range matches {
		t, ok := tallies[m.Category]
		if !ok {
			t = &tally{unique: make(map[string]bool)}
			tallies[m.Category] = t
		}
		t.unique[strings.ToLower(m.Keyword)] = true
		t.count++
	}

	w := s.opts.Weights
	scores := make(map[string]float64, len(tallies))
	for cat, t := range tallies {
		score := (float64(len(t.unique))*w.CategoryUnique + float64(t.count)*w.CategoryCount) * s.categoryWeight(cat)
		scores[cat] = clamp01(score)
	}
	return scores
}

// Qualifies reports whether the result has at least MinMatches matches.
func (s *Scorer) Qualifies(r *models.KeywordFilterResult) bool {
	return r != nil && len(r.Matches) >= s.opts.MinMatches
}

// Filter scores every article and keeps the qualifying ones at or above Threshold, best first,
// capped at MaxResults.
func (s *Scorer) Filter(articles []*models.Article) []*models.KeywordFilterResult {
	var results []*models.KeywordFilterResult
	for _, a := range articles {
		r := s.Score(a)
		if !s.Qualifies(r) || r.RelevanceScore < s.opts.Threshold {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	if s.opts.MaxResults > 0 && len(results) > s.opts.MaxResults {
		results = results[:s.opts.MaxResults]
	}
	return results
}

func (s *Scorer) Options() Options { return s.opts }

func (s *Scorer) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	if m.Processed > 0 {
		m.AverageLatency = m.TotalTime / time.Duration(m.Processed)
	}
	return m
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
