package tagging

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"sift/internal/models"
)

const (
	underrepresentedRatio = 0.5
	overrepresentedRatio  = 0.9
)

// Analyzer summarises how primary tags are spread over a result set relative to the configured quotas.
type Analyzer struct {
	limits map[string]int
}

// NewAnalyzer takes the max count per tag; tags without a limit count as full.
func NewAnalyzer(limits map[string]int) *Analyzer {
	l := make(map[string]int, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	return &Analyzer{limits: l}
}

func (a *Analyzer) Analyze(results []*models.CombinedFilterResult) *models.TagStatistics {
	stats := &models.TagStatistics{
		Distribution: make(map[string]int),
		FillRatios:   make(map[string]float64),
	}
	if len(results) == 0 {
		return stats
	}

	totalTags := 0
	for _, r := range results {
		totalTags += len(r.Tags)
		primary, ok := r.PrimaryTag()
		if !ok {
			stats.UntaggedArticles++
			continue
		}
		stats.TaggedArticles++
		stats.Distribution[primary.Name]++
	}
	stats.AverageTagsPerArticle = float64(totalTags) / float64(len(results))

	for name, count := range stats.Distribution {
		if limit := a.limits[name]; limit > 0 {
			stats.FillRatios[name] = float64(count) / float64(limit)
		} else {
			stats.FillRatios[name] = 1.0
		}
	}
	for name := range a.limits {
		if _, ok := stats.FillRatios[name]; !ok {
			stats.FillRatios[name] = 0
		}
	}

	for _, name := range sortedKeys(stats.FillRatios) {
		ratio := stats.FillRatios[name]
		switch {
		case ratio < underrepresentedRatio:
			stats.Underrepresented = append(stats.Underrepresented, name)
		case ratio > overrepresentedRatio:
			stats.Overrepresented = append(stats.Overrepresented, name)
		}
	}
	stats.DiversityScore = diversity(stats.Distribution)
	return stats
}

// diversity is the Shannon entropy of the distribution normalised to [0,1].
func diversity(dist map[string]int) float64 {
	total := 0
	for _, c := range dist {
		total += c
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range dist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	maxEntropy := 1.0
	if len(dist) > 1 {
		maxEntropy = math.Log2(float64(len(dist)))
	}
	return entropy / maxEntropy
}

type BalanceSummary struct {
	TotalArticles         int     `json:"total_articles" yaml:"total_articles"`
	TaggedArticles        int     `json:"tagged_articles" yaml:"tagged_articles"`
	UntaggedArticles      int     `json:"untagged_articles" yaml:"untagged_articles"`
	CoveragePercent       float64 `json:"coverage_percent" yaml:"coverage_percent"`
	AverageTagsPerArticle float64 `json:"average_tags_per_article" yaml:"average_tags_per_article"`
	DiversityPercent      float64 `json:"diversity_percent" yaml:"diversity_percent"`
	UniqueTags            int     `json:"unique_tags" yaml:"unique_tags"`
}

type BalanceReport struct {
	Summary          BalanceSummary     `json:"summary" yaml:"summary"`
	TagCounts        map[string]int     `json:"tag_counts" yaml:"tag_counts"`
	FillPercent      map[string]float64 `json:"fill_percent" yaml:"fill_percent"`
	Underrepresented []string           `json:"underrepresented,omitempty" yaml:"underrepresented,omitempty"`
	Overrepresented  []string           `json:"overrepresented,omitempty" yaml:"overrepresented,omitempty"`
	Recommendations  []string           `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

func (a *Analyzer) BalanceReport(stats *models.TagStatistics) *BalanceReport {
	total := stats.TaggedArticles + stats.UntaggedArticles
	rep := &BalanceReport{
		Summary: BalanceSummary{
			TotalArticles:         total,
			TaggedArticles:        stats.TaggedArticles,
			UntaggedArticles:      stats.UntaggedArticles,
			AverageTagsPerArticle: stats.AverageTagsPerArticle,
			DiversityPercent:      stats.DiversityScore * 100,
			UniqueTags:            len(stats.Distribution),
		},
		TagCounts:        stats.Distribution,
		FillPercent:      make(map[string]float64, len(stats.FillRatios)),
		Underrepresented: stats.Underrepresented,
		Overrepresented:  stats.Overrepresented,
		Recommendations:  recommendations(stats),
	}
	if total > 0 {
		rep.Summary.CoveragePercent = float64(stats.TaggedArticles) / float64(total) * 100
	}
	for k, v := range stats.FillRatios {
		rep.FillPercent[k] = v * 100
	}
	return rep
}

func recommendations(stats *models.TagStatistics) []string {
	var recs []string
	total := stats.TaggedArticles + stats.UntaggedArticles
	if total > 0 {
		if coverage := float64(stats.TaggedArticles) / float64(total); coverage < 0.8 {
			recs = append(recs, fmt.Sprintf("Tag coverage is low (%.1f%%); consider lowering tags.min_tag_score or extending keyword categories", coverage*100))
		}
	}
	if stats.DiversityScore < 0.6 {
		recs = append(recs, fmt.Sprintf("Tag distribution is uneven (diversity %.1f%%); consider raising selection.balance_weight", stats.DiversityScore*100))
	}
	if len(stats.Underrepresented) > 0 {
		recs = append(recs, "Underrepresented tags: "+strings.Join(head(stats.Underrepresented, 5), ", "))
	}
	if len(stats.Overrepresented) > 0 {
		recs = append(recs, "Possibly overrepresented tags: "+strings.Join(head(stats.Overrepresented, 3), ", "))
	}
	switch {
	case stats.AverageTagsPerArticle < 1.0:
		recs = append(recs, "Few tags per article on average; consider lowering the tag generation threshold")
	case stats.AverageTagsPerArticle > 3.0:
		recs = append(recs, "Many tags per article on average; consider raising the tag generation threshold")
	}
	return recs
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
