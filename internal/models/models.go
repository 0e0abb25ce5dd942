package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AIUsageLog represents a record of AI API usage for cost tracking.
type AIUsageLog struct {
	ID           int64      `db:"id"`
	Timestamp    time.Time  `db:"timestamp"`
	ProviderName string     `db:"provider_name"`
	ServiceType  string     `db:"service_type"` // e.g., "evaluation", "batch_evaluation"
	ModelName    string     `db:"model_name"`
	InputTokens  int        `db:"input_tokens"`
	OutputTokens int        `db:"output_tokens"`
	Cost         float64    `db:"cost"`
	RelatedRunID *uuid.UUID `db:"related_run_id"` // nullable
}

// Article is a candidate item handed over by the fetch side. Stages reference it, never copy it.
type Article struct {
	ID          string    `json:"id" yaml:"id"`
	URL         string    `json:"url" yaml:"url"`
	Title       string    `json:"title" yaml:"title"`
	Summary     string    `json:"summary" yaml:"summary"`
	Content     string    `json:"content,omitempty" yaml:"content,omitempty"`
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`
	SourceID    string    `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	SourceTitle string    `json:"source_title,omitempty" yaml:"source_title,omitempty"`
}

// Key identifies an article within one run.
func (a *Article) Key() string {
	if a.ID != "" {
		return a.ID
	}
	if a.URL != "" {
		return a.URL
	}
	return fmt.Sprintf("%s_%s", a.Title, a.PublishedAt.Format(time.RFC3339))
}

type MatchKind string

const (
	MatchExact MatchKind = "exact"
)

// KeywordMatch is one keyword occurrence found while scoring.
type KeywordMatch struct {
	Keyword  string    `json:"keyword"`
	Category string    `json:"category"`
	Position int       `json:"position"` // character offset in the prepared text
	Context  string    `json:"context"`
	Kind     MatchKind `json:"kind"`
}

type KeywordFilterResult struct {
	Article        *Article           `json:"-"`
	Matches        []KeywordMatch     `json:"matches"`
	RelevanceScore float64            `json:"relevance_score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	ProcessingTime time.Duration      `json:"processing_time"`
	Tags           []ArticleTag       `json:"tags,omitempty"`
}

// MatchedKeywords returns the distinct matched keywords in first-seen order.
func (r *KeywordFilterResult) MatchedKeywords() []string {
	seen := make(map[string]bool, len(r.Matches))
	var out []string
	for _, m := range r.Matches {
		if seen[m.Keyword] {
			continue
		}
		seen[m.Keyword] = true
		out = append(out, m.Keyword)
	}
	return out
}

const (
	MaxDimensionScore = 10
	MaxTotalScore     = 3 * MaxDimensionScore
)

// AIEvaluation is the structured verdict for one article. TotalScore is always the sum of the
// three dimension scores.
type AIEvaluation struct {
	RelevanceScore   int     `json:"relevance_score"`
	InnovationImpact int     `json:"innovation_impact"`
	Practicality     int     `json:"practicality"`
	TotalScore       int     `json:"total_score"`
	Reasoning        string  `json:"reasoning"`
	Confidence       float64 `json:"confidence"`

	Summary                   string            `json:"summary,omitempty"`
	KeyInsights               []string          `json:"key_insights,omitempty"`
	Highlights                []string          `json:"highlights,omitempty"`
	Tags                      []string          `json:"tags,omitempty"`
	DetailedAnalysis          map[string]string `json:"detailed_analysis,omitempty"`
	RecommendationReason      string            `json:"recommendation_reason,omitempty"`
	RiskAssessment            string            `json:"risk_assessment,omitempty"`
	ImplementationSuggestions []string          `json:"implementation_suggestions,omitempty"`

	// Degraded marks a fallback evaluation produced without a usable model response.
	Degraded bool `json:"degraded,omitempty"`
}

// NewAIEvaluation validates the dimension scores and derives the total.
func NewAIEvaluation(relevance, innovation, practicality int, reasoning string, confidence float64) (AIEvaluation, error) {
	dims := []struct {
		name string
		v    int
	}{
		{"relevance_score", relevance},
		{"innovation_impact", innovation},
		{"practicality", practicality},
	}
	for _, d := range dims {
		if d.v < 0 || d.v > MaxDimensionScore {
			return AIEvaluation{}, fmt.Errorf("%w: %s=%d outside [0,%d]", ErrInvalidScore, d.name, d.v, MaxDimensionScore)
		}
	}
	return AIEvaluation{
		RelevanceScore:   relevance,
		InnovationImpact: innovation,
		Practicality:     practicality,
		TotalScore:       relevance + innovation + practicality,
		Reasoning:        reasoning,
		Confidence:       clamp01(confidence),
	}, nil
}

type AIFilterResult struct {
	Article        *Article      `json:"-"`
	Evaluation     AIEvaluation  `json:"evaluation"`
	ProcessingTime time.Duration `json:"processing_time"`
	Model          string        `json:"model"`
	Cached         bool          `json:"cached"`
}

type TagSource string

const (
	TagSourceKeyword   TagSource = "keyword"
	TagSourceAI        TagSource = "ai"
	TagSourceKeywordAI TagSource = "keyword+ai"
)

// ArticleTag is one derived label with its strength and provenance.
type ArticleTag struct {
	Name       string    `json:"name"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	Source     TagSource `json:"source"`
	// Boost is the confidence increment currently applied from the AI total score.
	Boost float64 `json:"boost,omitempty"`
}

func NewArticleTag(name string, score, confidence float64, source TagSource) ArticleTag {
	return ArticleTag{Name: name, Score: clamp01(score), Confidence: clamp01(confidence), Source: source}
}

// HasAI reports whether the AI signal contributed to this tag.
func (t ArticleTag) HasAI() bool {
	return t.Source == TagSourceAI || t.Source == TagSourceKeywordAI
}

// PrimaryTag returns the highest scoring tag; ties go to the earlier tag.
func PrimaryTag(tags []ArticleTag) (ArticleTag, bool) {
	if len(tags) == 0 {
		return ArticleTag{}, false
	}
	best := tags[0]
	for _, t := range tags[1:] {
		if t.Score > best.Score {
			best = t
		}
	}
	return best, true
}

// TagLimit is the quota state of one tag. Only the quota tracker mutates it.
type TagLimit struct {
	Name         string  `json:"name"`
	MaxCount     int     `json:"max_count"`
	CurrentCount int     `json:"current_count"`
	Priority     float64 `json:"priority"`
}

func (l TagLimit) Remaining() int {
	if r := l.MaxCount - l.CurrentCount; r > 0 {
		return r
	}
	return 0
}

func (l TagLimit) IsFull() bool { return l.CurrentCount >= l.MaxCount }

func (l TagLimit) FillRatio() float64 {
	if l.MaxCount <= 0 {
		return 1.0
	}
	return float64(l.CurrentCount) / float64(l.MaxCount)
}

// CombinedFilterResult is the unit the selector works on and the unit exported downstream.
type CombinedFilterResult struct {
	Article         *Article             `json:"article"`
	KeywordResult   *KeywordFilterResult `json:"keyword_result,omitempty"`
	AIResult        *AIFilterResult      `json:"ai_result,omitempty"`
	FinalScore      float64              `json:"final_score"`
	Selected        bool                 `json:"selected"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	Tags            []ArticleTag         `json:"tags,omitempty"`
}

func (r *CombinedFilterResult) PrimaryTag() (ArticleTag, bool) { return PrimaryTag(r.Tags) }

// Reject marks the result as not selected.
func (r *CombinedFilterResult) Reject(reason string) {
	r.Selected = false
	r.RejectionReason = reason
}

// Accept marks the result as selected and clears any rejection reason.
func (r *CombinedFilterResult) Accept() {
	r.Selected = true
	r.RejectionReason = ""
}

// DefaultTagThreshold is the score cut used by TagsAbove when none is given.
const DefaultTagThreshold = 0.3

func (r *CombinedFilterResult) TagsAbove(threshold float64) []ArticleTag {
	if threshold <= 0 {
		threshold = DefaultTagThreshold
	}
	var out []ArticleTag
	for _, t := range r.Tags {
		if t.Score >= threshold {
			out = append(out, t)
		}
	}
	return out
}

type TagStatistics struct {
	Distribution          map[string]int     `json:"distribution"`
	FillRatios            map[string]float64 `json:"fill_ratios"`
	Underrepresented      []string           `json:"underrepresented"`
	Overrepresented       []string           `json:"overrepresented"`
	TaggedArticles        int                `json:"tagged_articles"`
	UntaggedArticles      int                `json:"untagged_articles"`
	AverageTagsPerArticle float64            `json:"average_tags_per_article"`
	DiversityScore        float64            `json:"diversity_score"`
}

// Stage is the position of one source in the filter pipeline.
type Stage string

const (
	StagePending          Stage = "pending"
	StageKeywordFiltering Stage = "keyword_filtering"
	StageAIFiltering      Stage = "ai_filtering"
	StageTagging          Stage = "tagging"
	StageSelecting        Stage = "selecting"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// FilterChainResult aggregates one pass over a single source.
type FilterChainResult struct {
	SourceID             string                  `json:"source_id"`
	TotalArticles        int                     `json:"total_articles"`
	KeywordFilteredCount int                     `json:"keyword_filtered_count"`
	AIFilteredCount      int                     `json:"ai_filtered_count"`
	FinalSelectedCount   int                     `json:"final_selected_count"`
	Selected             []*CombinedFilterResult `json:"selected"`
	Rejected             []*CombinedFilterResult `json:"rejected,omitempty"`

	KeywordFilterTime   time.Duration `json:"keyword_filter_time"`
	AIFilterTime        time.Duration `json:"ai_filter_time"`
	TaggingTime         time.Duration `json:"tagging_time"`
	SelectionTime       time.Duration `json:"selection_time"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          time.Time     `json:"finished_at"`

	Stage         Stage          `json:"stage"`
	Errors        []string       `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	TagStatistics *TagStatistics `json:"tag_statistics,omitempty"`
}

func (r *FilterChainResult) AddError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *FilterChainResult) AddWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// SubscriptionFilterResult is the outcome of one source inside a batch.
type SubscriptionFilterResult struct {
	SourceID        string             `json:"source_id"`
	SourceTitle     string             `json:"source_title"`
	Result          *FilterChainResult `json:"result"`
	ArticlesFetched int                `json:"articles_fetched"`
	FetchTime       time.Duration      `json:"fetch_time"`
	Error           string             `json:"error,omitempty"`
}

func (s *SubscriptionFilterResult) SelectedCount() int {
	if s.Result == nil {
		return 0
	}
	return s.Result.FinalSelectedCount
}

// Failed reports whether the source could not be processed.
func (s *SubscriptionFilterResult) Failed() bool {
	return s.Error != "" || s.Result == nil || s.Result.Stage == StageFailed
}

// BatchFilterResult aggregates one batch invocation over many sources.
type BatchFilterResult struct {
	RunID                 uuid.UUID                   `json:"run_id"`
	TotalSources          int                         `json:"total_sources"`
	ProcessedSources      int                         `json:"processed_sources"`
	FailedSources         int                         `json:"failed_sources"`
	Sources               []*SubscriptionFilterResult `json:"sources"`
	TotalArticlesFetched  int                         `json:"total_articles_fetched"`
	TotalArticlesSelected int                         `json:"total_articles_selected"`
	TotalFetchTime        time.Duration               `json:"total_fetch_time"`
	TotalFilterTime       time.Duration               `json:"total_filter_time"`
	StartedAt             time.Time                   `json:"started_at"`
	FinishedAt            time.Time                   `json:"finished_at"`
	Errors                []string                    `json:"errors,omitempty"`
	Warnings              []string                    `json:"warnings,omitempty"`
}

func (b *BatchFilterResult) AddError(format string, args ...interface{}) {
	b.Errors = append(b.Errors, fmt.Sprintf(format, args...))
}

func (b *BatchFilterResult) AddWarning(format string, args ...interface{}) {
	b.Warnings = append(b.Warnings, fmt.Sprintf(format, args...))
}

func (b *BatchFilterResult) SuccessRate() float64 {
	if b.TotalSources == 0 {
		return 0
	}
	return float64(b.ProcessedSources) / float64(b.TotalSources)
}

func (b *BatchFilterResult) TotalProcessingTime() time.Duration {
	if b.FinishedAt.IsZero() {
		return 0
	}
	return b.FinishedAt.Sub(b.StartedAt)
}

// AllSelected flattens the selected results of every source in source order.
func (b *BatchFilterResult) AllSelected() []*CombinedFilterResult {
	var out []*CombinedFilterResult
	for _, s := range b.Sources {
		if s.Result == nil {
			continue
		}
		out = append(out, s.Result.Selected...)
	}
	return out
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
