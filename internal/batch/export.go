package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"sift/internal/models"
)

const (
	SortByFinalScore = "final_score"
	SortByPublished  = "published"
	SortBySource     = "source"
)

// SortedSelections flattens the selected articles of every source and orders them.
func SortedSelections(res *models.BatchFilterResult, sortBy string) []*models.CombinedFilterResult {
	all := res.AllSelected()
	switch sortBy {
	case SortByPublished:
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].Article.PublishedAt.After(all[j].Article.PublishedAt)
		})
	case SortBySource:
		sort.SliceStable(all, func(i, j int) bool {
			return sourceName(all[i].Article) < sourceName(all[j].Article)
		})
	default:
		sort.SliceStable(all, func(i, j int) bool { return all[i].FinalScore > all[j].FinalScore })
	}
	return all
}

func sourceName(a *models.Article) string {
	if a.SourceTitle != "" {
		return a.SourceTitle
	}
	return a.SourceID
}

type ReportSummary struct {
	RunID                 uuid.UUID `json:"run_id" yaml:"run_id"`
	TotalSources          int       `json:"total_sources" yaml:"total_sources"`
	ProcessedSources      int       `json:"processed_sources" yaml:"processed_sources"`
	FailedSources         int       `json:"failed_sources" yaml:"failed_sources"`
	SuccessRate           float64   `json:"success_rate" yaml:"success_rate"`
	TotalArticlesFetched  int       `json:"total_articles_fetched" yaml:"total_articles_fetched"`
	TotalArticlesSelected int       `json:"total_articles_selected" yaml:"total_articles_selected"`
	ProcessingSeconds     float64   `json:"processing_seconds" yaml:"processing_seconds"`
	StartedAt             time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt            time.Time `json:"finished_at" yaml:"finished_at"`
}

type SelectedArticle struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Summary      string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	URL          string    `json:"url,omitempty" yaml:"url,omitempty"`
	Published    time.Time `json:"published" yaml:"published"`
	SourceTitle  string    `json:"source_title,omitempty" yaml:"source_title,omitempty"`
	FinalScore   float64   `json:"final_score" yaml:"final_score"`
	KeywordScore *float64  `json:"keyword_score,omitempty" yaml:"keyword_score,omitempty"`
	AIScore      *int      `json:"ai_score,omitempty" yaml:"ai_score,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Degraded     bool      `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	Tags         []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

type SourceReport struct {
	SourceID         string            `json:"source_id" yaml:"source_id"`
	SourceTitle      string            `json:"source_title" yaml:"source_title"`
	ArticlesFetched  int               `json:"articles_fetched" yaml:"articles_fetched"`
	ArticlesSelected int               `json:"articles_selected" yaml:"articles_selected"`
	FetchSeconds     float64           `json:"fetch_seconds" yaml:"fetch_seconds"`
	FilterSeconds    float64           `json:"filter_seconds" yaml:"filter_seconds"`
	Error            string            `json:"error,omitempty" yaml:"error,omitempty"`
	Warnings         []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Selected         []SelectedArticle `json:"selected_articles" yaml:"selected_articles"`
}

// Report is the exported, serialisable form of a batch result.
type Report struct {
	Summary  ReportSummary  `json:"summary" yaml:"summary"`
	Sources  []SourceReport `json:"sources" yaml:"sources"`
	Errors   []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func Export(res *models.BatchFilterResult) *Report {
	rep := &Report{
		Summary: ReportSummary{
			RunID:                 res.RunID,
			TotalSources:          res.TotalSources,
			ProcessedSources:      res.ProcessedSources,
			FailedSources:         res.FailedSources,
			SuccessRate:           res.SuccessRate(),
			TotalArticlesFetched:  res.TotalArticlesFetched,
			TotalArticlesSelected: res.TotalArticlesSelected,
			ProcessingSeconds:     res.TotalProcessingTime().Seconds(),
			StartedAt:             res.StartedAt,
			FinishedAt:            res.FinishedAt,
		},
		Sources:  make([]SourceReport, 0, len(res.Sources)),
		Errors:   res.Errors,
		Warnings: res.Warnings,
	}
	for _, s := range res.Sources {
		sr := SourceReport{
			SourceID:         s.SourceID,
			SourceTitle:      s.SourceTitle,
			ArticlesFetched:  s.ArticlesFetched,
			ArticlesSelected: s.SelectedCount(),
			FetchSeconds:     s.FetchTime.Seconds(),
			Error:            s.Error,
			Selected:         []SelectedArticle{},
		}
		if s.Result != nil {
			sr.FilterSeconds = s.Result.TotalProcessingTime.Seconds()
			sr.Warnings = s.Result.Warnings
			for _, cr := range s.Result.Selected {
				sr.Selected = append(sr.Selected, ExportArticle(cr))
			}
		}
		rep.Sources = append(rep.Sources, sr)
	}
	return rep
}

// ExportArticle converts one selected result to its report form.
func ExportArticle(cr *models.CombinedFilterResult) SelectedArticle {
	a := cr.Article
	out := SelectedArticle{
		ID:          a.Key(),
		Title:       a.Title,
		Summary:     a.Summary,
		URL:         a.URL,
		Published:   a.PublishedAt,
		SourceTitle: a.SourceTitle,
		FinalScore:  cr.FinalScore,
	}
	if cr.KeywordResult != nil {
		v := cr.KeywordResult.RelevanceScore
		out.KeywordScore = &v
	}
	if cr.AIResult != nil {
		v := cr.AIResult.Evaluation.TotalScore
		out.AIScore = &v
		out.Reasoning = cr.AIResult.Evaluation.Reasoning
		out.Degraded = cr.AIResult.Evaluation.Degraded
	}
	for _, t := range cr.Tags {
		out.Tags = append(out.Tags, t.Name)
	}
	return out
}

func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return nil
}

func WriteYAML(w io.Writer, rep *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("failed to encode report as YAML: %w", err)
	}
	return enc.Close()
}
