package evaluator

import (
	"fmt"

	"sift/internal/models"
)

const (
	FallbackConfidence = 0.5
	fallbackReasoning  = "AI service unavailable; degraded evaluation based on keyword matching"
)

// Fallback returns the degraded evaluation used when the endpoint is unavailable or its answer
// is unusable. base is split 40/30/30 and the total always equals base.
func Fallback(a *models.Article, base int) models.AIEvaluation {
	if base < 0 {
		base = 0
	}
	if base > models.MaxTotalScore {
		base = models.MaxTotalScore
	}
	innovation := base * 3 / 10
	practicality := base * 3 / 10
	relevance := base - innovation - practicality
	if relevance > models.MaxDimensionScore {
		// Only reachable for bases near the maximum; keep every dimension in range.
		extra := relevance - models.MaxDimensionScore
		relevance = models.MaxDimensionScore
		innovation += (extra + 1) / 2
		practicality += extra / 2
	}

	title := "this article"
	if a != nil && a.Title != "" {
		title = a.Title
	}
	return models.AIEvaluation{
		RelevanceScore:   relevance,
		InnovationImpact: innovation,
		Practicality:     practicality,
		TotalScore:       relevance + innovation + practicality,
		Reasoning:        fallbackReasoning,
		Confidence:       FallbackConfidence,
		Summary:          fmt.Sprintf("AI service unavailable, no summary generated for %s", title),
		KeyInsights:      []string{"AI service temporarily unavailable", "re-evaluate later"},
		Highlights:       []string{"needs manual review"},
		Tags:             []string{"pending_review", "ai_unavailable"},
		DetailedAnalysis: map[string]string{
			"relevance":    "not analysed: AI service unavailable",
			"innovation":   "not analysed: AI service unavailable",
			"practicality": "not analysed: AI service unavailable",
		},
		RecommendationReason:      "AI service error, manual review recommended",
		RiskAssessment:            "scores are placeholders and may not reflect the article",
		ImplementationSuggestions: []string{"wait for the AI service to recover", "review manually", "re-evaluate later"},
		Degraded:                  true,
	}
}
