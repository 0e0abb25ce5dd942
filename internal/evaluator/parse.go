package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"sift/internal/models"
)

// extractSpan returns the text from the first open delimiter to the last close delimiter.
func extractSpan(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func decodeStrict(span string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// parseEvaluation turns a single-article response into a validated evaluation.
func parseEvaluation(raw string, p Provider) (models.AIEvaluation, error) {
	text := p.Clean(raw)
	span, ok := extractSpan(text, '{', '}')
	if !ok {
		return models.AIEvaluation{}, parseErrorf(raw, "no JSON object found")
	}
	var obj map[string]interface{}
	if err := decodeStrict(span, &obj); err != nil {
		return models.AIEvaluation{}, parseErrorf(raw, "malformed JSON: %v", err)
	}
	eval, err := evaluationFromObject(obj, p.Defaults())
	if err != nil {
		return models.AIEvaluation{}, parseErrorf(raw, "%v", err)
	}
	return eval, nil
}

// batchParse is the outcome of decoding a batch response. Entries maps article index to evaluation.
type batchParse struct {
	Entries  map[int]models.AIEvaluation
	Warnings []string
}

// parseBatch decodes a batch response. Only a response that is not a JSON array of objects fails
// as a whole; invalid, duplicate or out-of-range entries are skipped with a warning.
func parseBatch(raw string, p Provider, n int) (*batchParse, error) {
	text := p.Clean(raw)
	span, ok := extractSpan(text, '[', ']')
	if !ok {
		return nil, parseErrorf(raw, "no JSON array found")
	}
	var items []map[string]interface{}
	if err := decodeStrict(span, &items); err != nil {
		return nil, parseErrorf(raw, "malformed JSON array: %v", err)
	}

	out := &batchParse{Entries: make(map[int]models.AIEvaluation, len(items))}
	if len(items) != n {
		out.Warnings = append(out.Warnings, fmt.Sprintf("response has %d entries for %d articles", len(items), n))
	}
	for i, item := range items {
		idx, err := intField(item, "article_index")
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		if idx < 0 || idx >= n {
			out.Warnings = append(out.Warnings, fmt.Sprintf("entry %d: article_index %d out of range", i, idx))
			continue
		}
		if _, dup := out.Entries[idx]; dup {
			out.Warnings = append(out.Warnings, fmt.Sprintf("entry %d: duplicate article_index %d ignored", i, idx))
			continue
		}
		eval, err := evaluationFromObject(item, p.Defaults())
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("entry %d (article %d): %v", i, idx, err))
			continue
		}
		out.Entries[idx] = eval
	}
	return out, nil
}

func evaluationFromObject(obj map[string]interface{}, defaults FieldDefaults) (models.AIEvaluation, error) {
	rel, err := intField(obj, "relevance_score")
	if err != nil {
		return models.AIEvaluation{}, err
	}
	inn, err := intField(obj, "innovation_impact")
	if err != nil {
		return models.AIEvaluation{}, err
	}
	prac, err := intField(obj, "practicality")
	if err != nil {
		return models.AIEvaluation{}, err
	}
	reported, err := intField(obj, "total_score")
	if err != nil {
		return models.AIEvaluation{}, err
	}
	reasoning, ok := obj["reasoning"].(string)
	if !ok {
		return models.AIEvaluation{}, errors.New("missing required field: reasoning")
	}

	confidence := defaults.Confidence
	if _, present := obj["confidence"]; present || !defaults.HasConfidence {
		confidence, err = floatField(obj, "confidence")
		if err != nil {
			return models.AIEvaluation{}, err
		}
	}

	eval, err := models.NewAIEvaluation(rel, inn, prac, reasoning, confidence)
	if err != nil {
		return models.AIEvaluation{}, err
	}
	if reported != eval.TotalScore {
		log.Warnf("AI reported total_score %d but dimensions sum to %d; using the sum", reported, eval.TotalScore)
	}

	eval.Summary = stringField(obj, "summary")
	eval.KeyInsights = stringList(obj, "key_insights")
	eval.Highlights = stringList(obj, "highlights")
	eval.Tags = stringList(obj, "tags")
	eval.DetailedAnalysis = stringMap(obj, "detailed_analysis")
	eval.RecommendationReason = stringField(obj, "recommendation_reason")
	eval.RiskAssessment = stringField(obj, "risk_assessment")
	eval.ImplementationSuggestions = stringList(obj, "implementation_suggestions")
	return eval, nil
}

func numberField(obj map[string]interface{}, name string) (float64, error) {
	v, ok := obj[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing required field: %s", name)
	}
	var f float64
	var err error
	switch n := v.(type) {
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("field %s is not a number", name)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("field %s is not a number", name)
	}
	return f, nil
}

// intField truncates fractional scores toward zero.
func intField(obj map[string]interface{}, name string) (int, error) {
	f, err := numberField(obj, name)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func floatField(obj map[string]interface{}, name string) (float64, error) {
	return numberField(obj, name)
}

func stringField(obj map[string]interface{}, name string) string {
	s, _ := obj[name].(string)
	return s
}

func stringList(obj map[string]interface{}, name string) []string {
	items, ok := obj[name].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(obj map[string]interface{}, name string) map[string]string {
	m, ok := obj[name].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
