package evaluator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"sift/internal/config"
	"sift/internal/models"
	"sift/internal/util"
)

// FieldDefaults lists response fields a provider may omit.
type FieldDefaults struct {
	Confidence    float64
	HasConfidence bool
}

// Provider captures everything that differs between model vendors: prompt templates, preview
// length, response cleaning and field defaults. Retry, caching and parsing are shared.
type Provider interface {
	Name() string
	BuildPrompt(articles []*models.Article, batch bool) []openai.ChatCompletionMessage
	Clean(raw string) string
	Defaults() FieldDefaults
}

// PromptOverrides replaces built-in templates. Empty fields keep the built-in text.
type PromptOverrides struct {
	System string
	Single string
	Batch  string
}

type TemplateProvider struct {
	name            string
	system          string
	single          string
	batch           string
	previewLen      int
	batchPreviewLen int
	stripThink      bool
	defaults        FieldDefaults
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// NewProvider returns the template provider for one of config.KnownProviders.
func NewProvider(name string, overrides PromptOverrides) (*TemplateProvider, error) {
	p := &TemplateProvider{
		name:            name,
		system:          defaultSystemPrompt,
		single:          evaluationPromptTemplate,
		batch:           batchEvaluationPromptTemplate,
		previewLen:      500,
		batchPreviewLen: 500,
	}
	lenient := FieldDefaults{Confidence: 0.8, HasConfidence: true}

	switch name {
	case config.ProviderOpenAI:
	case config.ProviderMoonshot:
		p.single += strictJSONNote
		p.batch += strictJSONNote
		p.previewLen = 1000
		p.batchPreviewLen = 800
		p.defaults = lenient
	case config.ProviderSiliconFlow:
		p.single += strictJSONNote
		p.batch += strictJSONNote
		p.stripThink = true
		p.defaults = lenient
	case config.ProviderVolcengine:
		p.single = enrichedEvaluationPromptTemplate
		p.batch = enrichedBatchPromptTemplate
		p.defaults = lenient
	case config.ProviderGemini:
		p.single += strictJSONNote
		p.batch += strictJSONNote
		p.previewLen = 1000
		p.batchPreviewLen = 800
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", name)
	}

	if overrides.System != "" {
		p.system = overrides.System
	}
	if overrides.Single != "" {
		p.single = overrides.Single
	}
	if overrides.Batch != "" {
		p.batch = overrides.Batch
	}
	return p, nil
}

func (p *TemplateProvider) Name() string { return p.name }

func (p *TemplateProvider) Defaults() FieldDefaults { return p.defaults }

func (p *TemplateProvider) BuildPrompt(articles []*models.Article, batch bool) []openai.ChatCompletionMessage {
	var user string
	if batch {
		infos := make([]string, len(articles))
		for i, a := range articles {
			infos[i] = fmt.Sprintf("Article %d:\nTitle: %s\nSummary: %s\nContent preview: %s\n",
				i, orDefault(a.Title, "(untitled)"), orDefault(a.Summary, "(no summary)"), preview(a, p.batchPreviewLen))
		}
		user = strings.NewReplacer("{articles_info}", strings.Join(infos, "\n")).Replace(p.batch)
	} else {
		a := articles[0]
		user = strings.NewReplacer(
			"{title}", orDefault(a.Title, "(untitled)"),
			"{summary}", orDefault(a.Summary, "(no summary)"),
			"{content_preview}", preview(a, p.previewLen),
		).Replace(p.single)
	}

	var msgs []openai.ChatCompletionMessage
	if p.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.system})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
}

// Clean removes reasoning blocks and markdown fences around the JSON payload.
func (p *TemplateProvider) Clean(raw string) string {
	text := strings.TrimSpace(raw)
	if p.stripThink {
		text = strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	}
	return stripFences(text)
}

func stripFences(text string) string {
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Drop the language tag line, e.g. ```json
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func preview(a *models.Article, n int) string {
	content := strings.TrimSpace(a.Content)
	if content == "" {
		return "(no content)"
	}
	return util.Preview(content, n)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
