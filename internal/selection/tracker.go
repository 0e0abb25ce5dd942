package selection

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"sift/internal/config"
	"sift/internal/models"
	"sift/internal/util"
)

const untaggedBucket = "untagged"

// LimitConfig is the configured quota for one tag.
type LimitConfig struct {
	Name     string
	MaxCount int
	Priority float64
}

// LimitsFromConfig returns the configured tag quotas ordered by name. A missing priority defaults to 1.
func LimitsFromConfig(cfg *config.Config) []LimitConfig {
	out := make([]LimitConfig, 0, len(cfg.Tags.Limits))
	for name, l := range cfg.Tags.Limits {
		p := l.Priority
		if p == 0 {
			p = 1.0
		}
		out = append(out, LimitConfig{Name: name, MaxCount: l.MaxCount, Priority: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tracker enforces per-tag capacity keyed on each article's primary tag. It is the only place
// TagLimit counters change.
type Tracker struct {
	mu               sync.Mutex
	limits           map[string]*models.TagLimit
	order            []string
	primaryThreshold float64
	selected         []*models.CombinedFilterResult
}

func NewTracker(limits []LimitConfig, primaryThreshold float64) (*Tracker, error) {
	t := &Tracker{
		limits:           make(map[string]*models.TagLimit, len(limits)),
		primaryThreshold: primaryThreshold,
	}
	for _, l := range limits {
		if l.Name == "" {
			return nil, fmt.Errorf("%w: tag limit without a name", models.ErrValidation)
		}
		if l.MaxCount < 0 {
			return nil, fmt.Errorf("%w: tag %q has negative max_count %d", models.ErrValidation, l.Name, l.MaxCount)
		}
		if _, dup := t.limits[l.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tag limit %q", models.ErrValidation, l.Name)
		}
		t.limits[l.Name] = &models.TagLimit{Name: l.Name, MaxCount: l.MaxCount, Priority: l.Priority}
		t.order = append(t.order, l.Name)
	}
	log.Debugf("Tag quota tracker configured with %d limits", len(t.order))
	return t, nil
}

// primary returns the quota key for tags, or false when the article is untagged for quota purposes.
func (t *Tracker) primary(tags []models.ArticleTag) (models.ArticleTag, bool) {
	p, ok := models.PrimaryTag(tags)
	if !ok || p.Score < t.primaryThreshold {
		return models.ArticleTag{}, false
	}
	return p, true
}

func (t *Tracker) CanAdmit(tags []models.ArticleTag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canAdmitLocked(tags)
}

func (t *Tracker) canAdmitLocked(tags []models.ArticleTag) bool {
	p, ok := t.primary(tags)
	if !ok {
		return true
	}
	limit, ok := t.limits[p.Name]
	if !ok {
		return true
	}
	return !limit.IsFull()
}

// Admit counts r against its primary tag. It returns false, changing nothing, when that tag is full.
func (t *Tracker) Admit(r *models.CombinedFilterResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.primary(r.Tags)
	if ok {
		if limit, limited := t.limits[p.Name]; limited {
			if limit.IsFull() {
				log.Debugf("Tag %q is full, cannot admit %q", p.Name, title(r))
				return false
			}
			limit.CurrentCount++
			log.Debugf("Admitted %q under tag %q (%d/%d)", title(r), p.Name, limit.CurrentCount, limit.MaxCount)
		}
	}
	t.selected = append(t.selected, r)
	return true
}

// RemainingPriority is priority*(1-fill)*(remaining/max) per tag, zero for full tags.
func (t *Tracker) RemainingPriority() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.limits))
	for name, l := range t.limits {
		if l.IsFull() {
			out[name] = 0
			continue
		}
		remainingRatio := float64(l.Remaining()) / float64(l.MaxCount)
		out[name] = l.Priority * (1 - l.FillRatio()) * remainingRatio
	}
	return out
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.limits {
		l.CurrentCount = 0
	}
	t.selected = nil
}

// Limit returns a copy of the quota state for name.
func (t *Tracker) Limit(name string) (models.TagLimit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limits[name]
	if !ok {
		return models.TagLimit{}, false
	}
	return *l, true
}

// Limits returns copies of every quota in configuration order.
func (t *Tracker) Limits() []models.TagLimit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TagLimit, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.limits[name])
	}
	return out
}

// Underrepresented lists tags whose fill ratio is below threshold, in configuration order.
func (t *Tracker) Underrepresented(threshold float64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.underrepresentedLocked(threshold)
}

func (t *Tracker) underrepresentedLocked(threshold float64) []string {
	var out []string
	for _, name := range t.order {
		if t.limits[name].FillRatio() < threshold {
			out = append(out, name)
		}
	}
	return out
}

type TagUsage struct {
	Count           int     `json:"count" yaml:"count"`
	Percentage      float64 `json:"percentage" yaml:"percentage"`
	CapacityPercent float64 `json:"capacity_percent" yaml:"capacity_percent"`
}

type Statistics struct {
	TotalSelected    int                 `json:"total_selected" yaml:"total_selected"`
	TotalCapacity    int                 `json:"total_capacity" yaml:"total_capacity"`
	CapacityPercent  float64             `json:"capacity_percent" yaml:"capacity_percent"`
	Distribution     map[string]TagUsage `json:"distribution" yaml:"distribution"`
	Underrepresented []string            `json:"underrepresented,omitempty" yaml:"underrepresented,omitempty"`
	Full             []string            `json:"full,omitempty" yaml:"full,omitempty"`
}

func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statisticsLocked()
}

func (t *Tracker) statisticsLocked() Statistics {
	s := Statistics{
		TotalSelected:    len(t.selected),
		Distribution:     make(map[string]TagUsage, len(t.limits)),
		Underrepresented: t.underrepresentedLocked(defaultUnderrepresented),
	}
	for _, name := range t.order {
		l := t.limits[name]
		s.TotalCapacity += l.MaxCount
		u := TagUsage{Count: l.CurrentCount, CapacityPercent: l.FillRatio() * 100}
		if s.TotalSelected > 0 {
			u.Percentage = float64(l.CurrentCount) / float64(s.TotalSelected) * 100
		}
		s.Distribution[name] = u
		if l.IsFull() {
			s.Full = append(s.Full, name)
		}
	}
	if s.TotalCapacity > 0 {
		s.CapacityPercent = float64(s.TotalSelected) / float64(s.TotalCapacity) * 100
	}
	return s
}

type ReportArticle struct {
	Title      string              `json:"title" yaml:"title"`
	URL        string              `json:"url" yaml:"url"`
	FinalScore float64             `json:"final_score" yaml:"final_score"`
	Tags       []models.ArticleTag `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Report is the selection report of the last pass: summary, per-tag quota state and admitted
// articles grouped by primary tag.
type Report struct {
	Summary       Statistics                 `json:"summary" yaml:"summary"`
	Tags          []models.TagLimit          `json:"tags" yaml:"tags"`
	ArticlesByTag map[string][]ReportArticle `json:"articles_by_tag" yaml:"articles_by_tag"`
}

func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep := Report{
		Summary:       t.statisticsLocked(),
		ArticlesByTag: make(map[string][]ReportArticle),
	}
	for _, name := range t.order {
		rep.Tags = append(rep.Tags, *t.limits[name])
	}
	for _, r := range t.selected {
		bucket := untaggedBucket
		if p, ok := t.primary(r.Tags); ok {
			bucket = p.Name
		}
		ra := ReportArticle{FinalScore: r.FinalScore, Tags: r.Tags}
		if r.Article != nil {
			ra.Title = r.Article.Title
			ra.URL = r.Article.URL
		}
		rep.ArticlesByTag[bucket] = append(rep.ArticlesByTag[bucket], ra)
	}
	return rep
}

func title(r *models.CombinedFilterResult) string {
	if r.Article == nil {
		return ""
	}
	return util.TruncateRunes(r.Article.Title, 50)
}
