package selection

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"

	"sift/internal/config"
	"sift/internal/models"
)

const (
	defaultUnderrepresented = 0.5
	untaggedBalance         = 0.5
	unlimitedTagPriority    = 0.5

	ReasonQuotaExceeded = "tag quota exceeded"
	ReasonCutoff        = "balanced selection cutoff"
)

// Strategy weights the three components of the balance score.
type Strategy struct {
	QualityWeight         float64
	BalanceWeight         float64
	DiversityWeight       float64
	UnderrepresentedBoost float64
}

func DefaultStrategy() Strategy {
	return Strategy{QualityWeight: 0.7, BalanceWeight: 0.3, DiversityWeight: 0.1, UnderrepresentedBoost: 1.5}
}

func StrategyFromConfig(cfg *config.Config) Strategy {
	return Strategy{
		QualityWeight:         cfg.Selection.QualityWeight,
		BalanceWeight:         cfg.Selection.BalanceWeight,
		DiversityWeight:       cfg.Selection.DiversityWeight,
		UnderrepresentedBoost: cfg.Selection.UnderrepresentedBoost,
	}
}

// Selector picks a quota-respecting subset that favours quality while spreading primary tags.
type Selector struct {
	tracker  *Tracker
	strategy Strategy
}

func NewSelector(tracker *Tracker, strategy Strategy) *Selector {
	return &Selector{tracker: tracker, strategy: strategy}
}

func (s *Selector) Tracker() *Tracker { return s.tracker }

type scored struct {
	result  *models.CombinedFilterResult
	balance float64
}

// Select admits candidates in descending balance-score order until maxResults (<= 0 means no cap).
// Candidates already rejected by an earlier stage are left untouched. Every other candidate is
// marked selected or rejected. The admitted results are returned in admission order.
func (s *Selector) Select(candidates []*models.CombinedFilterResult, maxResults int) []*models.CombinedFilterResult {
	s.tracker.Reset()

	priorities := s.tracker.RemainingPriority()
	under := make(map[string]bool)
	for _, name := range s.tracker.Underrepresented(defaultUnderrepresented) {
		under[name] = true
	}

	var pool []scored
	for _, c := range candidates {
		if !c.Selected {
			continue
		}
		pool = append(pool, scored{result: c, balance: s.balanceScore(c, priorities, under)})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].balance > pool[j].balance })

	var selected []*models.CombinedFilterResult
	for _, sc := range pool {
		r := sc.result
		if maxResults > 0 && len(selected) >= maxResults {
			r.Reject(ReasonCutoff)
			continue
		}
		if !s.tracker.CanAdmit(r.Tags) || !s.tracker.Admit(r) {
			r.Reject(ReasonQuotaExceeded)
			continue
		}
		r.Accept()
		selected = append(selected, r)
	}

	log.Infof("Balanced selection admitted %d of %d candidates", len(selected), len(pool))
	s.logDistribution(selected)
	return selected
}

func (s *Selector) balanceScore(r *models.CombinedFilterResult, priorities map[string]float64, under map[string]bool) float64 {
	return r.FinalScore*s.strategy.QualityWeight +
		s.tagBalance(r.Tags, priorities, under)*s.strategy.BalanceWeight +
		tagDiversity(r.Tags)*s.strategy.DiversityWeight
}

func (s *Selector) tagBalance(tags []models.ArticleTag, priorities map[string]float64, under map[string]bool) float64 {
	p, ok := s.tracker.primary(tags)
	if !ok {
		return untaggedBalance
	}
	base, limited := priorities[p.Name]
	if !limited {
		base = unlimitedTagPriority
	}
	if under[p.Name] {
		base *= s.strategy.UnderrepresentedBoost
	}
	return math.Min(1, base*p.Score*p.Confidence)
}

// tagDiversity rewards articles carrying several tags of similar strength.
func tagDiversity(tags []models.ArticleTag) float64 {
	n := len(tags)
	if n == 0 {
		return 0
	}
	score := math.Min(0.5, float64(n)*0.1)
	if n > 1 {
		mean := 0.0
		for _, t := range tags {
			mean += t.Score
		}
		mean /= float64(n)
		variance := 0.0
		for _, t := range tags {
			variance += (t.Score - mean) * (t.Score - mean)
		}
		variance /= float64(n)
		score += math.Max(0, 0.3-variance)
	}
	return score
}

func (s *Selector) logDistribution(selected []*models.CombinedFilterResult) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	counts := make(map[string]int)
	for _, r := range selected {
		name := untaggedBucket
		if p, ok := s.tracker.primary(r.Tags); ok {
			name = p.Name
		}
		counts[name]++
	}
	for name, n := range counts {
		log.Debugf("  %s: %d articles", name, n)
	}
}
