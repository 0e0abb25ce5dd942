package chain

import (
	log "github.com/sirupsen/logrus"

	"sift/internal/models"
)

// Observer receives progress notifications from one Process call. Calls arrive on the
// goroutine running Process.
type Observer interface {
	OnStart(sourceID string, total int)
	OnKeywordProgress(processed, total int)
	OnKeywordComplete(passed int)
	OnAIProgress(processed, total int)
	OnAIComplete(passed int)
	OnComplete(result *models.FilterChainResult)
	OnError(err error)
}

type NopObserver struct{}

func (NopObserver) OnStart(string, int)                  {}
func (NopObserver) OnKeywordProgress(int, int)           {}
func (NopObserver) OnKeywordComplete(int)                {}
func (NopObserver) OnAIProgress(int, int)                {}
func (NopObserver) OnAIComplete(int)                     {}
func (NopObserver) OnComplete(*models.FilterChainResult) {}
func (NopObserver) OnError(error)                        {}

// LogObserver reports progress through logrus.
type LogObserver struct {
	entry *log.Entry
}

func NewLogObserver(fields log.Fields) *LogObserver {
	return &LogObserver{entry: log.WithFields(fields)}
}

func (o *LogObserver) OnStart(sourceID string, total int) {
	o.entry.Infof("Filtering %d articles from source %s", total, sourceID)
}

func (o *LogObserver) OnKeywordProgress(processed, total int) {
	o.entry.Debugf("Keyword scoring %d/%d", processed, total)
}

func (o *LogObserver) OnKeywordComplete(passed int) {
	o.entry.Infof("Keyword stage passed %d articles", passed)
}

func (o *LogObserver) OnAIProgress(processed, total int) {
	o.entry.Debugf("AI evaluation %d/%d", processed, total)
}

func (o *LogObserver) OnAIComplete(passed int) {
	o.entry.Infof("AI stage passed %d articles", passed)
}

func (o *LogObserver) OnComplete(r *models.FilterChainResult) {
	o.entry.Infof("Filter chain finished in %s: %d selected, %d errors, %d warnings",
		r.TotalProcessingTime, r.FinalSelectedCount, len(r.Errors), len(r.Warnings))
}

func (o *LogObserver) OnError(err error) {
	o.entry.Errorf("Filter chain error: %v", err)
}
