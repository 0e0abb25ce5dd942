package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"sift/internal/batch"
	"sift/internal/models"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// writeReport renders a batch result in the requested format. Table output lists the sorted
// selections followed by a per-source summary.
func writeReport(w io.Writer, res *models.BatchFilterResult, format, sortBy string) error {
	switch format {
	case formatJSON:
		return batch.WriteJSON(w, batch.Export(res))
	case formatYAML:
		return batch.WriteYAML(w, batch.Export(res))
	case formatTable, "":
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}

	selected := batch.SortedSelections(res, sortBy)
	if len(selected) == 0 {
		fmt.Fprintln(w, "No articles selected.")
	} else {
		table := newTable(w, []string{"Score", "Keyword", "AI", "Source", "Title", "Tags"})
		for _, cr := range selected {
			a := batch.ExportArticle(cr)
			kw, ai := "-", "-"
			if a.KeywordScore != nil {
				kw = fmt.Sprintf("%.2f", *a.KeywordScore)
			}
			if a.AIScore != nil {
				ai = fmt.Sprintf("%d", *a.AIScore)
				if a.Degraded {
					ai += "*"
				}
			}
			table.Append([]string{
				fmt.Sprintf("%.3f", a.FinalScore), kw, ai,
				truncate(a.SourceTitle, 24), truncate(a.Title, 60), strings.Join(a.Tags, ", "),
			})
		}
		table.Render()
	}

	fmt.Fprintln(w)
	table := newTable(w, []string{"Source", "Fetched", "Selected", "Fetch", "Filter", "Status"})
	for _, s := range res.Sources {
		status := color.GreenString("ok")
		if s.Failed() {
			status = color.RedString(truncate(s.Error, 50))
		}
		filter := time.Duration(0)
		if s.Result != nil {
			filter = s.Result.TotalProcessingTime
		}
		table.Append([]string{
			truncate(s.SourceTitle, 30),
			fmt.Sprintf("%d", s.ArticlesFetched),
			fmt.Sprintf("%d", s.SelectedCount()),
			s.FetchTime.Round(time.Millisecond).String(),
			filter.Round(time.Millisecond).String(),
			status,
		})
	}
	table.Render()

	fmt.Fprintf(w, "\nRun %s: %d/%d sources processed (%.0f%%), %d of %d articles selected in %s\n",
		res.RunID, res.ProcessedSources, res.TotalSources, res.SuccessRate()*100,
		res.TotalArticlesSelected, res.TotalArticlesFetched, res.TotalProcessingTime().Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintf(w, "%s %s\n", color.RedString("error:"), e)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("warning:"), warn)
	}
	return nil
}

// progressCallback prints one line per source to stderr so report output on stdout stays clean.
type progressCallback struct {
	w io.Writer
}

func newProgressCallback() *progressCallback { return &progressCallback{w: os.Stderr} }

func (p *progressCallback) OnBatchStart(runID uuid.UUID, total int) {
	fmt.Fprintf(p.w, "Run %s: %d sources\n", runID, total)
}

func (p *progressCallback) OnSourceStart(src batch.Source, index, total int) {}

func (p *progressCallback) OnSourceFetched(src batch.Source, count int) {}

func (p *progressCallback) OnSourceComplete(res *models.SubscriptionFilterResult, done, total int) {
	if res.Failed() {
		fmt.Fprintf(p.w, "  [%d/%d] %s %s: %s\n", done, total, color.RedString("FAILED"), res.SourceTitle, res.Error)
		return
	}
	fmt.Fprintf(p.w, "  [%d/%d] %s %s: %d/%d selected\n", done, total, color.GreenString("done"),
		res.SourceTitle, res.SelectedCount(), res.ArticlesFetched)
}

func (p *progressCallback) OnBatchComplete(res *models.BatchFilterResult) {}

var _ batch.Callback = (*progressCallback)(nil)
