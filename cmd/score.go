package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sift/internal/batch"
	"sift/internal/models"
)

var scoreCmd = &cobra.Command{
	Use:   "score <path>...",
	Short: "Show keyword relevance for the articles in source files",
	Long: `Scores every article with the keyword scorer only, without AI evaluation, and shows
which articles would pass the keyword stage.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if appInstance.Scorer == nil {
			return fmt.Errorf("no keyword categories configured")
		}
		articles, err := loadArticles(cmd.Context(), args)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		threshold := appInstance.Scorer.Options().Threshold

		results := make([]*models.KeywordFilterResult, 0, len(articles))
		for _, a := range articles {
			results = append(results, appInstance.Scorer.Score(a))
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].RelevanceScore > results[j].RelevanceScore })

		table := newTable(os.Stdout, []string{"Relevance", "Matches", "Keywords", "Tags", "Title", "Pass"})
		passed := 0
		for _, r := range results {
			pass := appInstance.Scorer.Qualifies(r) && r.RelevanceScore >= threshold
			if pass {
				passed++
			} else if !all {
				continue
			}
			var tags []string
			if appInstance.Generator != nil {
				for _, t := range appInstance.Generator.FromKeywordResult(r) {
					tags = append(tags, t.Name)
				}
			}
			mark := color.RedString("no")
			if pass {
				mark = color.GreenString("yes")
			}
			table.Append([]string{
				fmt.Sprintf("%.3f", r.RelevanceScore),
				fmt.Sprintf("%d", len(r.Matches)),
				truncate(strings.Join(r.MatchedKeywords(), ", "), 40),
				strings.Join(tags, ", "),
				truncate(r.Article.Title, 60),
				mark,
			})
		}
		table.Render()
		fmt.Printf("\n%d of %d articles pass the keyword stage (threshold %.2f)\n", passed, len(results), threshold)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().Bool("all", false, "also list articles that do not pass")
}

// loadArticles fetches the articles of every source under paths.
func loadArticles(ctx context.Context, paths []string) ([]*models.Article, error) {
	sources, err := batch.LoadSources(paths...)
	if err != nil {
		return nil, err
	}
	var out []*models.Article
	for _, src := range sources {
		articles, err := src.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read source %s: %w", src.ID(), err)
		}
		out = append(out, articles...)
	}
	return out, nil
}
