package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sift/internal/models"
	"sift/internal/util"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [path]",
	Short: "Run the AI evaluation for a single article",
	Long: `Evaluates one article with the configured AI provider and prints the dimension scores.
The article comes from --title/--summary/--content, or from a source file with --id.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if appInstance.Evaluator == nil {
			return fmt.Errorf("AI filter is disabled (chain.enable_ai_filter)")
		}
		flags := cmd.Flags()

		var article *models.Article
		if len(args) == 1 {
			id, _ := flags.GetString("id")
			articles, err := loadArticles(cmd.Context(), args)
			if err != nil {
				return err
			}
			for _, a := range articles {
				if id == "" || a.Key() == id {
					article = a
					break
				}
			}
			if article == nil {
				return fmt.Errorf("article %q not found in %s", id, args[0])
			}
		} else {
			title, _ := flags.GetString("title")
			summary, _ := flags.GetString("summary")
			content, _ := flags.GetString("content")
			article = &models.Article{Title: title, Summary: summary, Content: content}
			util.CleanArticle(article)
			if article.Title == "" {
				return fmt.Errorf("either a source path or --title is required")
			}
		}

		eval, raw, err := appInstance.Evaluator.EvaluateOne(cmd.Context(), article)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}
		if err := appInstance.SaveCache(cmd.Context()); err != nil {
			return fmt.Errorf("failed to persist evaluation cache: %w", err)
		}

		if asJSON, _ := flags.GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(eval)
		}

		fmt.Printf("%s %s\n\n", color.CyanString("Article:"), article.Title)
		table := newTable(os.Stdout, []string{"Dimension", "Score"})
		table.Append([]string{"Relevance", fmt.Sprintf("%d/%d", eval.RelevanceScore, models.MaxDimensionScore)})
		table.Append([]string{"Innovation impact", fmt.Sprintf("%d/%d", eval.InnovationImpact, models.MaxDimensionScore)})
		table.Append([]string{"Practicality", fmt.Sprintf("%d/%d", eval.Practicality, models.MaxDimensionScore)})
		table.Append([]string{"Total", fmt.Sprintf("%d/%d", eval.TotalScore, models.MaxTotalScore)})
		table.Append([]string{"Confidence", fmt.Sprintf("%.2f", eval.Confidence)})
		table.Render()

		threshold := appInstance.Config.AI.ScoreThreshold
		verdict := color.GreenString("passes")
		if eval.TotalScore < threshold {
			verdict = color.RedString("below threshold")
		}
		fmt.Printf("\nVerdict: %s (threshold %d)\n", verdict, threshold)
		if eval.Degraded {
			fmt.Println(color.YellowString("Degraded: the provider gave no usable answer, keyword-based fallback used."))
		}
		if eval.Reasoning != "" {
			fmt.Printf("Reasoning: %s\n", eval.Reasoning)
		}
		if len(eval.Tags) > 0 {
			fmt.Printf("Tags: %s\n", strings.Join(eval.Tags, ", "))
		}
		if showRaw, _ := flags.GetBool("raw"); showRaw {
			if raw == "" {
				raw = "(served from cache)"
			}
			fmt.Printf("\n%s\n%s\n", color.CyanString("Raw response:"), raw)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("title", "", "article title")
	evaluateCmd.Flags().String("summary", "", "article summary")
	evaluateCmd.Flags().String("content", "", "article body")
	evaluateCmd.Flags().String("id", "", "article id or url to pick from the source file (default first article)")
	evaluateCmd.Flags().Bool("raw", false, "print the raw model response")
	evaluateCmd.Flags().Bool("json", false, "print the evaluation as JSON")
}
