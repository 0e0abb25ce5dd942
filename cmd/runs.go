package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sift/internal/clix"
	"sift/internal/models"
	"sift/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded batch runs",
}

var runsListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List batch runs, newest first",
	Annotations: map[string]string{needsAnnotation: needsDatabase},
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return fmt.Errorf("invalid pagination flags: %w", err)
		}
		runs, err := appInstance.RunStore.ListRuns(cmd.Context(), pagination.Limit, pagination.Offset)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No batch runs found.")
			return nil
		}

		table := newTable(os.Stdout, []string{"Run ID", "Status", "Sources", "Failed", "Fetched", "Selected", "Created At"})
		for _, r := range runs {
			table.Append([]string{
				r.ID.String(),
				statusColor(r.Status),
				fmt.Sprintf("%d/%d", r.ProcessedSources, r.TotalSources),
				fmt.Sprintf("%d", r.FailedSources),
				fmt.Sprintf("%d", r.ArticlesFetched),
				fmt.Sprintf("%d", r.ArticlesSelected),
				r.CreatedAt.Format(time.RFC3339),
			})
		}
		table.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:         "show <run-id>",
	Short:       "Show one batch run and its sources",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsAnnotation: needsDatabase},
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		run, err := appInstance.RunStore.GetRun(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}

		fmt.Printf("Run:      %s\n", run.ID)
		fmt.Printf("Status:   %s\n", statusColor(run.Status))
		fmt.Printf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Printf("Finished: %s (%s)\n", run.FinishedAt.Format(time.RFC3339), run.FinishedAt.Sub(run.CreatedAt).Round(time.Second))
		}
		fmt.Printf("Inputs:   %s\n", strings.Join(run.Sources, ", "))
		if run.Error != nil {
			fmt.Printf("Error:    %s\n", color.RedString(*run.Error))
		}

		sources, err := appInstance.RunStore.ListRunSources(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to list run sources: %w", err)
		}
		if len(sources) == 0 {
			return nil
		}
		fmt.Println()
		table := newTable(os.Stdout, []string{"#", "Source", "Fetched", "Selected", "Fetch", "Filter", "Error"})
		for _, s := range sources {
			errMsg := ""
			if s.Error != nil {
				errMsg = color.RedString(truncate(*s.Error, 50))
			}
			table.Append([]string{
				fmt.Sprintf("%d", s.Position+1),
				truncate(s.SourceTitle, 30),
				fmt.Sprintf("%d", s.ArticlesFetched),
				fmt.Sprintf("%d", s.ArticlesSelected),
				s.FetchTime.Round(time.Millisecond).String(),
				s.FilterTime.Round(time.Millisecond).String(),
				errMsg,
			})
		}
		table.Render()
		return nil
	},
}

func statusColor(s string) string {
	switch s {
	case models.RunStatusCompleted:
		return color.GreenString(s)
	case models.RunStatusFailed, models.RunStatusCancelled:
		return color.RedString(s)
	default:
		return color.YellowString(s)
	}
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().Int("limit", 20, "Maximum number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "Number of runs to skip (for pagination)")
}
