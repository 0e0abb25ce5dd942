package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sift/internal/clix"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "View recorded AI usage costs",
	Long:  `Provides subcommands to list detailed AI usage logs and view cost summaries.`,
}

var costListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List detailed AI usage logs",
	Long:        `Displays a paginated list of recorded AI API calls with associated costs and token counts.`,
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

		logs, err := appInstance.CostStore.ListUsage(cmd.Context(), pagination.Limit, pagination.Offset)
		if err != nil {
			return fmt.Errorf("failed to list cost logs: %w", err)
		}
		if len(logs) == 0 {
			fmt.Println("No cost logs found.")
			return nil
		}

		table := newTable(os.Stdout, []string{"ID", "Timestamp", "Provider", "Service", "Model", "In Tokens", "Out Tokens", "Cost", "Run"})
		for _, l := range logs {
			runID := "N/A"
			if l.RelatedRunID != nil {
				runID = l.RelatedRunID.String()
			}
			table.Append([]string{
				fmt.Sprintf("%d", l.ID),
				l.Timestamp.Format("2006-01-02 15:04:05"),
				l.ProviderName,
				l.ServiceType,
				l.ModelName,
				fmt.Sprintf("%d", l.InputTokens),
				fmt.Sprintf("%d", l.OutputTokens),
				fmt.Sprintf("%.8f", l.Cost),
				runID,
			})
		}
		table.Render()
		fmt.Printf("\nDisplayed %d logs.\n", len(logs))
		return nil
	},
}

var costSummaryCmd = &cobra.Command{
	Use:         "summary",
	Short:       "Show total AI cost and token usage",
	Long:        `Displays the total cost and token usage across all recorded AI calls, or the cost of one run with --run.`,
	Annotations: map[string]string{needsAnnotation: needsDatabase},
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		if runArg, _ := cmd.Flags().GetString("run"); runArg != "" {
			runID, err := uuid.Parse(runArg)
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", runArg, err)
			}
			cost, err := appInstance.CostStore.GetRunCost(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("failed to get run cost: %w", err)
			}
			fmt.Printf("Run %s cost: $%.6f\n", runID, cost)
			return nil
		}

		totalCost, totalInput, totalOutput, err := appInstance.CostStore.GetUsageSummary(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get cost summary: %w", err)
		}
		fmt.Println("AI Usage Cost Summary:")
		fmt.Println("----------------------")
		fmt.Printf("Total Cost:          $%.6f\n", totalCost)
		fmt.Printf("Total Input Tokens:  %d\n", totalInput)
		fmt.Printf("Total Output Tokens: %d\n", totalOutput)
		fmt.Println("----------------------")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(costCmd)
	costCmd.AddCommand(costListCmd)
	costCmd.AddCommand(costSummaryCmd)

	costListCmd.Flags().Int("limit", 20, "Maximum number of logs to display")
	costListCmd.Flags().Int("offset", 0, "Number of logs to skip (for pagination)")
	costSummaryCmd.Flags().String("run", "", "show the cost of one batch run")
}
