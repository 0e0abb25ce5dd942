package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sift/internal/batch"
	"sift/internal/clix"
)

var runCmd = &cobra.Command{
	Use:   "run <path>...",
	Short: "Filter one or more source files in a batch",
	Long: `Runs the filter chain over every source file given (directories contribute their
.json, .yaml and .yml files) and prints the selected articles.

Each source file is either a bare list of articles or a document with id, title and articles.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		bc := &appInstance.Config.Batch
		if flags.Changed("mode") {
			bc.Mode, _ = flags.GetString("mode")
		}
		if flags.Changed("workers") {
			bc.Workers, _ = flags.GetInt("workers")
		}
		if flags.Changed("max-sources") {
			bc.MaxSources, _ = flags.GetInt("max-sources")
		}
		if flags.Changed("source-keywords") {
			bc.SourceKeywords = clix.ParseCSV(flags, "source-keywords")
		}
		if bc.Mode != batch.ModeSequential && bc.Mode != batch.ModeParallel {
			return fmt.Errorf("invalid --mode %q (want sequential or parallel)", bc.Mode)
		}
		save, _ := flags.GetBool("save")
		if save && appInstance.RunStore == nil {
			return fmt.Errorf("--save needs database.dsn")
		}

		sources, err := batch.LoadSources(args...)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("no sources found in %v", args)
		}

		res := appInstance.NewOrchestrator().Run(cmd.Context(), sources, newProgressCallback())
		if err := appInstance.SaveCache(cmd.Context()); err != nil {
			log.Warnf("Failed to persist evaluation cache: %v", err)
		}
		if save {
			if err := appInstance.RunStore.SaveBatchResult(cmd.Context(), res); err != nil {
				return fmt.Errorf("failed to save run %s: %w", res.RunID, err)
			}
			log.Infof("Saved run %s", res.RunID)
		}

		var out io.Writer = os.Stdout
		if path, _ := flags.GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		format, _ := flags.GetString("format")
		sortBy, _ := flags.GetString("sort-by")
		if sortBy == "" {
			sortBy = bc.SortBy
		}
		if err := writeReport(out, res, format, sortBy); err != nil {
			return err
		}
		if res.ProcessedSources == 0 {
			return fmt.Errorf("all %d sources failed", res.TotalSources)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("format", "f", formatTable, "output format: table, json or yaml")
	runCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	runCmd.Flags().String("sort-by", "", "order selections by final_score, published or source (default batch.sort_by)")
	runCmd.Flags().Bool("save", false, "record the run and its report in the database")
	runCmd.Flags().String("mode", "", "sequential or parallel (default batch.mode)")
	runCmd.Flags().Int("workers", 0, "parallel source workers (default batch.workers)")
	runCmd.Flags().Int("max-sources", 0, "process at most this many sources")
	runCmd.Flags().String("source-keywords", "", "comma-separated keywords; only sources whose title matches one are processed")
}
