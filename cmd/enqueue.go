package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <path>...",
	Short: "Queue a batch run for the background worker",
	Long: `Records a batch run and queues it for 'sift worker'. Paths are resolved to absolute
paths here and must be readable by the worker.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsAnnotation: needsQueue},
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		paths := make([]string, 0, len(args))
		for _, p := range args {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", p, err)
			}
			paths = append(paths, abs)
		}
		run, err := appInstance.JobClient.EnqueueBatchRun(cmd.Context(), paths)
		if err != nil {
			return fmt.Errorf("failed to enqueue batch run: %w", err)
		}
		fmt.Printf("Queued batch run %s (%d inputs). Check progress with: sift runs show %s\n", run.ID, len(paths), run.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}
