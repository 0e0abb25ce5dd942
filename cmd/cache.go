package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sift/internal/app"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the evaluation cache",
	Long:  `The evaluation cache only outlives a single command when cache.path points at a sqlite file.`,
}

func requireCache(appInstance *app.App) error {
	if appInstance.Cache == nil {
		return fmt.Errorf("evaluation cache is disabled (cache.enabled)")
	}
	return nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := requireCache(appInstance); err != nil {
			return err
		}
		s := appInstance.Cache.Stats()
		path := appInstance.Config.Cache.Path
		if path == "" {
			path = "(memory only)"
		}
		table := newTable(os.Stdout, []string{"Setting", "Value"})
		table.Append([]string{"Entries", fmt.Sprintf("%d", s.Size)})
		table.Append([]string{"Max entries", fmt.Sprintf("%d", s.MaxSize)})
		table.Append([]string{"TTL", s.TTL.String()})
		table.Append([]string{"Store", path})
		table.Render()
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := requireCache(appInstance); err != nil {
			return err
		}
		n := appInstance.Cache.Len()
		appInstance.Cache.Clear()
		if err := appInstance.SaveCache(cmd.Context()); err != nil {
			return fmt.Errorf("failed to persist evaluation cache: %w", err)
		}
		fmt.Printf("Removed %d cached evaluations.\n", n)
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired cached evaluations",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if err := requireCache(appInstance); err != nil {
			return err
		}
		n := appInstance.Cache.CleanupExpired()
		if err := appInstance.SaveCache(cmd.Context()); err != nil {
			return fmt.Errorf("failed to persist evaluation cache: %w", err)
		}
		fmt.Printf("Removed %d expired evaluations, %d left.\n", n, appInstance.Cache.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
}
