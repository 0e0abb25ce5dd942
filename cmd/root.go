package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sift/internal/app"
	"sift/internal/config"
)

var (
	cfgFile string
	verbose bool
	dryRun  bool
)

// Commands declare the backends they need with the needsAnnotation annotation. Without it the
// database is opened when configured.
const (
	needsAnnotation = "sift/needs"
	needsConfig     = "config"   // configuration only, no app
	needsDatabase   = "database" // database required
	needsQueue      = "queue"    // database and job client required
)

var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "Multi-stage article filter",
	Long: `sift filters article feeds through keyword scoring, AI evaluation, tagging and
tag-balanced selection, one source at a time or as a batch.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
			return nil
		}

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		configureLogging(cfg)
		if dryRun {
			cfg.AI.DryRun = true
		}
		ctx := context.WithValue(cmd.Context(), configKey, cfg)

		opts := app.Options{Database: true}
		switch cmd.Annotations[needsAnnotation] {
		case needsConfig:
			cmd.SetContext(ctx)
			return nil
		case needsDatabase:
			opts.DatabaseRequired = true
		case needsQueue:
			opts.Queue = true
		}

		appInstance, err := app.NewApp(ctx, cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appInstance, err := GetAppFromContext(cmd.Context()); err == nil {
			appInstance.Close()
		}
	},
}

func configureLogging(cfg *config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.Log.Level)
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type contextKey string

const (
	appKey    contextKey = "app"
	configKey contextKey = "config"
)

// GetAppFromContext returns the app built by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not found in context")
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml or ~/.config/sift/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "generate AI evaluations locally instead of calling the provider")
}
