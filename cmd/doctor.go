package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"sift/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:         "doctor",
	Short:       "Check configuration and backend connectivity",
	Annotations: map[string]string{needsAnnotation: needsConfig},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		failed := false
		check := func(name string, err error, detail string) {
			switch {
			case err != nil:
				failed = true
				fmt.Printf("%s %-10s %v\n", color.RedString("FAIL"), name, err)
			case detail != "":
				fmt.Printf("%s %-10s %s\n", color.GreenString(" OK "), name, detail)
			}
		}

		check("config", cfg.Validate(), fmt.Sprintf("%d keyword categories, %d tag limits", len(cfg.Keywords.Categories), len(cfg.Tags.Limits)))

		if cfg.Chain.EnableAIFilter {
			switch {
			case cfg.AI.DryRun:
				check("ai", nil, fmt.Sprintf("%s dry run, no provider calls", cfg.AI.Provider))
			case cfg.ResolveAPIKey() == "":
				check("ai", fmt.Errorf("no API key for provider %s", cfg.AI.Provider), "")
			default:
				check("ai", nil, fmt.Sprintf("%s %s", cfg.AI.Provider, cfg.AI.Model))
			}
		} else {
			check("ai", nil, "disabled")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		if cfg.Database.DSN == "" {
			check("database", nil, "not configured")
		} else {
			check("database", pingDatabase(ctx, cfg.Database.DSN), "reachable")
		}

		if err := cfg.ValidateQueue(); err != nil {
			check("redis", nil, "not configured")
		} else {
			check("redis", pingRedis(cfg), cfg.Redis.Address)
		}

		if failed {
			return fmt.Errorf("one or more checks failed")
		}
		return nil
	},
}

func pingDatabase(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

func pingRedis(cfg *config.Config) error {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer inspector.Close()
	_, err := inspector.Queues()
	return err
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
