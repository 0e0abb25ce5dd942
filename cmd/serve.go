package cmd

import (
	"fmt"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sift/internal/apihandlers"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sift as an HTTP API server",
	Long: `Starts an HTTP server exposing the filter chain, batch queueing and run history
via a JSON API. Queueing and run history need database.dsn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if appInstance.Store != nil {
			if err := appInstance.EnableQueue(); err != nil {
				log.Warnf("Batch queue unavailable: %v", err)
			}
		}

		router := gin.Default()
		apihandlers.RegisterRoutes(router, apihandlers.NewAPIHandler(appInstance))

		listenAddr := serveAddr
		if listenAddr == "" {
			listenAddr = appInstance.Config.Server.Address
		}
		log.Infof("Starting sift API server on %s", listenAddr)
		if err := router.Run(listenAddr); err != nil {
			return fmt.Errorf("failed to run API server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (default server.address)")
}
