package main

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/mcwatch/internal/app"
	"github.com/MrSnakeDoc/mcwatch/internal/config"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller and the admin API (configured through MCWATCH_* variables)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = loggerClient.Sync() }()

	a, err := app.New(cmd.Context(), cfg, loggerClient)
	if err != nil {
		loggerClient.Error("startup failed", logger.Error(err))
		return err
	}
	return a.Run(cmd.Context())
}
