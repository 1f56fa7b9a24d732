package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecrew-dev/codecrew/internal/agent"
	"github.com/codecrew-dev/codecrew/internal/artifact"
	"github.com/codecrew-dev/codecrew/internal/bridge"
	"github.com/codecrew-dev/codecrew/internal/config"
	"github.com/codecrew-dev/codecrew/internal/logging"
	"github.com/codecrew-dev/codecrew/internal/metrics"
	"github.com/codecrew-dev/codecrew/internal/scripted"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	logger := logging.NewStderr()
	if cfg.LogFile != "" {
		fileLogger, err := logging.NewFile(cfg.LogFile)
		if err != nil {
			return err
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	store, err := artifact.OpenSQLiteStore(cfg.ArtifactDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	registry := agent.NewRegistry(cfg.Workflow.OptionalAgents)
	collectors := metrics.New()

	eng, err := workflow.NewEngine(registry, &scripted.Stepper{},
		workflow.WithLogger(logger),
		workflow.WithMetrics(collectors),
		workflow.WithFileStore(store),
		workflow.WithHandoffLimit(cfg.Workflow.HandoffLimit),
		workflow.WithStepRetries(cfg.Workflow.StepRetries),
	)
	if err != nil {
		return err
	}

	server, err := bridge.NewServer(bridge.SettingsFromConfig(cfg), eng,
		bridge.WithLogger(logger),
		bridge.WithMetrics(collectors),
	)
	if err != nil {
		return err
	}
	eng.SetObserver(server.Observer())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("codecrew server listening on %s\n", server.BaseURL())

	<-ctx.Done()
	logger.Printf("serve: shutting down")
	eng.Reset()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
