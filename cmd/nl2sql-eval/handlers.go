package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/api"
	"github.com/nl2sql-eval/backend/internal/app"
	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/pkg/config"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

func setup(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting NL2SQL evaluation server")
	metrics.Init()

	if ctx == nil {
		ctx = context.Background()
	}
	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	server, stop := api.NewApp(application.Container)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		logger.Warn("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
	return nil
}

func runExtract(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	paths, err := app.NewExtractor(afero.NewOsFs(), cfg).Extract(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Successfully extracted %d images.\n", len(paths))
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}

func runFinalize(out io.Writer, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	audit, err := app.OpenAudit(cfg)
	if err != nil {
		return err
	}
	defer audit.Close()

	store := app.NewStore(afero.NewOsFs(), cfg, audit)
	if _, err := store.EnsureWorkingCopy(); err != nil {
		return err
	}
	if err := store.Finalize(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Changes saved to original CSV file: %s\n", store.CanonicalPath())
	return nil
}

func runModels(out io.Writer, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store := app.NewStore(afero.NewOsFs(), cfg, nil)
	if _, err := store.EnsureWorkingCopy(); err != nil {
		return err
	}
	table, err := store.OpenWorkingCopy()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d questions in %s\n", table.Len(), store.WorkingPath())
	for _, m := range table.Models() {
		fmt.Fprintln(out, m)
	}
	return nil
}
