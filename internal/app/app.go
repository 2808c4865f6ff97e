// Package app wires configuration into the running components.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/api"
	"github.com/nl2sql-eval/backend/internal/api/handlers"
	"github.com/nl2sql-eval/backend/internal/cache/redis"
	"github.com/nl2sql-eval/backend/internal/dataset"
	"github.com/nl2sql-eval/backend/internal/evaluation"
	"github.com/nl2sql-eval/backend/internal/images"
	"github.com/nl2sql-eval/backend/internal/ingestion"
	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/internal/query"
	"github.com/nl2sql-eval/backend/internal/storage/sqlite"
	"github.com/nl2sql-eval/backend/pkg/circuitbreaker"
	"github.com/nl2sql-eval/backend/pkg/config"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// App owns the long-lived clients behind the HTTP container.
type App struct {
	Container *api.Container
	closers   []func() error
}

// New connects every backend named in cfg. The SQLite audit store is
// required; Redis is optional and skipped when unreachable.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	fs := afero.NewOsFs()

	audit, err := OpenAudit(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, audit.Close)

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer, ok := engine.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	opts := query.Options{
		Timeout:   time.Duration(cfg.Query.TimeoutSec) * time.Second,
		CacheSize: cfg.Query.CacheSize,
		CacheTTL:  time.Duration(cfg.Query.CacheTTLSec) * time.Second,
		History:   audit,
	}
	if cfg.Breaker.Enabled {
		opts.Breaker = newBreaker(engine.Name(), cfg.Breaker)
	}

	checks := map[string]api.Pinger{"sqlite": audit}

	var remote *redis.Client
	if cfg.Redis.Enabled {
		remote, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process query cache only", zap.Error(err))
			remote = nil
		} else {
			a.closers = append(a.closers, remote.Close)
			opts.Remote = remote
			checks["redis"] = remote
		}
	}

	var sessionStorage fiber.Storage
	if remote != nil {
		sessionStorage = remote.SessionStorage()
	}

	executor := query.NewExecutor(engine, opts)
	repo := images.NewRepository(fs, cfg.Images.Dir)
	store := NewStore(fs, cfg, audit)
	workflow := evaluation.NewWorkflow(store, executor, repo, audit, cfg.Evaluation.Database)

	a.Container = &api.Container{
		Config:      cfg,
		Workflow:    workflow,
		Sessions:    handlers.NewSessionStore(time.Duration(cfg.Server.SessionTTLMin)*time.Minute, sessionStorage),
		Executor:    executor,
		Memo:        executor,
		Images:      repo,
		Extractor:   NewExtractor(fs, cfg),
		Submissions: audit,
		Queries:     audit,
		Checks:      checks,
	}
	if remote != nil {
		a.Container.RemoteCache = remote
	}

	logger.Info("Application initialized",
		zap.String("engine", engine.Name()),
		zap.String("database", cfg.Evaluation.Database),
		zap.String("dataset", cfg.Dataset.CanonicalPath),
		zap.Bool("redis", remote != nil),
	)
	return a, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}

// OpenAudit opens the SQLite journal and creates its tables.
func OpenAudit(cfg *config.Config) (*sqlite.Client, error) {
	audit, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	if err := audit.InitSchema(); err != nil {
		audit.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return audit, nil
}

// NewStore builds the dataset store. events may be nil.
func NewStore(fs afero.Fs, cfg *config.Config, events dataset.EventRecorder) *dataset.Store {
	return dataset.NewStore(fs, cfg.Dataset.CanonicalPath, cfg.Dataset.WorkingPath, events)
}

func NewExtractor(fs afero.Fs, cfg *config.Config) *ingestion.Extractor {
	return ingestion.NewExtractor(fs, cfg.Email.SourcePath, cfg.Images.Dir)
}

func newEngine(ctx context.Context, cfg *config.Config) (query.Engine, error) {
	switch cfg.Query.Engine {
	case "duckdb":
		return query.NewDuckDBEngine(cfg.DuckDB.Dir, cfg.Athena.MaxRows), nil
	case "athena":
		engine, err := query.NewAthenaEngine(ctx, cfg.Athena)
		if err != nil {
			return nil, fmt.Errorf("failed to create Athena engine: %w", err)
		}
		return engine, nil
	}
	return nil, fmt.Errorf("unsupported query engine %q", cfg.Query.Engine)
}

// newBreaker trips on engine outages only. A failing statement says nothing
// about the engine's health.
func newBreaker(name string, cfg config.BreakerConfig) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(name, circuitbreaker.Config{
		Timeout:          time.Duration(cfg.TimeoutSec) * time.Second,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		IsFailure: func(err error) bool {
			return !query.IsStatementError(err) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.Named("circuitbreaker"),
	})
}
