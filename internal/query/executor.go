package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/circuitbreaker"
	"github.com/nl2sql-eval/backend/pkg/logger"
	"github.com/nl2sql-eval/backend/pkg/utils"
)

// History persists one entry per engine call.
type History interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Options struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Remote    RemoteCache
	Breaker   *circuitbreaker.CircuitBreaker
	History   History
}

// Executor runs SQL through an Engine and memoizes successful results by the
// exact (sql, database) pair. Failures are never cached.
type Executor struct {
	engine  Engine
	opts    Options
	memo    *memo
	flights singleflight.Group
}

func NewExecutor(engine Engine, opts Options) *Executor {
	return &Executor{
		engine: engine,
		opts:   opts,
		memo:   newMemo(opts.CacheSize, opts.CacheTTL),
	}
}

func (e *Executor) EngineName() string {
	return e.engine.Name()
}

// Execute returns the result of sql against database. Every failure is a
// *FailedError.
func (e *Executor) Execute(ctx context.Context, sql, database string) (*Table, error) {
	key := utils.QueryKey(sql, database)

	if table, ok := e.memo.get(key); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		logger.Debug("Query cache hit", zap.String("query_hash", key), zap.String("tier", "memory"))
		return table, nil
	}
	metrics.CacheMisses.WithLabelValues("memory").Inc()

	v, err, shared := e.flights.Do(key, func() (any, error) {
		return e.load(ctx, key, sql, database)
	})
	if shared {
		logger.Debug("Joined in-flight query", zap.String("query_hash", key))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

func (e *Executor) load(ctx context.Context, key, sql, database string) (*Table, error) {
	if e.opts.Remote != nil {
		table, ok, err := e.opts.Remote.GetResult(ctx, key)
		if err != nil {
			logger.Warn("Remote query cache lookup failed", zap.String("query_hash", key), zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			e.memo.set(key, table)
			return table, nil
		}
		metrics.CacheMisses.WithLabelValues("redis").Inc()
	}

	table, err := e.run(ctx, key, sql, database)
	if err != nil {
		return nil, err
	}

	e.memo.set(key, table)
	if e.opts.Remote != nil {
		if err := e.opts.Remote.SetResult(ctx, key, table, e.opts.CacheTTL); err != nil {
			logger.Warn("Failed to store query result in remote cache", zap.String("query_hash", key), zap.Error(err))
		}
	}
	return table, nil
}

func (e *Executor) run(ctx context.Context, key, sql, database string) (*Table, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	engineName := e.engine.Name()
	logger.Info("Executing query",
		zap.String("engine", engineName),
		zap.String("database", database),
		zap.String("query_hash", key),
	)

	startTime := time.Now()
	var table *Table
	call := func() error {
		var err error
		table, err = e.engine.Run(ctx, sql, database)
		return err
	}

	var err error
	if e.opts.Breaker != nil {
		err = e.opts.Breaker.Execute(call)
	} else {
		err = call()
	}
	if err == nil && table == nil {
		table = &Table{}
	}
	latency := time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.QueryDuration.WithLabelValues(engineName).Observe(latency.Seconds())
	metrics.QueryTotal.WithLabelValues(engineName, status).Inc()

	e.record(ctx, key, sql, database, status, table, latency, err)

	if err != nil {
		logger.Warn("Query failed",
			zap.String("engine", engineName),
			zap.String("database", database),
			zap.String("query_hash", key),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, &FailedError{SQL: sql, Database: database, Err: describe(err)}
	}

	metrics.QueryRows.WithLabelValues(engineName).Observe(float64(len(table.Rows)))
	logger.Info("Query completed",
		zap.String("engine", engineName),
		zap.String("query_hash", key),
		zap.Int("rows", len(table.Rows)),
		zap.Duration("latency", latency),
	)
	return table, nil
}

func (e *Executor) record(ctx context.Context, key, sql, database, status string, table *Table, latency time.Duration, runErr error) {
	if e.opts.History == nil {
		return
	}

	rec := &models.QueryRecord{
		Engine:    e.engine.Name(),
		Database:  database,
		QueryHash: key,
		QueryText: sql,
		Status:    status,
		LatencyMS: int(latency.Milliseconds()),
	}
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
	} else {
		rec.RowCount = len(table.Rows)
	}

	if err := e.opts.History.InsertQueryRecord(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("Failed to record query history", zap.String("query_hash", key), zap.Error(err))
	}
}

func describe(err error) error {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return fmt.Errorf("query engine temporarily unavailable: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("query timed out: %w", err)
	}
	return err
}

// CacheLen reports how many results the in-process memo holds.
func (e *Executor) CacheLen() int {
	return e.memo.len()
}

func (e *Executor) ClearCache() {
	e.memo.clear()
}
