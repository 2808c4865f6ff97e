package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/chart"
	"github.com/nl2sql-eval/backend/internal/middleware/validation"
	"github.com/nl2sql-eval/backend/internal/query"
	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

type QueryRunner interface {
	Execute(ctx context.Context, sql, database string) (*query.Table, error)
	EngineName() string
}

type QueryHistory interface {
	GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error)
}

// QueryHandler runs ad-hoc SQL through the memoized executor.
type QueryHandler struct {
	executor QueryRunner
	history  QueryHistory
	database string
}

func NewQueryHandler(executor QueryRunner, history QueryHistory, database string) *QueryHandler {
	return &QueryHandler{
		executor: executor,
		history:  history,
		database: database,
	}
}

// HandleQuery handles POST /api/v1/query. The body is validated by the
// validation middleware; database defaults to the evaluation database.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	req, table, latency, err := h.run(c)
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(fiber.Map{
		"engine":     h.executor.EngineName(),
		"database":   req.Database,
		"columns":    table.Columns,
		"rows":       table.Rows,
		"row_count":  len(table.Rows),
		"latency_ms": latency.Milliseconds(),
	})
}

// HandleChart handles POST /api/v1/chart: it runs the SQL and renders the
// result as chart_type.
func (h *QueryHandler) HandleChart(c *fiber.Ctx) error {
	req, table, _, err := h.run(c)
	if err != nil {
		return queryError(c, err)
	}

	spec, err := chart.Render(table, req.ChartType)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Error generating chart preview: " + err.Error(),
		})
	}
	if spec == nil {
		return c.JSON(fiber.Map{
			"chart":   nil,
			"message": "Query returned no rows.",
		})
	}

	return c.JSON(fiber.Map{
		"chart": spec,
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{"history": []models.QueryRecord{}})
	}

	records, err := h.history.GetQueryHistory(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to get query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get query history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}

func (h *QueryHandler) run(c *fiber.Ctx) (validation.QueryRequest, *query.Table, time.Duration, error) {
	req, ok := validation.Request(c)
	if !ok {
		if err := c.BodyParser(&req); err != nil || req.SQL == "" {
			return req, nil, 0, fiber.NewError(fiber.StatusBadRequest, "sql is required")
		}
	}
	if req.Database == "" {
		req.Database = h.database
	}

	start := time.Now()
	table, err := h.executor.Execute(c.UserContext(), req.SQL, req.Database)
	return req, table, time.Since(start), err
}

func queryError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": fe.Message,
		})
	}

	var failed *query.FailedError
	if errors.As(err, &failed) {
		status := fiber.StatusBadGateway
		if query.IsStatementError(err) {
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(fiber.Map{
			"error":    "Error executing SQL query: " + failed.Err.Error(),
			"database": failed.Database,
		})
	}

	logger.Error("Failed to execute query", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to execute query",
	})
}
