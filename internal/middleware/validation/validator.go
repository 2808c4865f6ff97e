package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/query"
)

// LocalsKey is where the validated QueryRequest is stored for handlers.
const LocalsKey = "query_request"

// QueryRequest is the body accepted by the query and chart endpoints.
type QueryRequest struct {
	SQL       string `json:"sql"`
	Database  string `json:"database"`
	ChartType string `json:"chart_type"`
}

type Config struct {
	MaxSQLLength int
	// QueryPaths are the POST endpoints whose body is a QueryRequest.
	QueryPaths          []string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxSQLLength == 0 {
		cfg.MaxSQLLength = 20000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		if !matches(c.Path(), cfg.QueryPaths) {
			return c.Next()
		}

		var req QueryRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		req.SQL = sanitizeString(req.SQL)
		req.Database = strings.TrimSpace(req.Database)

		if req.SQL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "sql is required and must be a string",
			})
		}
		if len(req.SQL) > cfg.MaxSQLLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "sql exceeds maximum length",
			})
		}
		if req.Database != "" && !query.ValidDatabaseName(req.Database) {
			cfg.Logger.Warn("Rejected database name",
				zap.String("ip", c.IP()),
				zap.String("database", req.Database),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "database must be a bare identifier",
			})
		}

		c.Locals(LocalsKey, req)
		return c.Next()
	}
}

// Request returns the validated body stored by Middleware.
func Request(c *fiber.Ctx) (QueryRequest, bool) {
	req, ok := c.Locals(LocalsKey).(QueryRequest)
	return req, ok
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func matches(path string, paths []string) bool {
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
