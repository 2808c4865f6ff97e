// Package api assembles the fiber application: middleware, HTML views, the
// JSON API under /api/v1 and the comparison websocket.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/api/handlers"
	"github.com/nl2sql-eval/backend/internal/evaluation"
	"github.com/nl2sql-eval/backend/internal/images"
	"github.com/nl2sql-eval/backend/internal/ingestion"
	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/internal/middleware/ratelimit"
	"github.com/nl2sql-eval/backend/internal/middleware/security"
	"github.com/nl2sql-eval/backend/internal/middleware/validation"
	"github.com/nl2sql-eval/backend/internal/rubric"
	"github.com/nl2sql-eval/backend/internal/web"
	"github.com/nl2sql-eval/backend/pkg/config"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// Pinger is a dependency checked by /api/v1/ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Container holds everything the routes need. Audit and RemoteCache may be
// nil.
type Container struct {
	Config      *config.Config
	Workflow    *evaluation.Workflow
	Sessions    *session.Store
	Executor    handlers.QueryRunner
	Memo        handlers.MemoCache
	Images      *images.Repository
	Extractor   *ingestion.Extractor
	Submissions handlers.SubmissionHistory
	Queries     handlers.QueryHistory
	RemoteCache handlers.RemoteInvalidator
	Checks      map[string]Pinger
}

// NewApp builds the application. The returned stop func releases the
// background resources of the middleware.
func NewApp(c *Container) (*fiber.App, func()) {
	cfg := c.Config

	app := fiber.New(fiber.Config{
		AppName:      "nl2sql-eval",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		Views:        web.NewEngine(),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.IsDevelopment,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, " + handlers.SessionHeader,
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(validation.Middleware(validation.Config{
		MaxSQLLength: cfg.Query.MaxSQLLength,
		QueryPaths:   []string{"/api/v1/query", "/api/v1/chart"},
		Logger:       logger.Named("validation"),
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		SessionHeader:        handlers.SessionHeader,
		SessionCookie:        handlers.SessionCookie,
		Logger:               logger.Named("ratelimit"),
	})

	evaluationHandler := handlers.NewEvaluationHandler(c.Workflow, c.Sessions)
	imageHandler := handlers.NewImageHandler(c.Images, c.Extractor)
	datasetHandler := handlers.NewDatasetHandler(c.Workflow, c.Submissions)
	queryHandler := handlers.NewQueryHandler(c.Executor, c.Queries, c.Workflow.Database())
	cacheHandler := handlers.NewCacheHandler(c.Memo, c.RemoteCache)
	wsHandler := handlers.NewWebSocketHandler(c.Workflow)

	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Redirect("/evaluation")
	})
	app.Get("/evaluation", evaluationHandler.Show)
	app.Post("/evaluation/submit", evaluationHandler.Submit)
	app.Post("/evaluation/finalize", evaluationHandler.Finalize)
	app.Get("/extract", imageHandler.ExtractPage)
	app.Post("/extract", imageHandler.ExtractPage)
	app.Get("/gallery", imageHandler.Gallery)
	app.Get("/about", func(ctx *fiber.Ctx) error {
		return ctx.Render("about", fiber.Map{
			"Title":    "About",
			"Page":     "about",
			"Database": c.Workflow.Database(),
			"Rubric":   rubric.Definitions,
		}, web.Layout)
	})
	app.Get("/images/:name", imageHandler.Serve)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/questions", datasetHandler.ListQuestions)
	api.Get("/models", datasetHandler.ListModels)
	api.Get("/questions/:id/models/:model", datasetHandler.GetPair)
	api.Post("/questions/:id/models/:model/rubric", datasetHandler.SubmitRubric)
	api.Post("/dataset/finalize", datasetHandler.Finalize)
	api.Get("/history/submissions", datasetHandler.ListSubmissions)

	api.Post("/query", limiter.Middleware(), queryHandler.HandleQuery)
	api.Post("/chart", limiter.Middleware(), queryHandler.HandleChart)
	api.Get("/history/queries", queryHandler.GetQueryHistory)

	api.Get("/cache", cacheHandler.Stats)
	api.Post("/cache/clear", cacheHandler.Clear)

	api.Get("/images", imageHandler.List)
	api.Get("/images/catalog", imageHandler.Catalog)
	api.Post("/images/extract", imageHandler.Extract)

	api.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	api.Get("/ready", readyHandler(c))

	app.Use("/ws", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/compare", websocket.New(wsHandler.HandleConnection))

	return app, limiter.Stop
}

func readyHandler(c *Container) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		checks := fiber.Map{}
		ready := true

		if _, err := c.Workflow.Table(); err != nil {
			checks["dataset"] = err.Error()
			ready = false
		} else {
			checks["dataset"] = "ok"
		}

		for name, p := range c.Checks {
			pingCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
			err := p.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
				checks[name] = err.Error()
				ready = false
				continue
			}
			checks[name] = "ok"
		}

		status := fiber.StatusOK
		state := "ready"
		if !ready {
			status = fiber.StatusServiceUnavailable
			state = "not ready"
		}
		return ctx.Status(status).JSON(fiber.Map{
			"status": state,
			"checks": checks,
		})
	}
}
