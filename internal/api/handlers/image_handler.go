package handlers

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/images"
	"github.com/nl2sql-eval/backend/internal/ingestion"
	"github.com/nl2sql-eval/backend/internal/web"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// ImageHandler serves chart images, the gallery and email extraction.
type ImageHandler struct {
	repo      *images.Repository
	extractor *ingestion.Extractor
}

func NewImageHandler(repo *images.Repository, extractor *ingestion.Extractor) *ImageHandler {
	return &ImageHandler{
		repo:      repo,
		extractor: extractor,
	}
}

// Serve handles GET /images/:name.
func (h *ImageHandler) Serve(c *fiber.Ctx) error {
	name := c.Params("name")
	rc, err := h.repo.Open(name)
	if err != nil {
		if errors.Is(err, images.ErrInvalidName) {
			return fiber.ErrBadRequest
		}
		if errors.Is(err, os.ErrNotExist) {
			return fiber.ErrNotFound
		}
		logger.Error("Failed to open image", zap.String("name", name), zap.Error(err))
		return fiber.ErrInternalServerError
	}

	c.Type(strings.TrimPrefix(filepath.Ext(name), "."))
	return c.SendStream(rc)
}

// List handles GET /api/v1/images. With question and model it returns the
// images for that pair, otherwise every chart image.
func (h *ImageHandler) List(c *fiber.Ctx) error {
	question, model := c.Query("question"), c.Query("model")

	var paths []string
	var err error
	if question != "" && model != "" {
		id, convErr := strconv.Atoi(question)
		if convErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "question must be an integer",
			})
		}
		paths, err = h.repo.FindFor(id, model)
	} else {
		paths, err = h.repo.ListAll()
	}
	if err != nil {
		logger.Error("Failed to list images", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list images",
		})
	}

	return c.JSON(fiber.Map{
		"images": names(paths),
	})
}

// Catalog handles GET /api/v1/images/catalog. Repeated question and model
// parameters narrow the result.
func (h *ImageHandler) Catalog(c *fiber.Ctx) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	entries, err := h.repo.Catalog(filter)
	if err != nil {
		logger.Error("Failed to build image catalog", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build image catalog",
		})
	}
	questionIDs, models, err := h.repo.Facets()
	if err != nil {
		logger.Error("Failed to build image facets", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build image catalog",
		})
	}

	return c.JSON(fiber.Map{
		"entries":      entries,
		"question_ids": questionIDs,
		"models":       models,
	})
}

// Extract handles POST /api/v1/images/extract.
func (h *ImageHandler) Extract(c *fiber.Ctx) error {
	paths, err := h.extractor.Extract(c.UserContext())
	if err != nil {
		if errors.Is(err, ingestion.ErrSourceMissing) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to extract images", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to extract images",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Successfully extracted " + strconv.Itoa(len(paths)) + " images.",
		"images":  names(paths),
	})
}

// Gallery handles GET /gallery.
func (h *ImageHandler) Gallery(c *fiber.Ctx) error {
	data := fiber.Map{
		"Title":             "Chart Gallery",
		"Page":              "gallery",
		"SelectedQuestions": queryValues(c, "question"),
		"SelectedModels":    queryValues(c, "model"),
	}

	all, err := h.repo.ListAll()
	if err != nil {
		logger.Error("Failed to list images", zap.Error(err))
		data["Error"] = "Failed to list chart images: " + err.Error()
		return c.Render("gallery", data, web.Layout)
	}
	data["HasImages"] = len(all) > 0

	questionIDs, models, err := h.repo.Facets()
	if err == nil {
		data["QuestionIDs"], data["Models"] = questionIDs, models
		data["Parsed"] = len(questionIDs) > 0
	}

	filter, ferr := filterFromQuery(c)
	if ferr != nil {
		data["Error"] = ferr.Error()
		return c.Status(fiber.StatusBadRequest).Render("gallery", data, web.Layout)
	}
	entries, err := h.repo.Catalog(filter)
	if err != nil {
		data["Error"] = "Failed to read chart images: " + err.Error()
		return c.Render("gallery", data, web.Layout)
	}
	data["Entries"] = entries

	return c.Render("gallery", data, web.Layout)
}

// ExtractPage handles GET and POST /extract; POST runs the extraction.
func (h *ImageHandler) ExtractPage(c *fiber.Ctx) error {
	data := fiber.Map{
		"Title":  "Extract Images",
		"Page":   "extract",
		"Source": h.extractor.SourcePath(),
	}
	if c.Method() != fiber.MethodPost {
		return c.Render("extract", data, web.Layout)
	}

	data["Ran"] = true
	paths, err := h.extractor.Extract(c.UserContext())
	if err != nil {
		logger.Warn("Image extraction failed", zap.Error(err))
		data["Error"] = "Error extracting images: " + err.Error()
	}
	data["Paths"] = paths
	return c.Render("extract", data, web.Layout)
}

func filterFromQuery(c *fiber.Ctx) (images.Filter, error) {
	var filter images.Filter
	for _, raw := range queryValues(c, "question") {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return images.Filter{}, errors.New("question must be an integer")
		}
		filter.QuestionIDs = append(filter.QuestionIDs, id)
	}
	filter.Models = queryValues(c, "model")
	return filter, nil
}

func queryValues(c *fiber.Ctx, key string) []string {
	var values []string
	for _, v := range c.Context().QueryArgs().PeekMulti(key) {
		if s := strings.TrimSpace(string(v)); s != "" {
			values = append(values, s)
		}
	}
	return values
}

func names(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}
