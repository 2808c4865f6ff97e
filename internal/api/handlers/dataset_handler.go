package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/dataset"
	"github.com/nl2sql-eval/backend/internal/evaluation"
	"github.com/nl2sql-eval/backend/internal/rubric"
	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

type SubmissionHistory interface {
	ListSubmissions(ctx context.Context, questionID, model string, limit int) ([]models.RubricSubmission, error)
}

// DatasetHandler exposes the evaluation dataset as JSON.
type DatasetHandler struct {
	workflow *evaluation.Workflow
	history  SubmissionHistory
}

func NewDatasetHandler(workflow *evaluation.Workflow, history SubmissionHistory) *DatasetHandler {
	return &DatasetHandler{
		workflow: workflow,
		history:  history,
	}
}

func (h *DatasetHandler) ListQuestions(c *fiber.Ctx) error {
	table, err := h.workflow.Table()
	if err != nil {
		return datasetError(c, err)
	}

	questions := make([]dataset.Question, 0, table.Len())
	for _, id := range table.QuestionIDs() {
		q, err := table.Question(id)
		if err != nil {
			return datasetError(c, err)
		}
		questions = append(questions, q)
	}

	return c.JSON(fiber.Map{
		"questions": questions,
	})
}

func (h *DatasetHandler) ListModels(c *fiber.Ctx) error {
	table, err := h.workflow.Table()
	if err != nil {
		return datasetError(c, err)
	}

	return c.JSON(fiber.Map{
		"models": table.Models(),
	})
}

// GetPair handles GET /api/v1/questions/:id/models/:model.
func (h *DatasetHandler) GetPair(c *fiber.Ctx) error {
	q, sub, err := h.workflow.Pair(c.Params("id"), c.Params("model"))
	if err != nil {
		return datasetError(c, err)
	}

	return c.JSON(fiber.Map{
		"question":   q,
		"submission": sub,
		"rubric":     rubric.Definitions,
	})
}

// SubmitRubric handles POST /api/v1/questions/:id/models/:model/rubric.
// VoiceUsed is always stored as 0.
func (h *DatasetHandler) SubmitRubric(c *fiber.Ctx) error {
	var scores rubric.Scores
	if err := c.BodyParser(&scores); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	scores.VoiceUsed = 0

	questionID, model := c.Params("id"), c.Params("model")
	if err := h.workflow.SubmitRubric(c.UserContext(), sessionID(c), questionID, model, scores); err != nil {
		return datasetError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "Saved changes to working copy.",
		"question_id": questionID,
		"model":       model,
		"scores":      scores,
	})
}

// Finalize handles POST /api/v1/dataset/finalize.
func (h *DatasetHandler) Finalize(c *fiber.Ctx) error {
	if err := h.workflow.Finalize(); err != nil {
		return datasetError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Changes saved to original CSV file.",
	})
}

func (h *DatasetHandler) ListSubmissions(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{"submissions": []models.RubricSubmission{}})
	}

	subs, err := h.history.ListSubmissions(c.UserContext(), c.Query("question"), c.Query("model"), c.QueryInt("limit", 100))
	if err != nil {
		logger.Error("Failed to list submissions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list submissions",
		})
	}

	return c.JSON(fiber.Map{
		"submissions": subs,
	})
}

func datasetError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, rubric.ErrInvalid), errors.Is(err, evaluation.ErrNoSelection):
		status = fiber.StatusBadRequest
	case errors.Is(err, dataset.ErrCanonicalMissing):
		status = fiber.StatusServiceUnavailable
	default:
		logger.Error("Dataset operation failed", zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
