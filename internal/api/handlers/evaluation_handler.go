package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/dataset"
	"github.com/nl2sql-eval/backend/internal/evaluation"
	"github.com/nl2sql-eval/backend/internal/rubric"
	"github.com/nl2sql-eval/backend/internal/web"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// EvaluationHandler serves the interactive evaluation page. Each request is
// turned into workflow events against the reviewer's session state.
type EvaluationHandler struct {
	workflow *evaluation.Workflow
	sessions *session.Store
}

func NewEvaluationHandler(workflow *evaluation.Workflow, sessions *session.Store) *EvaluationHandler {
	return &EvaluationHandler{
		workflow: workflow,
		sessions: sessions,
	}
}

// Show handles GET /evaluation. The question, model, chart_type and preview
// query parameters select what is shown.
func (h *EvaluationHandler) Show(c *fiber.Ctx) error {
	var events []evaluation.Event
	if q := c.Query("question"); q != "" {
		events = append(events, evaluation.SelectQuestion{QuestionID: q})
	}
	if m := c.Query("model"); m != "" {
		events = append(events, evaluation.SelectModel{Model: m})
	}
	if ct := c.Query("chart_type"); ct != "" {
		events = append(events, evaluation.SetChartType{ChartType: ct})
	}
	if p := c.Query("preview"); p != "" {
		events = append(events, evaluation.SetPreviewSource{Source: evaluation.ParsePreviewSource(p)})
	}
	if len(events) == 0 {
		events = append(events, evaluation.Refresh{})
	}
	return h.dispatch(c, events...)
}

// Submit handles POST /evaluation/submit with one form field per rubric
// field. The question and model fields name the pair being scored.
func (h *EvaluationHandler) Submit(c *fiber.Ctx) error {
	questionID, model := c.FormValue("question"), c.FormValue("model")
	if questionID == "" || model == "" {
		return c.Status(fiber.StatusBadRequest).SendString("question and model are required")
	}

	scores, err := scoresFromForm(c)
	if err != nil {
		logger.Warn("Rejected evaluation form", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}

	if _, _, err := h.workflow.Pair(questionID, model); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			logger.Warn("Rejected evaluation form",
				zap.String("question_id", questionID),
				zap.String("model", model),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		return h.dispatch(c, evaluation.Refresh{})
	}

	return h.dispatch(c, evaluation.SubmitRubric{QuestionID: questionID, Model: model, Scores: scores})
}

func (h *EvaluationHandler) Finalize(c *fiber.Ctx) error {
	return h.dispatch(c, evaluation.Finalize{})
}

func (h *EvaluationHandler) dispatch(c *fiber.Ctx, events ...evaluation.Event) error {
	sess, err := h.sessions.Get(c)
	if err != nil {
		logger.Error("Failed to load session", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load session")
	}

	id := sess.ID()
	state, view := h.workflow.Dispatch(c.UserContext(), id, loadState(sess), events...)

	sess.Set(stateKey, state)
	if err := sess.Save(); err != nil {
		logger.Warn("Failed to save session", zap.String("session_id", id), zap.Error(err))
	}

	status := fiber.StatusOK
	if view.Fatal != "" {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).Render("evaluation", fiber.Map{
		"Title":      "Evaluation",
		"Page":       "evaluation",
		"View":       view,
		"Draft":      view.State.Draft.Cells(),
		"ChartTypes": rubric.ChartChoices,
	}, web.Layout)
}

func scoresFromForm(c *fiber.Ctx) (rubric.Scores, error) {
	ints := make(map[rubric.Field]int)
	for _, f := range []rubric.Field{rubric.Correctness, rubric.ResultMatch, rubric.UserRating, rubric.ChartRating} {
		n, err := strconv.Atoi(c.FormValue(string(f)))
		if err != nil {
			return rubric.Scores{}, fiber.NewError(fiber.StatusBadRequest, string(f)+" must be a number")
		}
		ints[f] = n
	}

	scores := rubric.Scores{
		Correctness:        ints[rubric.Correctness],
		ResultMatch:        ints[rubric.ResultMatch],
		UserRating:         ints[rubric.UserRating],
		ChartRating:        ints[rubric.ChartRating],
		AnalystChartChoice: c.FormValue(string(rubric.AnalystChartChoice)),
	}
	if err := scores.Validate(); err != nil {
		return rubric.Scores{}, err
	}
	return scores, nil
}
