package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/chart"
	"github.com/nl2sql-eval/backend/internal/dataset"
	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/internal/query"
	"github.com/nl2sql-eval/backend/internal/rubric"
	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

var ErrNoSelection = errors.New("no question or model selected")

type DatasetStore interface {
	EnsureWorkingCopy() (bool, error)
	OpenWorkingCopy() (*dataset.Table, error)
	Save(table *dataset.Table) error
	Finalize() error
}

type QueryExecutor interface {
	Execute(ctx context.Context, sql, database string) (*query.Table, error)
}

type ImageFinder interface {
	FindFor(questionID int, modelName string) ([]string, error)
}

type SubmissionRecorder interface {
	InsertSubmission(ctx context.Context, s *models.RubricSubmission) error
}

type Side string

const (
	SideGold  Side = "gold"
	SideModel Side = "model"
)

// Outcome is one side of the gold/model comparison. Error holds the
// message to show when the query failed.
type Outcome struct {
	Side      Side         `json:"side"`
	SQL       string       `json:"sql"`
	Table     *query.Table `json:"table,omitempty"`
	Error     string       `json:"error,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// View is everything the evaluation screen shows after one event.
type View struct {
	State        State               `json:"state"`
	Questions    []string            `json:"questions"`
	Models       []string            `json:"models"`
	Question     *dataset.Question   `json:"question,omitempty"`
	Submission   *dataset.Submission `json:"submission,omitempty"`
	Gold         *Outcome            `json:"gold,omitempty"`
	Candidate    *Outcome            `json:"candidate,omitempty"`
	Preview      *chart.Spec         `json:"preview,omitempty"`
	PreviewError string              `json:"preview_error,omitempty"`
	Images       []string            `json:"images"`
	Rubric       []rubric.Definition `json:"rubric"`
	Notices      []Notice            `json:"notices"`
	Fatal        string              `json:"fatal,omitempty"`
}

func (v *View) notice(level Level, format string, args ...any) {
	v.Notices = append(v.Notices, Notice{Level: level, Message: fmt.Sprintf(format, args...)})
}

type Workflow struct {
	store    DatasetStore
	executor QueryExecutor
	images   ImageFinder
	recorder SubmissionRecorder
	database string

	// Serializes read-modify-write cycles on the working copy.
	mu sync.Mutex
}

func NewWorkflow(store DatasetStore, executor QueryExecutor, images ImageFinder, recorder SubmissionRecorder, database string) *Workflow {
	return &Workflow{
		store:    store,
		executor: executor,
		images:   images,
		recorder: recorder,
		database: database,
	}
}

func (w *Workflow) Database() string {
	return w.database
}

// Dispatch applies events to s in order, carries out their effects and
// returns the new state with the view to display. However many events
// request a render, the view is rendered once, for the final state. File
// errors end the dispatch with View.Fatal set; query and chart errors are
// shown inline.
func (w *Workflow) Dispatch(ctx context.Context, sessionID string, s State, events ...Event) (State, *View) {
	view := &View{Images: []string{}, Rubric: rubric.Definitions, Notices: []Notice{}}

	w.mu.Lock()
	table, created, err := w.open()
	if err != nil {
		w.mu.Unlock()
		view.State = s
		view.Fatal = fatalMessage(err)
		logger.Error("Failed to open dataset", zap.Error(err))
		return s, view
	}
	if created {
		view.notice(LevelSuccess, "Created working copy of the CSV file.")
	}

	render := false
	events = append([]Event{Sync{QuestionIDs: table.QuestionIDs(), Models: table.Models()}}, events...)
	for _, ev := range events {
		var effects []Effect
		s, effects = Reduce(s, ev)
		for _, eff := range effects {
			switch e := eff.(type) {
			case LoadDraft:
				s = w.loadDraft(table, s, e)
			case SaveRubric:
				if err := w.saveRubric(ctx, table, sessionID, e.QuestionID, e.Model, e.Scores); err != nil {
					view.notice(LevelError, "Failed to save evaluation: %v", err)
					continue
				}
				view.notice(LevelSuccess, "Saved changes to working copy.")
			case FinalizeDataset:
				if err := w.store.Finalize(); err != nil {
					logger.Error("Failed to finalize dataset", zap.Error(err))
					view.notice(LevelError, "Failed to save changes to original CSV file: %v", err)
					continue
				}
				view.notice(LevelSuccess, "Changes saved to original CSV file.")
			case Render:
				render = true
			}
		}
	}
	w.mu.Unlock()

	view.State = s
	view.Questions = table.QuestionIDs()
	view.Models = table.Models()
	if render {
		w.render(ctx, table, s, view)
	}
	return s, view
}

func (w *Workflow) open() (*dataset.Table, bool, error) {
	created, err := w.store.EnsureWorkingCopy()
	if err != nil {
		return nil, false, err
	}
	table, err := w.store.OpenWorkingCopy()
	if err != nil {
		return nil, created, err
	}
	return table, created, nil
}

func (w *Workflow) loadDraft(table *dataset.Table, s State, e LoadDraft) State {
	sub, err := table.Submission(e.QuestionID, e.Model)
	if err != nil {
		s.Draft = rubric.Defaults
	} else {
		s.Draft = sub.Scores
	}
	s.DraftLoaded = true
	return s
}

func (w *Workflow) saveRubric(ctx context.Context, table *dataset.Table, sessionID, questionID, model string, scores rubric.Scores) error {
	scores.VoiceUsed = 0
	if err := table.SetRubric(questionID, model, scores); err != nil {
		return err
	}
	if err := w.store.Save(table); err != nil {
		return err
	}

	metrics.RubricSubmissions.WithLabelValues(model).Inc()
	logger.Info("Evaluation saved",
		zap.String("session_id", sessionID),
		zap.String("question_id", questionID),
		zap.String("model", model),
	)

	if w.recorder != nil {
		err := w.recorder.InsertSubmission(context.WithoutCancel(ctx), &models.RubricSubmission{
			SessionID:          sessionID,
			QuestionID:         questionID,
			Model:              model,
			Correctness:        scores.Correctness,
			ResultMatch:        scores.ResultMatch,
			UserRating:         scores.UserRating,
			VoiceUsed:          scores.VoiceUsed,
			ChartRating:        scores.ChartRating,
			AnalystChartChoice: scores.AnalystChartChoice,
		})
		if err != nil {
			logger.Warn("Failed to record submission", zap.String("question_id", questionID), zap.Error(err))
		}
	}
	return nil
}

// SubmitRubric writes scores for one (question, model) pair to the working
// copy. It is the non-interactive form of dispatching SubmitRubric.
func (w *Workflow) SubmitRubric(ctx context.Context, sessionID, questionID, model string, scores rubric.Scores) error {
	if questionID == "" || model == "" {
		return ErrNoSelection
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	table, _, err := w.open()
	if err != nil {
		return err
	}
	return w.saveRubric(ctx, table, sessionID, questionID, model, scores)
}

func (w *Workflow) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.store.EnsureWorkingCopy(); err != nil {
		return err
	}
	return w.store.Finalize()
}

// Table returns the current working copy.
func (w *Workflow) Table() (*dataset.Table, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	table, _, err := w.open()
	return table, err
}

// Pair loads the question and the model's stored submission.
func (w *Workflow) Pair(questionID, model string) (dataset.Question, dataset.Submission, error) {
	table, err := w.Table()
	if err != nil {
		return dataset.Question{}, dataset.Submission{}, err
	}
	q, err := table.Question(questionID)
	if err != nil {
		return dataset.Question{}, dataset.Submission{}, err
	}
	sub, err := table.Submission(questionID, model)
	if err != nil {
		return dataset.Question{}, dataset.Submission{}, err
	}
	return q, sub, nil
}

// RunPair executes the gold and model SQL concurrently against the
// evaluation database. One side failing does not affect the other. emit, if
// set, is called once per side as soon as that side finishes.
func (w *Workflow) RunPair(ctx context.Context, goldSQL, modelSQL string, emit func(Outcome)) (Outcome, Outcome) {
	var gold, model Outcome
	var emitMu sync.Mutex

	send := func(o Outcome) {
		if emit == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(o)
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		gold = w.run(ctx, SideGold, goldSQL)
		send(gold)
	})
	wg.Go(func() {
		model = w.run(ctx, SideModel, modelSQL)
		send(model)
	})
	wg.Wait()

	return gold, model
}

func (w *Workflow) run(ctx context.Context, side Side, sql string) Outcome {
	out := Outcome{Side: side, SQL: sql}
	if strings.TrimSpace(sql) == "" {
		out.Error = "No SQL provided."
		return out
	}

	start := time.Now()
	table, err := w.executor.Execute(ctx, sql, w.database)
	out.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = fmt.Sprintf("Error executing SQL query: %v", cause(err))
		return out
	}
	out.Table = table
	return out
}

func (w *Workflow) render(ctx context.Context, table *dataset.Table, s State, view *View) {
	if len(view.Questions) == 0 {
		view.notice(LevelInfo, "The dataset has no questions.")
		return
	}
	if len(view.Models) == 0 {
		view.notice(LevelInfo, "The dataset has no model columns.")
	}

	q, err := table.Question(s.QuestionID)
	if err != nil {
		view.notice(LevelError, "%v", err)
		return
	}
	view.Question = &q
	if !s.Selected() {
		return
	}

	sub, err := table.Submission(s.QuestionID, s.Model)
	if err != nil {
		view.notice(LevelError, "%v", err)
		return
	}
	view.Submission = &sub

	gold, candidate := w.RunPair(ctx, q.GoldSQL, sub.SQL, nil)
	view.Gold, view.Candidate = &gold, &candidate
	for _, o := range []Outcome{gold, candidate} {
		switch {
		case o.Error != "":
			view.notice(LevelError, "%s SQL: %s", o.Side, o.Error)
		case o.Table.Empty():
			view.notice(LevelInfo, "%s SQL returned no rows.", o.Side)
		}
	}

	source := gold
	if s.Preview == PreviewModel {
		source = candidate
	}
	if source.Error == "" {
		spec, err := chart.Render(source.Table, s.Draft.AnalystChartChoice)
		if err != nil {
			view.PreviewError = fmt.Sprintf("Error generating chart preview: %v", err)
		}
		view.Preview = spec
	}

	view.Images = w.findImages(s.QuestionID, s.Model, view)
}

func (w *Workflow) findImages(questionID, model string, view *View) []string {
	id, err := strconv.Atoi(strings.TrimSpace(questionID))
	if err != nil {
		view.notice(LevelInfo, "No chart images found for Question %s with model %s", questionID, model)
		return []string{}
	}

	paths, err := w.images.FindFor(id, model)
	if err != nil {
		logger.Warn("Failed to look up chart images", zap.String("question_id", questionID), zap.Error(err))
		view.notice(LevelError, "Failed to look up chart images: %v", err)
		return []string{}
	}
	if len(paths) == 0 {
		view.notice(LevelInfo, "No chart images found for Question %s with model %s", questionID, model)
	}
	return paths
}

func cause(err error) error {
	var failed *query.FailedError
	if errors.As(err, &failed) && failed.Err != nil {
		return failed.Err
	}
	return err
}

func fatalMessage(err error) string {
	switch {
	case errors.Is(err, dataset.ErrCanonicalMissing):
		return fmt.Sprintf("The dataset file is missing: %v", err)
	case errors.Is(err, dataset.ErrMalformed):
		return fmt.Sprintf("The dataset file could not be read: %v", err)
	}
	return err.Error()
}
