package evaluation

import (
	"slices"

	"github.com/nl2sql-eval/backend/internal/rubric"
)

type PreviewSource int

const (
	PreviewGold PreviewSource = iota
	PreviewModel
)

func (p PreviewSource) String() string {
	if p == PreviewModel {
		return "model"
	}
	return "gold"
}

func ParsePreviewSource(s string) PreviewSource {
	if s == "model" {
		return PreviewModel
	}
	return PreviewGold
}

// State is one reviewer's position in the evaluation screen. The draft's
// AnalystChartChoice doubles as the preview chart type.
type State struct {
	QuestionID  string        `json:"question_id"`
	Model       string        `json:"model"`
	Draft       rubric.Scores `json:"draft"`
	DraftLoaded bool          `json:"draft_loaded"`
	Preview     PreviewSource `json:"preview"`
}

func NewState() State {
	return State{Draft: rubric.Defaults}
}

func (s State) Selected() bool {
	return s.QuestionID != "" && s.Model != ""
}

type Event interface {
	isEvent()
}

// Sync reconciles the selection with what the dataset currently holds.
type Sync struct {
	QuestionIDs []string
	Models      []string
}

type SelectQuestion struct{ QuestionID string }

type SelectModel struct{ Model string }

type SetChartType struct{ ChartType string }

type SetPreviewSource struct{ Source PreviewSource }

type EditDraft struct{ Scores rubric.Scores }

// SubmitRubric saves Scores for QuestionID and Model. When both are set they
// also become the selection; otherwise the current selection is used.
type SubmitRubric struct {
	QuestionID string
	Model      string
	Scores     rubric.Scores
}

type Finalize struct{}

type Refresh struct{}

func (Sync) isEvent()             {}
func (SelectQuestion) isEvent()   {}
func (SelectModel) isEvent()      {}
func (SetChartType) isEvent()     {}
func (SetPreviewSource) isEvent() {}
func (EditDraft) isEvent()        {}
func (SubmitRubric) isEvent()     {}
func (Finalize) isEvent()         {}
func (Refresh) isEvent()          {}

type Effect interface {
	isEffect()
}

// LoadDraft replaces the draft with the scores stored for the pair.
type LoadDraft struct {
	QuestionID string
	Model      string
}

type SaveRubric struct {
	QuestionID string
	Model      string
	Scores     rubric.Scores
}

type FinalizeDataset struct{}

type Render struct{}

func (LoadDraft) isEffect()       {}
func (SaveRubric) isEffect()      {}
func (FinalizeDataset) isEffect() {}
func (Render) isEffect()          {}

// Reduce is the whole transition table of the evaluation screen. It has no
// side effects; the returned effects are carried out by Workflow.Dispatch in
// order.
func Reduce(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case Sync:
		changed := false
		if !slices.Contains(e.QuestionIDs, s.QuestionID) {
			s.QuestionID = first(e.QuestionIDs)
			changed = true
		}
		if !slices.Contains(e.Models, s.Model) {
			s.Model = first(e.Models)
			changed = true
		}
		if changed {
			s.DraftLoaded = false
		}
		return s, loadIfNeeded(s)

	case SelectQuestion:
		if e.QuestionID != s.QuestionID {
			s.QuestionID = e.QuestionID
			s.DraftLoaded = false
		}
		return s, append(loadIfNeeded(s), Render{})

	case SelectModel:
		if e.Model != s.Model {
			s.Model = e.Model
			s.DraftLoaded = false
		}
		return s, append(loadIfNeeded(s), Render{})

	case SetChartType:
		s.Draft.AnalystChartChoice = rubric.NormalizeChoice(e.ChartType)
		return s, []Effect{Render{}}

	case SetPreviewSource:
		s.Preview = e.Source
		return s, []Effect{Render{}}

	case EditDraft:
		s.Draft = e.Scores
		s.Draft.VoiceUsed = 0
		return s, []Effect{Render{}}

	case SubmitRubric:
		if e.QuestionID != "" && e.Model != "" {
			s.QuestionID, s.Model = e.QuestionID, e.Model
		}
		if !s.Selected() {
			return s, []Effect{Render{}}
		}
		scores := e.Scores
		scores.VoiceUsed = 0
		s.Draft = scores
		s.DraftLoaded = true
		return s, []Effect{
			SaveRubric{QuestionID: s.QuestionID, Model: s.Model, Scores: scores},
			Render{},
		}

	case Finalize:
		return s, []Effect{FinalizeDataset{}, Render{}}

	case Refresh:
		return s, append(loadIfNeeded(s), Render{})
	}

	return s, nil
}

func loadIfNeeded(s State) []Effect {
	if s.DraftLoaded || !s.Selected() {
		return nil
	}
	return []Effect{LoadDraft{QuestionID: s.QuestionID, Model: s.Model}}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
