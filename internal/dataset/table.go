package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/nl2sql-eval/backend/internal/rubric"
)

const (
	ColQuestionID = "QuestionID"
	ColQueryText  = "QueryText"
	ColDomain     = "Domain"
	ColComplexity = "Complexity"
	ColGoldSQL    = "GoldSQL"

	modelSQLMarker = "_SQL"
)

var RequiredColumns = []string{ColQuestionID, ColQueryText, ColDomain, ColComplexity, ColGoldSQL}

var (
	ErrCanonicalMissing = errors.New("canonical dataset file not found")
	ErrMalformed        = errors.New("malformed dataset")
	ErrNotFound         = errors.New("not found")
)

type Question struct {
	ID         string `json:"question_id"`
	QueryText  string `json:"query_text"`
	Domain     string `json:"domain"`
	Complexity string `json:"complexity"`
	GoldSQL    string `json:"gold_sql"`
}

type Submission struct {
	QuestionID string                  `json:"question_id"`
	Model      string                  `json:"model"`
	SQL        string                  `json:"sql"`
	Scores     rubric.Scores           `json:"scores"`
	Raw        map[rubric.Field]string `json:"raw"`
}

// Table is the wide dataset: one row per question, one column group per model.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
	byID   map[string]int
	models []string
}

func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrMalformed)
	}

	return newTable(records[0], records[1:])
}

func newTable(header []string, rows [][]string) (*Table, error) {
	t := &Table{
		header: header,
		index:  make(map[string]int, len(header)),
		rows:   rows,
		byID:   make(map[string]int, len(rows)),
	}

	for i, name := range header {
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrMalformed, name)
		}
		t.index[name] = i
	}

	for _, col := range RequiredColumns {
		if _, ok := t.index[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column %q", ErrMalformed, col)
		}
	}

	t.models = discoverModels(header)
	for _, model := range t.models {
		for _, f := range rubric.Fields {
			col := rubric.Column(model, f)
			if _, ok := t.index[col]; !ok {
				return nil, fmt.Errorf("%w: model %q is missing column %q", ErrMalformed, model, col)
			}
		}
	}

	idCol := t.index[ColQuestionID]
	for i, row := range rows {
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			return nil, fmt.Errorf("%w: row %d has an empty %s", ErrMalformed, i+2, ColQuestionID)
		}
		if prev, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("%w: %s %q appears on rows %d and %d", ErrMalformed, ColQuestionID, id, prev+2, i+2)
		}
		t.byID[id] = i
	}

	return t, nil
}

// discoverModels returns every distinct column prefix in front of "_SQL",
// in header order.
func discoverModels(header []string) []string {
	var models []string
	for _, col := range header {
		idx := strings.Index(col, modelSQLMarker)
		if idx <= 0 {
			continue
		}
		model := col[:idx]
		if !slices.Contains(models, model) {
			models = append(models, model)
		}
	}
	return models
}

func (t *Table) Encode(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writer.WriteAll(t.rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Table) Header() []string {
	return slices.Clone(t.header)
}

func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns a copy of the row at position i.
func (t *Table) Row(i int) []string {
	return slices.Clone(t.rows[i])
}

func (t *Table) Models() []string {
	return slices.Clone(t.models)
}

func (t *Table) HasModel(model string) bool {
	return slices.Contains(t.models, model)
}

func (t *Table) QuestionIDs() []string {
	idCol := t.index[ColQuestionID]
	ids := make([]string, 0, len(t.rows))
	for _, row := range t.rows {
		ids = append(ids, strings.TrimSpace(row[idCol]))
	}
	return ids
}

func (t *Table) HasQuestion(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Table) cell(row []string, col string) string {
	return row[t.index[col]]
}

func (t *Table) Question(id string) (Question, error) {
	i, ok := t.byID[id]
	if !ok {
		return Question{}, fmt.Errorf("question %q: %w", id, ErrNotFound)
	}

	row := t.rows[i]
	return Question{
		ID:         id,
		QueryText:  t.cell(row, ColQueryText),
		Domain:     t.cell(row, ColDomain),
		Complexity: t.cell(row, ColComplexity),
		GoldSQL:    t.cell(row, ColGoldSQL),
	}, nil
}

func (t *Table) Submission(id, model string) (Submission, error) {
	i, ok := t.byID[id]
	if !ok {
		return Submission{}, fmt.Errorf("question %q: %w", id, ErrNotFound)
	}
	if !t.HasModel(model) {
		return Submission{}, fmt.Errorf("model %q: %w", model, ErrNotFound)
	}

	row := t.rows[i]
	raw := make(map[rubric.Field]string, len(rubric.Fields))
	for _, f := range rubric.Fields {
		raw[f] = t.cell(row, rubric.Column(model, f))
	}

	return Submission{
		QuestionID: id,
		Model:      model,
		SQL:        t.cell(row, model+modelSQLMarker),
		Scores:     rubric.Parse(raw).WithDefaults(),
		Raw:        raw,
	}, nil
}

// SetRubric writes every rubric column for (id, model) on that question's row
// and nothing else.
func (t *Table) SetRubric(id, model string, scores rubric.Scores) error {
	if err := scores.Validate(); err != nil {
		return err
	}

	i, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("question %q: %w", id, ErrNotFound)
	}
	if !t.HasModel(model) {
		return fmt.Errorf("model %q: %w", model, ErrNotFound)
	}

	for field, value := range scores.Cells() {
		t.rows[i][t.index[rubric.Column(model, field)]] = value
	}
	return nil
}

func (t *Table) Clone() *Table {
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = slices.Clone(row)
	}
	// Validation already passed for the source table.
	clone, _ := newTable(slices.Clone(t.header), rows)
	return clone
}
