// Package rubric defines the fixed scoring fields a reviewer fills in for each
// model submission, their option domains and the defaults used when a stored
// value is missing or out of range.
package rubric

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid rubric")

type Field string

const (
	Correctness        Field = "Correctness"
	ResultMatch        Field = "ResultMatch"
	UserRating         Field = "UserRating"
	VoiceUsed          Field = "VoiceUsed"
	ChartRating        Field = "ChartRating"
	AnalystChartChoice Field = "AnalystChartChoice"
)

// Fields lists the rubric columns in dataset order.
var Fields = []Field{Correctness, ResultMatch, UserRating, VoiceUsed, ChartRating, AnalystChartChoice}

var ChartChoices = []string{"bar", "line", "pie", "scatter", "table", "other"}

type Definition struct {
	Field   Field    `json:"field"`
	Label   string   `json:"label"`
	Help    string   `json:"help"`
	Options []string `json:"options"`
	Default string   `json:"default"`
}

var Definitions = []Definition{
	{Field: Correctness, Label: "Correctness (0 or 1)", Help: "1 if SQL is syntactically and logically correct, 0 otherwise", Options: []string{"0", "1"}, Default: "0"},
	{Field: ResultMatch, Label: "Result Match (0 or 1)", Help: "1 if output matches expectations, 0 otherwise", Options: []string{"0", "1"}, Default: "0"},
	{Field: UserRating, Label: "User Rating (1-5)", Help: "Subjective rating on SQL quality (1-5)", Options: []string{"1", "2", "3", "4", "5"}, Default: "3"},
	{Field: VoiceUsed, Label: "Voice Used", Help: "Mark 0 for all rows", Options: []string{"0"}, Default: "0"},
	{Field: ChartRating, Label: "Chart Rating (1-5)", Help: "Rating on generated chart quality (1-5)", Options: []string{"1", "2", "3", "4", "5"}, Default: "3"},
	{Field: AnalystChartChoice, Label: "Analyst Chart Choice", Help: "Preferred chart type", Options: ChartChoices, Default: ChartChoices[0]},
}

func Lookup(f Field) (Definition, bool) {
	for _, d := range Definitions {
		if d.Field == f {
			return d, true
		}
	}
	return Definition{}, false
}

// Column is the dataset column holding field f for model.
func Column(model string, f Field) string {
	return model + "_" + string(f)
}

type Scores struct {
	Correctness        int    `json:"correctness"`
	ResultMatch        int    `json:"result_match"`
	UserRating         int    `json:"user_rating"`
	VoiceUsed          int    `json:"voice_used"`
	ChartRating        int    `json:"chart_rating"`
	AnalystChartChoice string `json:"analyst_chart_choice"`
}

// Defaults is the policy applied per field when the stored value is absent.
var Defaults = Scores{
	Correctness:        0,
	ResultMatch:        0,
	UserRating:         3,
	VoiceUsed:          0,
	ChartRating:        3,
	AnalystChartChoice: ChartChoices[0],
}

func (s Scores) Validate() error {
	checks := []struct {
		field Field
		value string
	}{
		{Correctness, strconv.Itoa(s.Correctness)},
		{ResultMatch, strconv.Itoa(s.ResultMatch)},
		{UserRating, strconv.Itoa(s.UserRating)},
		{VoiceUsed, strconv.Itoa(s.VoiceUsed)},
		{ChartRating, strconv.Itoa(s.ChartRating)},
		{AnalystChartChoice, s.AnalystChartChoice},
	}
	for _, c := range checks {
		def, _ := Lookup(c.field)
		if !slices.Contains(def.Options, c.value) {
			return fmt.Errorf("%w: %s must be one of %s, got %q", ErrInvalid, c.field, strings.Join(def.Options, ","), c.value)
		}
	}
	return nil
}

// Cells renders the scores as dataset cell values keyed by field.
func (s Scores) Cells() map[Field]string {
	return map[Field]string{
		Correctness:        strconv.Itoa(s.Correctness),
		ResultMatch:        strconv.Itoa(s.ResultMatch),
		UserRating:         strconv.Itoa(s.UserRating),
		VoiceUsed:          strconv.Itoa(s.VoiceUsed),
		ChartRating:        strconv.Itoa(s.ChartRating),
		AnalystChartChoice: s.AnalystChartChoice,
	}
}

type Optional[T any] struct {
	Value T
	Valid bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

func (o Optional[T]) Or(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}

// Recorded is what a dataset row actually holds for one submission.
type Recorded struct {
	Correctness        Optional[int]
	ResultMatch        Optional[int]
	UserRating         Optional[int]
	VoiceUsed          Optional[int]
	ChartRating        Optional[int]
	AnalystChartChoice Optional[string]
}

// Parse reads raw cells. Empty, NaN and out-of-domain values are treated as
// missing.
func Parse(cells map[Field]string) Recorded {
	return Recorded{
		Correctness:        parseInt(Correctness, cells[Correctness]),
		ResultMatch:        parseInt(ResultMatch, cells[ResultMatch]),
		UserRating:         parseInt(UserRating, cells[UserRating]),
		VoiceUsed:          parseInt(VoiceUsed, cells[VoiceUsed]),
		ChartRating:        parseInt(ChartRating, cells[ChartRating]),
		AnalystChartChoice: parseChoice(cells[AnalystChartChoice]),
	}
}

func (r Recorded) WithDefaults() Scores {
	return Scores{
		Correctness:        r.Correctness.Or(Defaults.Correctness),
		ResultMatch:        r.ResultMatch.Or(Defaults.ResultMatch),
		UserRating:         r.UserRating.Or(Defaults.UserRating),
		VoiceUsed:          r.VoiceUsed.Or(Defaults.VoiceUsed),
		ChartRating:        r.ChartRating.Or(Defaults.ChartRating),
		AnalystChartChoice: r.AnalystChartChoice.Or(Defaults.AnalystChartChoice),
	}
}

// parseInt accepts "4" as well as "4.0", which is how float columns
// containing blanks are written by spreadsheet tooling.
func parseInt(f Field, raw string) Optional[int] {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return Optional[int]{}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v != math.Trunc(v) {
		return Optional[int]{}
	}

	n := int(v)
	def, _ := Lookup(f)
	if !slices.Contains(def.Options, strconv.Itoa(n)) {
		return Optional[int]{}
	}
	return Some(n)
}

func parseChoice(raw string) Optional[string] {
	raw = strings.TrimSpace(raw)
	if !slices.Contains(ChartChoices, raw) {
		return Optional[string]{}
	}
	return Some(raw)
}

// NormalizeChoice maps an arbitrary chart tag to a valid choice, falling back
// to the default.
func NormalizeChoice(raw string) string {
	return parseChoice(strings.ToLower(raw)).Or(Defaults.AnalystChartChoice)
}
