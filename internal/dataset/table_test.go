package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql-eval/backend/internal/rubric"
)

const fixtureHeader = "QuestionID,QueryText,Domain,Complexity,GoldSQL," +
	"modelA_SQL,modelA_Correctness,modelA_ResultMatch,modelA_UserRating,modelA_VoiceUsed,modelA_ChartRating,modelA_AnalystChartChoice," +
	"modelB_SQL,modelB_Correctness,modelB_ResultMatch,modelB_UserRating,modelB_VoiceUsed,modelB_ChartRating,modelB_AnalystChartChoice"

const fixtureCSV = fixtureHeader + "\n" +
	`1,How many orders?,sales,easy,SELECT count(*) FROM orders,"SELECT count(*) FROM orders",1,1,5,0,4,bar,SELECT 1,,,,,,` + "\n" +
	`2,"Revenue, by month",finance,hard,SELECT m FROM r,SELECT m FROM r,,,,,,,SELECT 2,0,0,2,0,1.0,line` + "\n"

func mustParse(t *testing.T, data string) *Table {
	t.Helper()
	table, err := Parse(strings.NewReader(data))
	require.NoError(t, err)
	return table
}

func TestParse_DiscoversModelsAndQuestions(t *testing.T) {
	table := mustParse(t, fixtureCSV)

	assert.Equal(t, []string{"modelA", "modelB"}, table.Models())
	assert.Equal(t, []string{"1", "2"}, table.QuestionIDs())
	assert.Equal(t, 2, table.Len())

	q, err := table.Question("2")
	require.NoError(t, err)
	assert.Equal(t, "Revenue, by month", q.QueryText)
	assert.Equal(t, "finance", q.Domain)
	assert.Equal(t, "SELECT m FROM r", q.GoldSQL)
}

func TestParse_NoModels(t *testing.T) {
	table := mustParse(t, "QuestionID,QueryText,Domain,Complexity,GoldSQL\n1,q,d,c,SELECT 1\n")
	assert.Empty(t, table.Models())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty file", data: ""},
		{name: "missing gold column", data: "QuestionID,QueryText,Domain,Complexity\n1,q,d,c\n"},
		{name: "ragged row", data: "QuestionID,QueryText,Domain,Complexity,GoldSQL\n1,q,d\n"},
		{name: "duplicate question id", data: "QuestionID,QueryText,Domain,Complexity,GoldSQL\n1,q,d,c,s\n1,q,d,c,s\n"},
		{name: "empty question id", data: "QuestionID,QueryText,Domain,Complexity,GoldSQL\n ,q,d,c,s\n"},
		{name: "model without rubric columns", data: "QuestionID,QueryText,Domain,Complexity,GoldSQL,m_SQL\n1,q,d,c,s,x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestSubmission_AppliesDefaults(t *testing.T) {
	table := mustParse(t, fixtureCSV)

	recorded, err := table.Submission("1", "modelA")
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM orders", recorded.SQL)
	assert.Equal(t, rubric.Scores{Correctness: 1, ResultMatch: 1, UserRating: 5, ChartRating: 4, AnalystChartChoice: "bar"}, recorded.Scores)

	blank, err := table.Submission("1", "modelB")
	require.NoError(t, err)
	assert.Equal(t, rubric.Defaults, blank.Scores)

	float, err := table.Submission("2", "modelB")
	require.NoError(t, err)
	assert.Equal(t, 1, float.Scores.ChartRating)
	assert.Equal(t, "line", float.Scores.AnalystChartChoice)
}

func TestSubmission_NotFound(t *testing.T) {
	table := mustParse(t, fixtureCSV)

	_, err := table.Submission("99", "modelA")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = table.Submission("1", "modelZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetRubric_TouchesOnlyTargetCells(t *testing.T) {
	table := mustParse(t, fixtureCSV)
	before := table.Clone()

	scores := rubric.Scores{Correctness: 1, ResultMatch: 0, UserRating: 2, ChartRating: 5, AnalystChartChoice: "pie"}
	require.NoError(t, table.SetRubric("2", "modelA", scores))

	header := table.Header()
	target := map[string]bool{}
	for _, f := range rubric.Fields {
		target[rubric.Column("modelA", f)] = true
	}

	for i := 0; i < table.Len(); i++ {
		got, want := table.Row(i), before.Row(i)
		for c, name := range header {
			if i == 1 && target[name] {
				continue
			}
			assert.Equal(t, want[c], got[c], "row %d column %s", i, name)
		}
	}

	sub, err := table.Submission("2", "modelA")
	require.NoError(t, err)
	assert.Equal(t, scores, sub.Scores)
	assert.Equal(t, "0", sub.Raw[rubric.VoiceUsed])
}

func TestSetRubric_RejectsInvalidScores(t *testing.T) {
	table := mustParse(t, fixtureCSV)

	err := table.SetRubric("1", "modelA", rubric.Scores{Correctness: 3, UserRating: 3, ChartRating: 3, AnalystChartChoice: "bar"})
	assert.ErrorIs(t, err, rubric.ErrInvalid)
}

func TestEncode_RoundTrip(t *testing.T) {
	table := mustParse(t, fixtureCSV)

	data, err := table.Bytes()
	require.NoError(t, err)

	again := mustParse(t, string(data))
	assert.Equal(t, table.Header(), again.Header())
	for i := 0; i < table.Len(); i++ {
		assert.Equal(t, table.Row(i), again.Row(i))
	}
}
