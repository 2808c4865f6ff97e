package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql-eval/backend/internal/storage/models"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *Client) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := NewClientFromDB(db)
	client.now = func() time.Time { return time.Unix(1700000000, 0) }
	return mock, client
}

func TestInitSchema(t *testing.T) {
	mock, client := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rubric_submissions").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, client.InitSchema())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSubmission(t *testing.T) {
	mock, client := setupMockDB(t)
	mock.ExpectExec("INSERT INTO rubric_submissions").
		WithArgs(
			sqlmock.AnyArg(), // id
			"session-1",
			"7",
			"gpt4_RAG",
			1, 1, 5, 0, 4,
			"bar",
			int64(1700000000),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := &models.RubricSubmission{
		SessionID:          "session-1",
		QuestionID:         "7",
		Model:              "gpt4_RAG",
		Correctness:        1,
		ResultMatch:        1,
		UserRating:         5,
		ChartRating:        4,
		AnalystChartChoice: "bar",
	}
	require.NoError(t, client.InsertSubmission(context.Background(), s))
	assert.NotEmpty(t, s.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSubmissions(t *testing.T) {
	mock, client := setupMockDB(t)
	cols := []string{"id", "session_id", "question_id", "model", "correctness", "result_match", "user_rating",
		"voice_used", "chart_rating", "analyst_chart_choice", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM rubric_submissions").
		WithArgs("7", "7", "", "", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("s2", nil, "7", "b_RAG", 0, 0, 2, 0, 1, "line", int64(1700000100)).
			AddRow("s1", "sess", "7", "a_NoRAG", 1, 1, 5, 0, 4, "bar", int64(1700000000)))

	got, err := client.ListSubmissions(context.Background(), "7", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID)
	assert.Equal(t, "", got[0].SessionID)
	assert.Equal(t, "sess", got[1].SessionID)
	assert.Equal(t, 5, got[1].UserRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDatasetEvent(t *testing.T) {
	mock, client := setupMockDB(t)
	mock.ExpectExec("INSERT INTO dataset_events").
		WithArgs("finalized", "data/eval.csv", 12, int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.RecordDatasetEvent("finalized", "data/eval.csv", 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDatasetEvent_Error(t *testing.T) {
	mock, client := setupMockDB(t)
	mock.ExpectExec("INSERT INTO dataset_events").WillReturnError(errors.New("disk I/O error"))

	err := client.RecordDatasetEvent("saved", "w.csv", 1)
	assert.ErrorContains(t, err, "failed to insert dataset event")
}

func TestInsertAndReadQueryHistory(t *testing.T) {
	mock, client := setupMockDB(t)
	mock.ExpectExec("INSERT INTO query_history").
		WithArgs(sqlmock.AnyArg(), "athena", "edw_prod", "abc", "SELECT 1", "success", "", 1, 120, int64(1700000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := &models.QueryRecord{
		Engine:    "athena",
		Database:  "edw_prod",
		QueryHash: "abc",
		QueryText: "SELECT 1",
		Status:    "success",
		RowCount:  1,
		LatencyMS: 120,
	}
	require.NoError(t, client.InsertQueryRecord(context.Background(), rec))

	cols := []string{"id", "engine", "database_name", "query_hash", "query_text", "status", "error_message",
		"row_count", "latency_ms", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM query_history").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(rec.ID, "athena", "edw_prod", "abc", "SELECT 1", "success", nil, 1, 120, int64(1700000000)))

	history, err := client.GetQueryHistory(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)
	assert.Equal(t, "edw_prod", history[0].Database)
	assert.NoError(t, mock.ExpectationsWereMet())
}
