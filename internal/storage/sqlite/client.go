package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

// Client is the audit journal: rubric submissions, dataset file events and
// query history. The CSV dataset stays the source of truth.
type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return NewClientFromDB(db), nil
}

func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db, now: time.Now}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rubric_submissions (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		question_id TEXT NOT NULL,
		model TEXT NOT NULL,
		correctness INTEGER NOT NULL,
		result_match INTEGER NOT NULL,
		user_rating INTEGER NOT NULL,
		voice_used INTEGER NOT NULL,
		chart_rating INTEGER NOT NULL,
		analyst_chart_choice TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_pair ON rubric_submissions(question_id, model);
	CREATE INDEX IF NOT EXISTS idx_submissions_created ON rubric_submissions(created_at);

	CREATE TABLE IF NOT EXISTS dataset_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		rows INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dataset_events_created ON dataset_events(created_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		database_name TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		query_text TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		row_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_hash ON query_history(query_hash);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertSubmission(ctx context.Context, s *models.RubricSubmission) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = c.now()
	}

	query := `
		INSERT INTO rubric_submissions (id, session_id, question_id, model, correctness, result_match,
			user_rating, voice_used, chart_rating, analyst_chart_choice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		s.ID,
		s.SessionID,
		s.QuestionID,
		s.Model,
		s.Correctness,
		s.ResultMatch,
		s.UserRating,
		s.VoiceUsed,
		s.ChartRating,
		s.AnalystChartChoice,
		s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}

	logger.Debug("Submission recorded",
		zap.String("submission_id", s.ID),
		zap.String("question_id", s.QuestionID),
		zap.String("model", s.Model),
	)
	return nil
}

// ListSubmissions returns the newest submissions first. Empty questionID or
// model match everything.
func (c *Client) ListSubmissions(ctx context.Context, questionID, model string, limit int) ([]models.RubricSubmission, error) {
	query := `
		SELECT id, session_id, question_id, model, correctness, result_match, user_rating,
			voice_used, chart_rating, analyst_chart_choice, created_at
		FROM rubric_submissions
		WHERE (? = '' OR question_id = ?) AND (? = '' OR model = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, questionID, questionID, model, model, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	submissions := []models.RubricSubmission{}
	for rows.Next() {
		var s models.RubricSubmission
		var sessionID sql.NullString
		var createdAt int64

		err := rows.Scan(
			&s.ID,
			&sessionID,
			&s.QuestionID,
			&s.Model,
			&s.Correctness,
			&s.ResultMatch,
			&s.UserRating,
			&s.VoiceUsed,
			&s.ChartRating,
			&s.AnalystChartChoice,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}

		s.SessionID = sessionID.String
		s.CreatedAt = time.Unix(createdAt, 0)
		submissions = append(submissions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}

	return submissions, nil
}

func (c *Client) RecordDatasetEvent(kind, path string, rows int) error {
	_, err := c.db.Exec(
		`INSERT INTO dataset_events (kind, path, rows, created_at) VALUES (?, ?, ?, ?)`,
		kind,
		path,
		rows,
		c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dataset event: %w", err)
	}
	return nil
}

func (c *Client) ListDatasetEvents(ctx context.Context, limit int) ([]models.DatasetEvent, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, kind, path, rows, created_at FROM dataset_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset events: %w", err)
	}
	defer rows.Close()

	events := []models.DatasetEvent{}
	for rows.Next() {
		var e models.DatasetEvent
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Path, &e.Rows, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset event: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dataset events: %w", err)
	}

	return events, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = c.now()
	}

	query := `
		INSERT INTO query_history (id, engine, database_name, query_hash, query_text, status,
			error_message, row_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		record.ID,
		record.Engine,
		record.Database,
		record.QueryHash,
		record.QueryText,
		record.Status,
		record.ErrorMessage,
		record.RowCount,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("query_hash", record.QueryHash),
		zap.String("status", record.Status),
	)
	return nil
}

func (c *Client) GetQueryHistory(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, engine, database_name, query_hash, query_text, status, error_message,
			row_count, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		var r models.QueryRecord
		var errMsg sql.NullString
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Engine, &r.Database, &r.QueryHash, &r.QueryText, &r.Status,
			&errMsg, &r.RowCount, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.ErrorMessage = errMsg.String
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query history: %w", err)
	}

	return records, nil
}
