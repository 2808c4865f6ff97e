package models

import "time"

type QueryRecord struct {
	ID           string    `json:"id"`
	Engine       string    `json:"engine"`
	Database     string    `json:"database"`
	QueryHash    string    `json:"query_hash"`
	QueryText    string    `json:"query_text"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RowCount     int       `json:"row_count"`
	LatencyMS    int       `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type RubricSubmission struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	QuestionID         string    `json:"question_id"`
	Model              string    `json:"model"`
	Correctness        int       `json:"correctness"`
	ResultMatch        int       `json:"result_match"`
	UserRating         int       `json:"user_rating"`
	VoiceUsed          int       `json:"voice_used"`
	ChartRating        int       `json:"chart_rating"`
	AnalystChartChoice string    `json:"analyst_chart_choice"`
	CreatedAt          time.Time `json:"created_at"`
}

type DatasetEvent struct {
	ID        int       `json:"id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}
