package model

import (
	"encoding/json"
	"time"
)

// AttemptResult is the graded view of a finished attempt.
type AttemptResult struct {
	Summary    ResultSummary    `json:"summary"`
	Questions  []QuestionResult `json:"questions"`
	Categories []CategoryStats  `json:"categories"`
}

// ResultSummary holds attempt-level totals.
type ResultSummary struct {
	AttemptID       string       `json:"attempt_id"`
	ExamID          string       `json:"exam_id"`
	TestTakerID     string       `json:"test_taker_id"`
	Number          int          `json:"number"`
	State           AttemptState `json:"state"`
	MaxScore        float64      `json:"max_score"`
	EarnedScore     float64      `json:"earned_score"`
	Percentage      float64      `json:"percentage"`
	DurationSeconds int64        `json:"duration_seconds"`
	Questions       int          `json:"questions"`
	Answered        int          `json:"answered"`
	Correct         int          `json:"correct"`
	Pending         int          `json:"pending"`
	StartedAt       time.Time    `json:"started_at"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	GradedAt        *time.Time   `json:"graded_at,omitempty"`
}

// QuestionResult is the per-question breakdown of a result.
type QuestionResult struct {
	Order      int             `json:"order"`
	QuestionID int64           `json:"question_id"`
	Type       QuestionType    `json:"type"`
	CategoryID string          `json:"category_id"`
	Difficulty Difficulty      `json:"difficulty"`
	Points     float64         `json:"points"`
	Answered   bool            `json:"answered"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Correct    *bool           `json:"correct,omitempty"`
	Score      *float64        `json:"score,omitempty"`
	Feedback   string          `json:"feedback,omitempty"`
	Pending    bool            `json:"pending"`
}

// CategoryStats aggregates results per category.
type CategoryStats struct {
	CategoryID string  `json:"category_id"`
	Questions  int     `json:"questions"`
	Answered   int     `json:"answered"`
	Correct    int     `json:"correct"`
	Earned     float64 `json:"earned"`
	Max        float64 `json:"max"`
}

// ExamExport is the top-level JSON structure for attempt export.
type ExamExport struct {
	ExamID     string          `json:"exam_id"`
	Title      string          `json:"title"`
	ExportedAt time.Time       `json:"exported_at"`
	Attempts   []AttemptResult `json:"attempts"`
}
