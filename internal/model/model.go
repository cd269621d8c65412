package model

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by storage lookups that match no row.
var ErrNotFound = errors.New("not found")

// QuestionType identifies how a question is answered and graded.
type QuestionType string

const (
	TypeTrueFalse    QuestionType = "TRUE_FALSE"
	TypeSingleChoice QuestionType = "SINGLE_CHOICE"
	TypeMultiChoice  QuestionType = "MULTI_CHOICE"
	TypeShortAnswer  QuestionType = "SHORT_ANSWER"
	TypeEssay        QuestionType = "ESSAY"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeTrueFalse, TypeSingleChoice, TypeMultiChoice, TypeShortAnswer, TypeEssay:
		return true
	}
	return false
}

// Objective reports whether answers of this type are graded automatically.
func (t QuestionType) Objective() bool {
	switch t {
	case TypeTrueFalse, TypeSingleChoice, TypeMultiChoice:
		return true
	}
	return false
}

// HasOptions reports whether the type carries discrete options.
func (t QuestionType) HasOptions() bool {
	return t == TypeSingleChoice || t == TypeMultiChoice
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Option is one selectable choice of a choice question.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question is a question bank record.
type Question struct {
	ID              int64        `json:"id"`
	Type            QuestionType `json:"type"`
	Difficulty      Difficulty   `json:"difficulty"`
	CategoryID      string       `json:"category_id"`
	Content         string       `json:"content"`
	Options         []Option     `json:"options,omitempty"`
	CorrectBool     *bool        `json:"correct_bool,omitempty"`
	CorrectKeys     []string     `json:"correct_keys,omitempty"`
	ReferenceAnswer string       `json:"reference_answer,omitempty"`
	Rubric          string       `json:"rubric,omitempty"`
	MaxScore        float64      `json:"max_score"`
	UsageCount      int64        `json:"usage_count"`
	Active          bool         `json:"active"`
	CreatedAt       time.Time    `json:"created_at"`
}

// CandidateFilter narrows a question bank lookup. Empty fields match anything.
type CandidateFilter struct {
	CategoryID string
	Type       QuestionType
	Difficulty Difficulty
}

// DistributionRule describes how many questions of a category to draw.
// Either the difficulty split or Quantity is used, never both.
type DistributionRule struct {
	CategoryID string       `json:"category_id,omitempty" yaml:"category"`
	Type       QuestionType `json:"type,omitempty" yaml:"type"`
	Easy       int          `json:"easy,omitempty" yaml:"easy"`
	Medium     int          `json:"medium,omitempty" yaml:"medium"`
	Hard       int          `json:"hard,omitempty" yaml:"hard"`
	Quantity   int          `json:"quantity,omitempty" yaml:"quantity"`
	Points     float64      `json:"points,omitempty" yaml:"points"`
}

// SplitTotal returns the number of questions requested by the difficulty split.
func (r DistributionRule) SplitTotal() int {
	return r.Easy + r.Medium + r.Hard
}

// Total returns the number of questions the rule requests.
func (r DistributionRule) Total() int {
	if r.SplitTotal() > 0 {
		return r.SplitTotal()
	}
	return r.Quantity
}

// Exam holds the configuration an attempt is assembled from.
type Exam struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Published        bool               `json:"published"`
	OpensAt          *time.Time         `json:"opens_at,omitempty"`
	ClosesAt         *time.Time         `json:"closes_at,omitempty"`
	MaxAttempts      int                `json:"max_attempts"`
	ShuffleQuestions bool               `json:"shuffle_questions"`
	ShuffleOptions   bool               `json:"shuffle_options"`
	Rules            []DistributionRule `json:"rules"`
	CreatedAt        time.Time          `json:"created_at"`
}

// AttemptState represents the lifecycle state of an attempt.
type AttemptState string

const (
	StateInProgress AttemptState = "IN_PROGRESS"
	StateSubmitted  AttemptState = "SUBMITTED"
	StateGraded     AttemptState = "GRADED"
)

// Attempt is one test-taker's instance of taking an exam.
type Attempt struct {
	ID              string       `json:"id"`
	TestTakerID     string       `json:"test_taker_id"`
	ExamID          string       `json:"exam_id"`
	Number          int          `json:"number"`
	State           AttemptState `json:"state"`
	Snapshot        Snapshot     `json:"-"`
	MaxScore        float64      `json:"max_score"`
	EarnedScore     *float64     `json:"earned_score,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	GradedAt        *time.Time   `json:"graded_at,omitempty"`
	DurationSeconds int64        `json:"duration_seconds"`
	Seed            uint64       `json:"-"`
	Version         int64        `json:"-"`
}

// Answer is a test-taker's response to one snapshot question.
type Answer struct {
	ID           int64           `json:"id"`
	AttemptID    string          `json:"attempt_id"`
	QuestionID   int64           `json:"question_id"`
	QuestionType QuestionType    `json:"question_type"`
	MaxScore     float64         `json:"max_score"`
	Payload      json.RawMessage `json:"payload"`
	Correct      *bool           `json:"correct,omitempty"`
	Score        *float64        `json:"score,omitempty"`
	GraderID     string          `json:"grader_id,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	GradedAt     *time.Time      `json:"graded_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Graded reports whether the answer has a score.
func (a Answer) Graded() bool {
	return a.Score != nil
}

// AnswerInput is a raw answer as sent by a test-taker.
type AnswerInput struct {
	QuestionID int64           `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
}

// GradingIssue records a per-answer problem found while auto-grading.
type GradingIssue struct {
	QuestionID int64  `json:"question_id"`
	Reason     string `json:"reason"`
}

// PendingFilter narrows the pending grading list.
type PendingFilter struct {
	ExamID string
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps a page to sane bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// PendingItem is a subjective answer waiting for a grader.
type PendingItem struct {
	AnswerID     int64           `json:"answer_id"`
	AttemptID    string          `json:"attempt_id"`
	ExamID       string          `json:"exam_id"`
	TestTakerID  string          `json:"test_taker_id"`
	QuestionID   int64           `json:"question_id"`
	QuestionType QuestionType    `json:"question_type"`
	Content      string          `json:"content"`
	MaxScore     float64         `json:"max_score"`
	Payload      json.RawMessage `json:"payload"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

// PageMeta describes a page of results.
type PageMeta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
}

// PendingPage is one page of the pending grading list.
type PendingPage struct {
	Items []PendingItem `json:"items"`
	Meta  PageMeta      `json:"meta"`
}

// GradeSuggestion is an advisory score proposed by the grading assistant.
type GradeSuggestion struct {
	AnswerID int64   `json:"answer_id"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Feedback string  `json:"feedback"`
}

type subjectCtxKey struct{}

// ContextWithSubject stores the authenticated caller id in the request context.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectCtxKey{}, subject)
}

// SubjectFromContext retrieves the authenticated caller id, or "".
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectCtxKey{}).(string)
	return s
}

type roleCtxKey struct{}

// ContextWithRole stores the caller's role in the request context.
func ContextWithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleCtxKey{}, role)
}

// RoleFromContext retrieves the caller's role, or "".
func RoleFromContext(ctx context.Context) string {
	r, _ := ctx.Value(roleCtxKey{}).(string)
	return r
}
