package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

const questionColumns = `id, type, difficulty, category_id, content, options_json, correct_json,
	reference_answer, rubric, max_score, usage_count, active, created_at`

func encodeCorrect(q model.Question) (string, error) {
	var v any
	switch q.Type {
	case model.TypeTrueFalse:
		v = q.CorrectBool
	case model.TypeSingleChoice, model.TypeMultiChoice:
		v = q.CorrectKeys
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeCorrect(q *model.Question, raw string) error {
	switch q.Type {
	case model.TypeTrueFalse:
		return json.Unmarshal([]byte(raw), &q.CorrectBool)
	case model.TypeSingleChoice, model.TypeMultiChoice:
		return json.Unmarshal([]byte(raw), &q.CorrectKeys)
	}
	return nil
}

func scanQuestion(sc interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	var opts, correct string
	if err := sc.Scan(&q.ID, &q.Type, &q.Difficulty, &q.CategoryID, &q.Content, &opts, &correct,
		&q.ReferenceAnswer, &q.Rubric, &q.MaxScore, &q.UsageCount, &q.Active, &q.CreatedAt); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return q, fmt.Errorf("question %d options: %w", q.ID, err)
	}
	if err := decodeCorrect(&q, correct); err != nil {
		return q, fmt.Errorf("question %d correct answer: %w", q.ID, err)
	}
	return q, nil
}

// InsertQuestion stores a question and returns its id.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return insertQuestion(ctx, s.db, q)
}

func insertQuestion(ctx context.Context, db queryer, q model.Question) (int64, error) {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, err
	}
	if q.Options == nil {
		opts = []byte("[]")
	}
	correct, err := encodeCorrect(q)
	if err != nil {
		return 0, err
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	var id int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO questions (type, difficulty, category_id, content, options_json, correct_json,
			reference_answer, rubric, max_score, usage_count, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		q.Type, q.Difficulty, q.CategoryID, q.Content, string(opts), correct,
		q.ReferenceAnswer, q.Rubric, q.MaxScore, q.UsageCount, q.Active, q.CreatedAt,
	).Scan(&id)
	return id, err
}

// UpdateQuestion overwrites the mutable fields of a bank question.
func (s *Store) UpdateQuestion(ctx context.Context, q model.Question) error {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	if q.Options == nil {
		opts = []byte("[]")
	}
	correct, err := encodeCorrect(q)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET type = $1, difficulty = $2, category_id = $3, content = $4,
			options_json = $5, correct_json = $6, reference_answer = $7, rubric = $8,
			max_score = $9, active = $10
		 WHERE id = $11`,
		q.Type, q.Difficulty, q.CategoryID, q.Content, string(opts), correct,
		q.ReferenceAnswer, q.Rubric, q.MaxScore, q.Active, q.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteQuestion removes a question from the bank. Attempts keep their snapshot.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	return err
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	return q, notFound(err)
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&n)
	return n, err
}

// FindCandidates returns active questions matching the filter, least used first.
// Empty filter fields match anything.
func (s *Store) FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE active = $1`
	args := []any{true}
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		query += ` AND category_id = $` + strconv.Itoa(len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if f.Difficulty != "" {
		args = append(args, f.Difficulty)
		query += ` AND difficulty = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY usage_count ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// IncrementUsage atomically bumps the usage counter of each question.
// An id listed more than once is bumped once.
func (s *Store) IncrementUsage(ctx context.Context, ids []int64) error {
	return incrementUsage(ctx, s.db, ids)
}

func incrementUsage(ctx context.Context, q queryer, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	_, err := q.ExecContext(ctx,
		`UPDATE questions SET usage_count = usage_count + 1 WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	return err
}
