package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/pavelanni/examengine/internal/model"
)

const answerColumns = `id, attempt_id, question_id, question_type, max_score, payload, correct, score,
	grader_id, feedback, graded_at, updated_at`

func scanAnswer(sc interface{ Scan(...any) error }) (model.Answer, error) {
	var a model.Answer
	var payload string
	var correct sql.NullBool
	var score sql.NullFloat64
	var graded sql.NullTime
	err := sc.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.QuestionType, &a.MaxScore, &payload, &correct, &score,
		&a.GraderID, &a.Feedback, &graded, &a.UpdatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.Payload = json.RawMessage(payload)
	if correct.Valid {
		v := correct.Bool
		a.Correct = &v
	}
	if score.Valid {
		v := score.Float64
		a.Score = &v
	}
	a.GradedAt = timePtr(graded)
	return a, nil
}

// ListAnswers returns the answers of an attempt ordered by id.
func (s *Store) ListAnswers(ctx context.Context, attemptID string) ([]model.Answer, error) {
	return listAnswers(ctx, s.db, attemptID)
}

func listAnswers(ctx context.Context, q queryer, attemptID string) ([]model.Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE attempt_id = $1 ORDER BY id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetAnswer returns an answer by id.
func (s *Store) GetAnswer(ctx context.Context, id int64) (model.Answer, error) {
	return scanAnswer(s.db.QueryRowContext(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE id = $1`, id))
}

func upsertAnswer(ctx context.Context, q queryer, a model.Answer) error {
	var correct sql.NullBool
	if a.Correct != nil {
		correct = sql.NullBool{Bool: *a.Correct, Valid: true}
	}
	payload := string(a.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO answers (attempt_id, question_id, question_type, max_score, payload, correct, score,
			grader_id, feedback, graded_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			question_type = excluded.question_type,
			max_score = excluded.max_score,
			payload = excluded.payload,
			correct = excluded.correct,
			score = excluded.score,
			grader_id = excluded.grader_id,
			feedback = excluded.feedback,
			graded_at = excluded.graded_at,
			updated_at = excluded.updated_at`,
		a.AttemptID, a.QuestionID, a.QuestionType, a.MaxScore, payload, correct, nullFloat(a.Score),
		a.GraderID, a.Feedback, nullTime(a.GradedAt), a.UpdatedAt,
	)
	return err
}

const pendingWhere = ` FROM answers ans
	JOIN attempts att ON att.id = ans.attempt_id
	WHERE att.state IN ('SUBMITTED', 'GRADED')
	  AND ans.score IS NULL
	  AND ans.question_type IN ('SHORT_ANSWER', 'ESSAY')`

// ListPending returns ungraded subjective answers of submitted attempts,
// oldest submission first, together with the total count.
func (s *Store) ListPending(ctx context.Context, f model.PendingFilter, p model.Page) ([]model.PendingItem, int, error) {
	p = p.Normalize()
	where := pendingWhere
	var args []any
	if f.ExamID != "" {
		where += ` AND att.exam_id = $1`
		args = append(args, f.ExamID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitArg := len(args) + 1
	query := `SELECT ans.id, ans.attempt_id, att.exam_id, att.test_taker_id, ans.question_id,
		ans.question_type, ans.max_score, ans.payload, att.submitted_at` + where +
		` ORDER BY att.submitted_at ASC, ans.id ASC LIMIT $` + strconv.Itoa(limitArg) + ` OFFSET $` + strconv.Itoa(limitArg+1)
	args = append(args, p.Size, p.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []model.PendingItem
	for rows.Next() {
		var it model.PendingItem
		var payload string
		if err := rows.Scan(&it.AnswerID, &it.AttemptID, &it.ExamID, &it.TestTakerID, &it.QuestionID,
			&it.QuestionType, &it.MaxScore, &payload, &it.SubmittedAt); err != nil {
			return nil, 0, err
		}
		it.Payload = json.RawMessage(payload)
		items = append(items, it)
	}
	return items, total, rows.Err()
}
