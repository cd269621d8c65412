package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

// UpsertExam creates or replaces an exam configuration.
func (s *Store) UpsertExam(ctx context.Context, e model.Exam) error {
	return upsertExam(ctx, s.db, e)
}

func upsertExam(ctx context.Context, db queryer, e model.Exam) error {
	rules, err := json.Marshal(e.Rules)
	if err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO exams (id, title, published, opens_at, closes_at, max_attempts,
			shuffle_questions, shuffle_options, rules_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			published = excluded.published,
			opens_at = excluded.opens_at,
			closes_at = excluded.closes_at,
			max_attempts = excluded.max_attempts,
			shuffle_questions = excluded.shuffle_questions,
			shuffle_options = excluded.shuffle_options,
			rules_json = excluded.rules_json`,
		e.ID, e.Title, e.Published, nullTime(e.OpensAt), nullTime(e.ClosesAt), e.MaxAttempts,
		e.ShuffleQuestions, e.ShuffleOptions, string(rules), e.CreatedAt,
	)
	return err
}

// GetExam returns an exam by id.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	return scanExam(s.db.QueryRowContext(ctx,
		`SELECT id, title, published, opens_at, closes_at, max_attempts,
			shuffle_questions, shuffle_options, rules_json, created_at
		 FROM exams WHERE id = $1`, id))
}

// ListExams returns all exams ordered by id.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, published, opens_at, closes_at, max_attempts,
			shuffle_questions, shuffle_options, rules_json, created_at
		 FROM exams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

func scanExam(sc interface{ Scan(...any) error }) (model.Exam, error) {
	var e model.Exam
	var opens, closes sql.NullTime
	var rules string
	err := sc.Scan(&e.ID, &e.Title, &e.Published, &opens, &closes, &e.MaxAttempts,
		&e.ShuffleQuestions, &e.ShuffleOptions, &rules, &e.CreatedAt)
	if err != nil {
		return e, notFound(err)
	}
	e.OpensAt = timePtr(opens)
	e.ClosesAt = timePtr(closes)
	if err := json.Unmarshal([]byte(rules), &e.Rules); err != nil {
		return e, err
	}
	return e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
