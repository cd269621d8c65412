package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examengine/internal/model"
)

const attemptColumns = `id, test_taker_id, exam_id, number, state, snapshot_json, max_score, earned_score,
	started_at, submitted_at, graded_at, duration_seconds, seed, version`

func scanAttempt(sc interface{ Scan(...any) error }) (model.Attempt, error) {
	var a model.Attempt
	var snapshot string
	var earned sql.NullFloat64
	var submitted, graded sql.NullTime
	var seed int64
	err := sc.Scan(&a.ID, &a.TestTakerID, &a.ExamID, &a.Number, &a.State, &snapshot, &a.MaxScore, &earned,
		&a.StartedAt, &submitted, &graded, &a.DurationSeconds, &seed, &a.Version)
	if err != nil {
		return a, notFound(err)
	}
	if err := json.Unmarshal([]byte(snapshot), &a.Snapshot); err != nil {
		return a, fmt.Errorf("attempt %s snapshot: %w", a.ID, err)
	}
	if earned.Valid {
		v := earned.Float64
		a.EarnedScore = &v
	}
	a.SubmittedAt = timePtr(submitted)
	a.GradedAt = timePtr(graded)
	a.Seed = uint64(seed)
	return a, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// FindOpenAttempt returns the IN_PROGRESS attempt of a test-taker for an exam,
// or nil if there is none.
func (s *Store) FindOpenAttempt(ctx context.Context, testTakerID, examID string) (*model.Attempt, error) {
	return findOpenAttempt(ctx, s.db, testTakerID, examID)
}

func findOpenAttempt(ctx context.Context, q queryer, testTakerID, examID string) (*model.Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE test_taker_id = $1 AND exam_id = $2 AND state = $3`,
		testTakerID, examID, model.StateInProgress))
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAttempts returns how many attempts a test-taker has made on an exam.
func (s *Store) CountAttempts(ctx context.Context, testTakerID, examID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_taker_id = $1 AND exam_id = $2`,
		testTakerID, examID).Scan(&n)
	return n, err
}

// openAttemptCheck is the in-transaction lookup CreateAttempt runs before
// inserting. Tests replace it to let a concurrent start win the race.
var openAttemptCheck = findOpenAttempt

// CreateAttempt inserts a new attempt with its snapshot and bumps the usage
// counter of every snapshot question in the same transaction. If another
// attempt is already open for the test-taker and exam, that attempt is
// returned instead and created is false.
func (s *Store) CreateAttempt(ctx context.Context, a model.Attempt) (model.Attempt, bool, error) {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return a, false, fmt.Errorf("encode snapshot: %w", err)
	}

	var existing *model.Attempt
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		open, err := openAttemptCheck(ctx, tx, a.TestTakerID, a.ExamID)
		if err != nil {
			return err
		}
		if open != nil {
			existing = open
			return nil
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(number), 0) + 1 FROM attempts WHERE test_taker_id = $1 AND exam_id = $2`,
			a.TestTakerID, a.ExamID).Scan(&a.Number); err != nil {
			return fmt.Errorf("next attempt number: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO attempts (id, test_taker_id, exam_id, number, state, snapshot_json, max_score,
				earned_score, started_at, duration_seconds, seed, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, 0, $9, 0)`,
			a.ID, a.TestTakerID, a.ExamID, a.Number, a.State, string(snapshot), a.MaxScore,
			a.StartedAt, int64(a.Seed))
		if err != nil {
			return err
		}
		return incrementUsage(ctx, tx, a.Snapshot.QuestionIDs())
	})
	if err != nil {
		if isUniqueViolation(err) {
			slog.Info("concurrent start lost the race, returning open attempt",
				"test_taker", a.TestTakerID, "exam", a.ExamID)
			open, ferr := s.FindOpenAttempt(ctx, a.TestTakerID, a.ExamID)
			if ferr != nil {
				return a, false, ferr
			}
			if open != nil {
				return *open, false, nil
			}
		}
		return a, false, fmt.Errorf("create attempt: %w", err)
	}
	if existing != nil {
		return *existing, false, nil
	}
	return a, true, nil
}

// GetAttempt returns an attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// ListAttempts returns the attempts of an exam ordered by start time.
// An empty examID lists all attempts.
func (s *Store) ListAttempts(ctx context.Context, examID string) ([]model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	var args []any
	if examID != "" {
		query += ` WHERE exam_id = $1`
		args = append(args, examID)
	}
	query += ` ORDER BY started_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateAttempt serializes mutations of one attempt. It bumps the attempt
// version first, which takes the row lock, then re-reads the attempt and all
// its answers and passes them to fn. The answers fn returns are upserted and
// the attempt's state, scores and timestamps are written back.
func (s *Store) UpdateAttempt(ctx context.Context, id string,
	fn func(a *model.Attempt, answers []model.Answer) ([]model.Answer, error)) (model.Attempt, error) {
	var out model.Attempt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE attempts SET version = version + 1 WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrNotFound
		}

		a, err := scanAttempt(tx.QueryRowContext(ctx,
			`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
		if err != nil {
			return err
		}
		answers, err := listAnswers(ctx, tx, id)
		if err != nil {
			return err
		}

		changed, err := fn(&a, answers)
		if err != nil {
			return err
		}
		for _, ans := range changed {
			if err := upsertAnswer(ctx, tx, ans); err != nil {
				return fmt.Errorf("save answer for question %d: %w", ans.QuestionID, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE attempts SET state = $1, earned_score = $2, submitted_at = $3, graded_at = $4,
				duration_seconds = $5
			 WHERE id = $6`,
			a.State, nullFloat(a.EarnedScore), nullTime(a.SubmittedAt), nullTime(a.GradedAt),
			a.DurationSeconds, id)
		if err != nil {
			return fmt.Errorf("update attempt: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}
