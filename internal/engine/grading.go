package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

// Assistant proposes scores for subjective answers. Suggestions are
// advisory and never stored as grades.
type Assistant interface {
	SuggestScore(ctx context.Context, q model.SnapshotQuestion, answer model.Answer) (model.GradeSuggestion, error)
}

// Coordinator applies human grades to subjective answers.
type Coordinator struct {
	attempts  AttemptStore
	assistant Assistant
	now       func() time.Time
}

// NewCoordinator creates a grading coordinator. assistant may be nil.
func NewCoordinator(attempts AttemptStore, assistant Assistant, opts ...Option) *Coordinator {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{attempts: attempts, assistant: assistant, now: o.now}
}

func answerNotFound(id int64) error {
	return newError(KindAnswerNotFound, map[string]any{"answer_id": id}, "answer %d not found", id)
}

// GradeAnswer records a grader's score for a subjective answer and
// re-evaluates whether the owning attempt is fully graded.
func (c *Coordinator) GradeAnswer(ctx context.Context, answerID int64, score float64, feedback, graderID string) error {
	ans, err := c.attempts.GetAnswer(ctx, answerID)
	if errors.Is(err, model.ErrNotFound) {
		return answerNotFound(answerID)
	}
	if err != nil {
		return fmt.Errorf("get answer: %w", err)
	}
	if ans.QuestionType.Objective() {
		return newError(KindNotGradable, map[string]any{"answer_id": answerID, "type": ans.QuestionType},
			"%s answers are graded automatically", ans.QuestionType)
	}
	if math.IsNaN(score) || score < 0 || score > ans.MaxScore {
		return newError(KindOutOfRange, map[string]any{"answer_id": answerID, "score": score, "max_score": ans.MaxScore},
			"score %g is outside 0..%g", score, ans.MaxScore)
	}

	now := c.now()
	finalized := false
	updated, err := c.attempts.UpdateAttempt(ctx, ans.AttemptID, func(a *model.Attempt, answers []model.Answer) ([]model.Answer, error) {
		if a.State == model.StateInProgress {
			return nil, newError(KindInvalidState, map[string]any{"attempt_id": a.ID, "state": a.State},
				"attempt has not been submitted")
		}
		idx := -1
		for i := range answers {
			if answers[i].ID == answerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, answerNotFound(answerID)
		}
		target := &answers[idx]
		correct := score == target.MaxScore
		target.Score = &score
		target.Correct = &correct
		target.Feedback = feedback
		target.GraderID = graderID
		target.GradedAt = &now
		target.UpdatedAt = now

		before := a.State
		recompute(a, answers, now)
		finalized = before != a.State
		return []model.Answer{*target}, nil
	})
	if errors.Is(err, model.ErrNotFound) {
		return attemptNotFound(ans.AttemptID)
	}
	if err != nil {
		return err
	}
	slog.Info("answer graded", "answer", answerID, "attempt", updated.ID, "grader", graderID, "score", score)
	if finalized {
		slog.Info("attempt graded", "attempt", updated.ID, "earned", *updated.EarnedScore, "max", updated.MaxScore)
	}
	return nil
}

// ListPending returns a page of subjective answers awaiting a grader, oldest
// submission first.
func (c *Coordinator) ListPending(ctx context.Context, f model.PendingFilter, p model.Page) (model.PendingPage, error) {
	p = p.Normalize()
	items, total, err := c.attempts.ListPending(ctx, f, p)
	if err != nil {
		return model.PendingPage{}, fmt.Errorf("list pending: %w", err)
	}

	snapshots := make(map[string]model.Snapshot)
	for i := range items {
		snap, ok := snapshots[items[i].AttemptID]
		if !ok {
			a, err := c.attempts.GetAttempt(ctx, items[i].AttemptID)
			if err != nil {
				return model.PendingPage{}, fmt.Errorf("get attempt %s: %w", items[i].AttemptID, err)
			}
			snap = a.Snapshot
			snapshots[a.ID] = snap
		}
		if q, ok := snap.Find(items[i].QuestionID); ok {
			items[i].Content = q.Content
		}
	}
	if items == nil {
		items = []model.PendingItem{}
	}

	pages := 0
	if total > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return model.PendingPage{
		Items: items,
		Meta:  model.PageMeta{Total: total, Page: p.Number, PerPage: p.Size, Pages: pages},
	}, nil
}

// SuggestGrade asks the grading assistant for a proposed score.
func (c *Coordinator) SuggestGrade(ctx context.Context, answerID int64) (model.GradeSuggestion, error) {
	if c.assistant == nil {
		return model.GradeSuggestion{}, newError(KindUnavailable, nil, "grading assistant is not configured")
	}
	ans, err := c.attempts.GetAnswer(ctx, answerID)
	if errors.Is(err, model.ErrNotFound) {
		return model.GradeSuggestion{}, answerNotFound(answerID)
	}
	if err != nil {
		return model.GradeSuggestion{}, fmt.Errorf("get answer: %w", err)
	}
	if ans.QuestionType.Objective() {
		return model.GradeSuggestion{}, newError(KindNotGradable, map[string]any{"answer_id": answerID},
			"%s answers are graded automatically", ans.QuestionType)
	}
	a, err := c.attempts.GetAttempt(ctx, ans.AttemptID)
	if err != nil {
		return model.GradeSuggestion{}, fmt.Errorf("get attempt: %w", err)
	}
	q, ok := a.Snapshot.Find(ans.QuestionID)
	if !ok {
		return model.GradeSuggestion{}, answerNotFound(answerID)
	}

	s, err := c.assistant.SuggestScore(ctx, q, ans)
	if err != nil {
		return model.GradeSuggestion{}, newError(KindUnavailable, map[string]any{"answer_id": answerID},
			"grading assistant: %v", err)
	}
	s.AnswerID = answerID
	s.MaxScore = ans.MaxScore
	s.Score = math.Max(0, math.Min(s.Score, ans.MaxScore))
	return s, nil
}
