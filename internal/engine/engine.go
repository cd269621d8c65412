// Package engine assembles personalized exams, freezes them into attempt
// snapshots, grades submissions and coordinates manual grading.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examengine/internal/model"
)

// QuestionBank is the catalog questions are drawn from.
type QuestionBank interface {
	// FindCandidates returns active questions matching f, least used first.
	FindCandidates(ctx context.Context, f model.CandidateFilter) ([]model.Question, error)
}

// ExamCatalog resolves exam configurations.
type ExamCatalog interface {
	GetExam(ctx context.Context, id string) (model.Exam, error)
}

// AttemptStore persists attempts and answers. Lookups that match nothing
// return model.ErrNotFound.
type AttemptStore interface {
	FindOpenAttempt(ctx context.Context, testTakerID, examID string) (*model.Attempt, error)
	CountAttempts(ctx context.Context, testTakerID, examID string) (int, error)
	// CreateAttempt stores a new attempt and increments the usage counter of
	// its snapshot questions atomically. If an attempt is already open for
	// the same test-taker and exam it is returned with created false.
	CreateAttempt(ctx context.Context, a model.Attempt) (attempt model.Attempt, created bool, err error)
	GetAttempt(ctx context.Context, id string) (model.Attempt, error)
	ListAttempts(ctx context.Context, examID string) ([]model.Attempt, error)
	ListAnswers(ctx context.Context, attemptID string) ([]model.Answer, error)
	GetAnswer(ctx context.Context, id int64) (model.Answer, error)
	// UpdateAttempt runs fn with the attempt and its answers under a
	// per-attempt lock and persists the attempt and the answers fn returns.
	UpdateAttempt(ctx context.Context, id string, fn func(a *model.Attempt, answers []model.Answer) ([]model.Answer, error)) (model.Attempt, error)
	ListPending(ctx context.Context, f model.PendingFilter, p model.Page) ([]model.PendingItem, int, error)
}

// Engine runs the attempt lifecycle.
type Engine struct {
	exams    ExamCatalog
	attempts AttemptStore
	resolver *Resolver
	now      func() time.Time
	seed     func() uint64
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	now        func() time.Time
	seed       func() uint64
	poolFactor int
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSeed overrides the source of per-attempt selection seeds.
func WithSeed(seed func() uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithPoolFactor sets how many low-usage candidates per requested question
// take part in the random draw.
func WithPoolFactor(n int) Option {
	return func(o *options) { o.poolFactor = n }
}

// New creates an engine over the given collaborators.
func New(bank QuestionBank, exams ExamCatalog, attempts AttemptStore, opts ...Option) *Engine {
	o := options{
		now:        func() time.Time { return time.Now().UTC() },
		seed:       rand.Uint64,
		poolFactor: DefaultPoolFactor,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		exams:    exams,
		attempts: attempts,
		resolver: NewResolver(bank, o.poolFactor),
		now:      o.now,
		seed:     o.seed,
	}
}

// StartResult is returned by Start.
type StartResult struct {
	Attempt   model.Attempt          `json:"attempt"`
	Questions []model.PublicQuestion `json:"questions"`
	Resumed   bool                   `json:"resumed"`
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	DurationSeconds int64                `json:"duration_seconds"`
	AutoGraded      bool                 `json:"auto_graded"`
	Issues          []model.GradingIssue `json:"issues,omitempty"`
}

// newRand returns the generator used for one attempt's selection.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Start returns the open attempt of the test-taker for the exam, or
// assembles and stores a new one.
func (e *Engine) Start(ctx context.Context, testTakerID, examID string) (StartResult, error) {
	if testTakerID == "" {
		return StartResult{}, newError(KindInvalidConfig, nil, "missing test-taker id")
	}

	open, err := e.attempts.FindOpenAttempt(ctx, testTakerID, examID)
	if err != nil {
		return StartResult{}, fmt.Errorf("find open attempt: %w", err)
	}
	if open != nil {
		slog.Info("attempt resumed", "attempt", open.ID, "test_taker", testTakerID, "exam", examID)
		return StartResult{Attempt: *open, Questions: open.Snapshot.Public(), Resumed: true}, nil
	}

	exam, err := e.exams.GetExam(ctx, examID)
	if errors.Is(err, model.ErrNotFound) {
		return StartResult{}, newError(KindNotFound, map[string]any{"exam_id": examID}, "exam %s not found", examID)
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("get exam: %w", err)
	}

	now := e.now()
	if err := e.checkEligibility(ctx, exam, testTakerID, now); err != nil {
		return StartResult{}, err
	}

	seed := e.seed()
	rng := newRand(seed)
	selected, err := e.resolver.Resolve(ctx, exam.Rules, rng)
	if err != nil {
		return StartResult{}, err
	}
	snap, err := Assemble(selected, exam.ShuffleQuestions, exam.ShuffleOptions, rng)
	if err != nil {
		return StartResult{}, err
	}

	attempt, created, err := e.attempts.CreateAttempt(ctx, model.Attempt{
		ID:          uuid.NewString(),
		TestTakerID: testTakerID,
		ExamID:      examID,
		State:       model.StateInProgress,
		Snapshot:    snap,
		MaxScore:    snap.MaxScore(),
		StartedAt:   now,
		Seed:        seed,
	})
	if err != nil {
		return StartResult{}, err
	}
	if !created {
		slog.Info("attempt resumed", "attempt", attempt.ID, "test_taker", testTakerID, "exam", examID)
	} else {
		slog.Info("attempt started",
			"attempt", attempt.ID,
			"test_taker", testTakerID,
			"exam", examID,
			"number", attempt.Number,
			"questions", len(snap),
			"seed", seed,
		)
	}
	return StartResult{Attempt: attempt, Questions: attempt.Snapshot.Public(), Resumed: !created}, nil
}

func (e *Engine) checkEligibility(ctx context.Context, exam model.Exam, testTakerID string, now time.Time) error {
	details := map[string]any{"exam_id": exam.ID}
	if !exam.Published {
		return newError(KindNotPublished, details, "exam %s is not published", exam.ID)
	}
	if exam.OpensAt != nil && now.Before(*exam.OpensAt) {
		details["opens_at"] = *exam.OpensAt
		return newError(KindOutOfTimeWindow, details, "exam %s opens at %s", exam.ID, exam.OpensAt.Format(time.RFC3339))
	}
	if exam.ClosesAt != nil && now.After(*exam.ClosesAt) {
		details["closes_at"] = *exam.ClosesAt
		return newError(KindOutOfTimeWindow, details, "exam %s closed at %s", exam.ID, exam.ClosesAt.Format(time.RFC3339))
	}
	if exam.MaxAttempts > 0 {
		n, err := e.attempts.CountAttempts(ctx, testTakerID, exam.ID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if n >= exam.MaxAttempts {
			details["attempts"] = n
			details["max_attempts"] = exam.MaxAttempts
			return newError(KindAttemptLimitReached, details,
				"%d of %d attempts used", n, exam.MaxAttempts)
		}
	}
	return nil
}

// mergeAnswers applies inputs over the stored answers. Inputs for questions
// outside the snapshot are reported and skipped.
func mergeAnswers(a *model.Attempt, stored []model.Answer, inputs []model.AnswerInput, now time.Time) ([]model.Answer, []model.GradingIssue) {
	byQuestion := make(map[int64]int, len(stored))
	merged := make([]model.Answer, len(stored))
	copy(merged, stored)
	for i, ans := range merged {
		byQuestion[ans.QuestionID] = i
	}

	var issues []model.GradingIssue
	for _, in := range inputs {
		q, ok := a.Snapshot.Find(in.QuestionID)
		if !ok {
			issues = append(issues, model.GradingIssue{QuestionID: in.QuestionID, Reason: "question is not part of this attempt"})
			continue
		}
		if i, ok := byQuestion[in.QuestionID]; ok {
			merged[i].Payload = in.Payload
			merged[i].UpdatedAt = now
			continue
		}
		byQuestion[in.QuestionID] = len(merged)
		merged = append(merged, model.Answer{
			AttemptID:    a.ID,
			QuestionID:   q.QuestionID,
			QuestionType: q.Type,
			MaxScore:     q.Points,
			Payload:      in.Payload,
			UpdatedAt:    now,
		})
	}
	return merged, issues
}

func attemptNotFound(id string) error {
	return newError(KindNotFound, map[string]any{"attempt_id": id}, "attempt %s not found", id)
}

// SaveAnswers stores answers of an attempt that is still in progress.
func (e *Engine) SaveAnswers(ctx context.Context, attemptID string, inputs []model.AnswerInput) error {
	now := e.now()
	_, err := e.attempts.UpdateAttempt(ctx, attemptID, func(a *model.Attempt, stored []model.Answer) ([]model.Answer, error) {
		if a.State != model.StateInProgress {
			return nil, newError(KindInvalidState, map[string]any{"attempt_id": a.ID, "state": a.State},
				"answers can only be saved while in progress, attempt is %s", a.State)
		}
		merged, issues := mergeAnswers(a, stored, inputs, now)
		if len(issues) > 0 {
			return nil, newError(KindInvalidAnswer, map[string]any{"question_id": issues[0].QuestionID},
				"question %d: %s", issues[0].QuestionID, issues[0].Reason)
		}
		return merged, nil
	})
	if errors.Is(err, model.ErrNotFound) {
		return attemptNotFound(attemptID)
	}
	return err
}

// Submit closes an in-progress attempt, grades its objective answers and
// finalizes it when nothing is left for a human grader.
func (e *Engine) Submit(ctx context.Context, attemptID string, inputs []model.AnswerInput) (SubmitResult, error) {
	now := e.now()
	var res SubmitResult
	updated, err := e.attempts.UpdateAttempt(ctx, attemptID, func(a *model.Attempt, stored []model.Answer) ([]model.Answer, error) {
		if a.State != model.StateInProgress {
			return nil, newError(KindInvalidState, map[string]any{"attempt_id": a.ID, "state": a.State},
				"attempt is %s and cannot be submitted", a.State)
		}
		merged, issues := mergeAnswers(a, stored, inputs, now)
		for i := range merged {
			q, ok := a.Snapshot.Find(merged[i].QuestionID)
			if !ok {
				continue
			}
			if err := gradeObjective(q, &merged[i]); err != nil {
				issues = append(issues, model.GradingIssue{QuestionID: q.QuestionID, Reason: err.Error()})
				slog.Warn("answer could not be graded", "attempt", a.ID, "question", q.QuestionID, "error", err)
			}
		}

		a.State = model.StateSubmitted
		a.SubmittedAt = &now
		a.DurationSeconds = int64(now.Sub(a.StartedAt) / time.Second)
		recompute(a, merged, now)

		res = SubmitResult{
			DurationSeconds: a.DurationSeconds,
			AutoGraded:      a.State == model.StateGraded,
			Issues:          issues,
		}
		return merged, nil
	})
	if errors.Is(err, model.ErrNotFound) {
		return SubmitResult{}, attemptNotFound(attemptID)
	}
	if err != nil {
		return SubmitResult{}, err
	}
	slog.Info("attempt submitted",
		"attempt", updated.ID,
		"state", updated.State,
		"duration_seconds", res.DurationSeconds,
		"issues", len(res.Issues),
	)
	return res, nil
}

// Result returns the graded view of a submitted attempt.
func (e *Engine) Result(ctx context.Context, attemptID string) (model.AttemptResult, error) {
	a, err := e.attempts.GetAttempt(ctx, attemptID)
	if errors.Is(err, model.ErrNotFound) {
		return model.AttemptResult{}, attemptNotFound(attemptID)
	}
	if err != nil {
		return model.AttemptResult{}, fmt.Errorf("get attempt: %w", err)
	}
	if a.State == model.StateInProgress {
		return model.AttemptResult{}, newError(KindInvalidState, map[string]any{"attempt_id": a.ID, "state": a.State},
			"attempt has not been submitted")
	}
	answers, err := e.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return model.AttemptResult{}, fmt.Errorf("list answers: %w", err)
	}
	return BuildResult(a, answers), nil
}

// Export returns the results of every submitted attempt of an exam.
func (e *Engine) Export(ctx context.Context, examID string) (model.ExamExport, error) {
	exam, err := e.exams.GetExam(ctx, examID)
	if errors.Is(err, model.ErrNotFound) {
		return model.ExamExport{}, newError(KindNotFound, map[string]any{"exam_id": examID}, "exam %s not found", examID)
	}
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("get exam: %w", err)
	}
	attempts, err := e.attempts.ListAttempts(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list attempts: %w", err)
	}
	out := model.ExamExport{ExamID: exam.ID, Title: exam.Title, ExportedAt: e.now(), Attempts: []model.AttemptResult{}}
	for _, a := range attempts {
		if a.State == model.StateInProgress {
			continue
		}
		answers, err := e.attempts.ListAnswers(ctx, a.ID)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("list answers of %s: %w", a.ID, err)
		}
		out.Attempts = append(out.Attempts, BuildResult(a, answers))
	}
	return out, nil
}
