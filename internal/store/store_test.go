package store

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, typ model.QuestionType, diff model.Difficulty, category string) int64 {
	t.Helper()
	q := model.Question{
		Type:       typ,
		Difficulty: diff,
		CategoryID: category,
		Content:    "question about " + category,
		MaxScore:   2,
		Active:     true,
	}
	switch typ {
	case model.TypeTrueFalse:
		v := true
		q.CorrectBool = &v
	case model.TypeSingleChoice, model.TypeMultiChoice:
		q.Options = []model.Option{{Key: "A", Text: "a"}, {Key: "B", Text: "b"}}
		q.CorrectKeys = []string{"A"}
	default:
		q.Rubric = "rubric"
	}
	id, err := s.InsertQuestion(context.Background(), q)
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func insertTestExam(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.UpsertExam(context.Background(), model.Exam{
		ID:        id,
		Title:     "Exam " + id,
		Published: true,
		Rules:     []model.DistributionRule{{Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("insertTestExam: %v", err)
	}
}

func testSnapshot(ids ...int64) model.Snapshot {
	snap := make(model.Snapshot, len(ids))
	for i, id := range ids {
		snap[i] = model.SnapshotQuestion{
			QuestionID: id,
			Order:      i + 1,
			Points:     2,
			Content:    "q",
			Type:       model.TypeEssay,
			Key:        model.EssayKey{Rubric: "r"},
		}
	}
	return snap
}

func newTestAttempt(id, taker, exam string, snap model.Snapshot) model.Attempt {
	return model.Attempt{
		ID:          id,
		TestTakerID: taker,
		ExamID:      exam,
		State:       model.StateInProgress,
		Snapshot:    snap,
		MaxScore:    snap.MaxScore(),
		StartedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Seed:        42,
	}
}

func TestQuestionCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	id := insertTestQuestion(t, s, model.TypeMultiChoice, model.DifficultyEasy, "algebra")
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.Type != model.TypeMultiChoice || q.Difficulty != model.DifficultyEasy || q.CategoryID != "algebra" {
		t.Errorf("unexpected question: %+v", q)
	}
	if len(q.Options) != 2 || len(q.CorrectKeys) != 1 || q.CorrectKeys[0] != "A" {
		t.Errorf("options/keys not round-tripped: %+v %+v", q.Options, q.CorrectKeys)
	}

	tf := insertTestQuestion(t, s, model.TypeTrueFalse, model.DifficultyHard, "logic")
	q, err = s.GetQuestion(ctx, tf)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if q.CorrectBool == nil || !*q.CorrectBool {
		t.Errorf("true/false value not round-tripped: %v", q.CorrectBool)
	}

	q.Content = "edited"
	q.Active = false
	if err := s.UpdateQuestion(ctx, q); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	q, _ = s.GetQuestion(ctx, tf)
	if q.Content != "edited" || q.Active {
		t.Errorf("update not applied: %+v", q)
	}

	if err := s.DeleteQuestion(ctx, tf); err != nil {
		t.Fatalf("DeleteQuestion: %v", err)
	}
	if _, err := s.GetQuestion(ctx, tf); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateQuestion(ctx, model.Question{ID: 9999, Type: model.TypeEssay}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing question, got %v", err)
	}
}

func TestFindCandidatesOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "algebra")
	b := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "algebra")
	c := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "algebra")
	insertTestQuestion(t, s, model.TypeEssay, model.DifficultyHard, "algebra")
	insertTestQuestion(t, s, model.TypeTrueFalse, model.DifficultyEasy, "algebra")
	insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "geometry")

	if err := s.IncrementUsage(ctx, []int64{a, a, b}); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	qa, err := s.GetQuestion(ctx, a)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	if qa.UsageCount != 1 {
		t.Errorf("usage after duplicate id = %d, want 1", qa.UsageCount)
	}
	if err := s.IncrementUsage(ctx, []int64{a}); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	got, err := s.FindCandidates(ctx, model.CandidateFilter{
		CategoryID: "algebra",
		Type:       model.TypeEssay,
		Difficulty: model.DifficultyEasy,
	})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	want := []int64{c, b, a}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, q := range got {
		if q.ID != want[i] {
			t.Errorf("candidate %d: got id %d, want %d", i, q.ID, want[i])
		}
	}

	all, err := s.FindCandidates(ctx, model.CandidateFilter{})
	if err != nil {
		t.Fatalf("FindCandidates(all): %v", err)
	}
	if len(all) != 6 {
		t.Errorf("empty filter: got %d, want 6", len(all))
	}
}

func TestFindCandidatesSkipsInactive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "algebra")
	q, _ := s.GetQuestion(ctx, id)
	q.Active = false
	if err := s.UpdateQuestion(ctx, q); err != nil {
		t.Fatalf("UpdateQuestion: %v", err)
	}
	got, err := s.FindCandidates(ctx, model.CandidateFilter{CategoryID: "algebra"})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("inactive question returned: %+v", got)
	}
}

func TestExamRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	opens := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exam := model.Exam{
		ID:          "midterm",
		Title:       "Midterm",
		Published:   true,
		OpensAt:     &opens,
		MaxAttempts: 2,
		Rules:       []model.DistributionRule{{CategoryID: "algebra", Easy: 2, Hard: 1, Points: 1.5}},
	}
	if err := s.UpsertExam(ctx, exam); err != nil {
		t.Fatalf("UpsertExam: %v", err)
	}
	got, err := s.GetExam(ctx, "midterm")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.OpensAt == nil || !got.OpensAt.Equal(opens) || got.ClosesAt != nil {
		t.Errorf("time window not round-tripped: %v %v", got.OpensAt, got.ClosesAt)
	}
	if len(got.Rules) != 1 || got.Rules[0].Easy != 2 || got.Rules[0].Points != 1.5 {
		t.Errorf("rules not round-tripped: %+v", got.Rules)
	}

	exam.Title = "Midterm v2"
	if err := s.UpsertExam(ctx, exam); err != nil {
		t.Fatalf("UpsertExam (update): %v", err)
	}
	exams, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 1 || exams[0].Title != "Midterm v2" {
		t.Errorf("unexpected exams: %+v", exams)
	}

	if _, err := s.GetExam(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAttempt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestExam(t, s, "exam1")
	q1 := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")
	q2 := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")

	a, created, err := s.CreateAttempt(ctx, newTestAttempt("att-1", "alice", "exam1", testSnapshot(q1, q2)))
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if !created || a.Number != 1 {
		t.Errorf("created=%v number=%d, want true 1", created, a.Number)
	}

	for _, id := range []int64{q1, q2} {
		q, _ := s.GetQuestion(ctx, id)
		if q.UsageCount != 1 {
			t.Errorf("question %d usage = %d, want 1", id, q.UsageCount)
		}
	}

	// A second start while one is open returns the open attempt.
	again, created, err := s.CreateAttempt(ctx, newTestAttempt("att-2", "alice", "exam1", testSnapshot(q1)))
	if err != nil {
		t.Fatalf("CreateAttempt (again): %v", err)
	}
	if created || again.ID != "att-1" {
		t.Errorf("expected open attempt att-1, got %s created=%v", again.ID, created)
	}
	if q, _ := s.GetQuestion(ctx, q1); q.UsageCount != 1 {
		t.Errorf("usage bumped by resumed start: %d", q.UsageCount)
	}

	got, err := s.GetAttempt(ctx, "att-1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if len(got.Snapshot) != 2 || got.Seed != 42 || got.State != model.StateInProgress {
		t.Errorf("unexpected attempt: %+v", got)
	}
	if _, ok := got.Snapshot[0].Key.(model.EssayKey); !ok {
		t.Errorf("snapshot key type = %T", got.Snapshot[0].Key)
	}

	n, err := s.CountAttempts(ctx, "alice", "exam1")
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if n != 1 {
		t.Errorf("CountAttempts = %d, want 1", n)
	}

	if _, err := s.GetAttempt(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAttemptConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestExam(t, s, "exam1")
	q := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := s.CreateAttempt(ctx, newTestAttempt("att-"+string(rune('a'+i)), "bob", "exam1", testSnapshot(q)))
			if err != nil {
				t.Errorf("CreateAttempt %d: %v", i, err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent starts returned different attempts: %v", ids)
		}
	}
	if got, _ := s.GetQuestion(ctx, q); got.UsageCount != 1 {
		t.Errorf("usage = %d, want 1", got.UsageCount)
	}
}

func TestUpdateAttempt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestExam(t, s, "exam1")
	q1 := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")
	if _, _, err := s.CreateAttempt(ctx, newTestAttempt("att-1", "alice", "exam1", testSnapshot(q1))); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated, err := s.UpdateAttempt(ctx, "att-1", func(a *model.Attempt, answers []model.Answer) ([]model.Answer, error) {
		if len(answers) != 0 {
			t.Errorf("expected no answers yet, got %d", len(answers))
		}
		a.State = model.StateSubmitted
		a.SubmittedAt = &now
		a.DurationSeconds = 3600
		return []model.Answer{{
			AttemptID:    a.ID,
			QuestionID:   q1,
			QuestionType: model.TypeEssay,
			MaxScore:     2,
			Payload:      json.RawMessage(`"my essay"`),
			UpdatedAt:    now,
		}}, nil
	})
	if err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	if updated.State != model.StateSubmitted {
		t.Errorf("state = %s", updated.State)
	}

	got, _ := s.GetAttempt(ctx, "att-1")
	if got.State != model.StateSubmitted || got.SubmittedAt == nil || got.DurationSeconds != 3600 {
		t.Errorf("attempt not persisted: %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	answers, err := s.ListAnswers(ctx, "att-1")
	if err != nil {
		t.Fatalf("ListAnswers: %v", err)
	}
	if len(answers) != 1 || string(answers[0].Payload) != `"my essay"` || answers[0].Score != nil {
		t.Fatalf("unexpected answers: %+v", answers)
	}

	// Upsert overwrites the existing row.
	score := 1.5
	_, err = s.UpdateAttempt(ctx, "att-1", func(a *model.Attempt, answers []model.Answer) ([]model.Answer, error) {
		answers[0].Score = &score
		answers[0].GraderID = "grader-1"
		return answers, nil
	})
	if err != nil {
		t.Fatalf("UpdateAttempt (grade): %v", err)
	}
	ans, err := s.GetAnswer(ctx, answers[0].ID)
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if ans.Score == nil || *ans.Score != 1.5 || ans.GraderID != "grader-1" {
		t.Errorf("answer not updated: %+v", ans)
	}

	// A failing fn leaves nothing behind.
	boom := errors.New("boom")
	_, err = s.UpdateAttempt(ctx, "att-1", func(a *model.Attempt, _ []model.Answer) ([]model.Answer, error) {
		a.State = model.StateGraded
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := s.GetAttempt(ctx, "att-1"); got.State != model.StateSubmitted {
		t.Errorf("rolled back state = %s", got.State)
	}

	if _, err := s.UpdateAttempt(ctx, "missing", func(*model.Attempt, []model.Answer) ([]model.Answer, error) {
		return nil, nil
	}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func submitWithEssay(t *testing.T, s *Store, attemptID string, qid int64, at time.Time) {
	t.Helper()
	_, err := s.UpdateAttempt(context.Background(), attemptID, func(a *model.Attempt, _ []model.Answer) ([]model.Answer, error) {
		a.State = model.StateSubmitted
		a.SubmittedAt = &at
		return []model.Answer{{
			AttemptID:    a.ID,
			QuestionID:   qid,
			QuestionType: model.TypeEssay,
			MaxScore:     2,
			Payload:      json.RawMessage(`"text"`),
			UpdatedAt:    at,
		}}, nil
	})
	if err != nil {
		t.Fatalf("submit %s: %v", attemptID, err)
	}
}

func TestListPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestExam(t, s, "exam1")
	insertTestExam(t, s, "exam2")
	q := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	takers := []struct {
		attempt, taker, exam string
		submitted            time.Time
	}{
		{"att-late", "carol", "exam1", base.Add(2 * time.Hour)},
		{"att-early", "alice", "exam1", base},
		{"att-other", "bob", "exam2", base.Add(time.Hour)},
	}
	for _, tk := range takers {
		if _, _, err := s.CreateAttempt(ctx, newTestAttempt(tk.attempt, tk.taker, tk.exam, testSnapshot(q))); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		submitWithEssay(t, s, tk.attempt, q, tk.submitted)
	}
	// Still in progress, must not show up.
	if _, _, err := s.CreateAttempt(ctx, newTestAttempt("att-open", "dave", "exam1", testSnapshot(q))); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	items, total, err := s.ListPending(ctx, model.PendingFilter{}, model.Page{Number: 1, Size: 2})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d items=%d, want 3 2", total, len(items))
	}
	if items[0].AttemptID != "att-early" || items[1].AttemptID != "att-other" {
		t.Errorf("unexpected order: %s, %s", items[0].AttemptID, items[1].AttemptID)
	}

	items, _, err = s.ListPending(ctx, model.PendingFilter{}, model.Page{Number: 2, Size: 2})
	if err != nil {
		t.Fatalf("ListPending page 2: %v", err)
	}
	if len(items) != 1 || items[0].AttemptID != "att-late" {
		t.Errorf("page 2: %+v", items)
	}

	items, total, err = s.ListPending(ctx, model.PendingFilter{ExamID: "exam2"}, model.Page{})
	if err != nil {
		t.Fatalf("ListPending exam2: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].TestTakerID != "bob" {
		t.Errorf("exam2 filter: total=%d %+v", total, items)
	}
}

func TestImportedFileHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash(ctx, "bank.yaml")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "bank.yaml", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "bank.yaml", "def"); err != nil {
		t.Fatalf("SetImportedFileHash (update): %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "bank.yaml")
	if hash != "def" {
		t.Errorf("hash = %q, want def", hash)
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"sqlite", DriverSQLite, false},
		{"postgres", DriverPostgres, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDriver(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDriver(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCreateAttemptLosesRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insertTestExam(t, s, "exam1")
	q := insertTestQuestion(t, s, model.TypeEssay, model.DifficultyEasy, "c")

	if _, _, err := s.CreateAttempt(ctx, newTestAttempt("winner", "alice", "exam1", testSnapshot(q))); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	// The winner's row is invisible to the check, as if it committed between
	// the check and the insert.
	openAttemptCheck = func(context.Context, queryer, string, string) (*model.Attempt, error) {
		return nil, nil
	}
	t.Cleanup(func() { openAttemptCheck = findOpenAttempt })

	got, created, err := s.CreateAttempt(ctx, newTestAttempt("loser", "alice", "exam1", testSnapshot(q)))
	if err != nil {
		t.Fatalf("CreateAttempt (loser): %v", err)
	}
	if created || got.ID != "winner" {
		t.Errorf("got %s created=%v, want winner false", got.ID, created)
	}
	if _, err := s.GetAttempt(ctx, "loser"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("losing attempt was stored: %v", err)
	}
	if qq, _ := s.GetQuestion(ctx, q); qq.UsageCount != 1 {
		t.Errorf("usage = %d, want 1 after lost race", qq.UsageCount)
	}
}

func TestImportBank(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	essay := func(maxScore float64) model.Question {
		return model.Question{Type: model.TypeEssay, Difficulty: model.DifficultyEasy,
			CategoryID: "c", Content: "x", MaxScore: maxScore, Active: true}
	}
	exam := model.Exam{ID: "e1", Title: "E1", Rules: []model.DistributionRule{{CategoryID: "c", Quantity: 1}}}

	// The second question violates max_score NOT NULL, so nothing is kept.
	err := s.ImportBank(ctx, "bank.yaml", "h1", []model.Question{essay(1), essay(math.NaN())}, []model.Exam{exam})
	if err == nil {
		t.Fatal("expected ImportBank to fail")
	}
	if n, _ := s.QuestionCount(ctx); n != 0 {
		t.Errorf("%d questions left after failed import", n)
	}
	if _, err := s.GetExam(ctx, "e1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("exam left after failed import: %v", err)
	}
	if h, _ := s.GetImportedFileHash(ctx, "bank.yaml"); h != "" {
		t.Errorf("hash recorded after failed import: %q", h)
	}

	if err := s.ImportBank(ctx, "bank.yaml", "h1", []model.Question{essay(1), essay(3)}, []model.Exam{exam}); err != nil {
		t.Fatalf("ImportBank: %v", err)
	}
	if n, _ := s.QuestionCount(ctx); n != 2 {
		t.Errorf("QuestionCount = %d, want 2", n)
	}
	if _, err := s.GetExam(ctx, "e1"); err != nil {
		t.Errorf("GetExam: %v", err)
	}
	if h, _ := s.GetImportedFileHash(ctx, "bank.yaml"); h != "h1" {
		t.Errorf("hash = %q, want h1", h)
	}
}
