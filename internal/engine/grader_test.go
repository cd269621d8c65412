package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

func TestGradeObjective(t *testing.T) {
	tf := model.SnapshotQuestion{QuestionID: 1, Type: model.TypeTrueFalse, Points: 1, Key: model.TrueFalseKey{Value: true}}
	single := model.SnapshotQuestion{QuestionID: 2, Type: model.TypeSingleChoice, Points: 2,
		Key: model.ChoiceKey{Correct: []string{"B"}}}
	multi := model.SnapshotQuestion{QuestionID: 3, Type: model.TypeMultiChoice, Points: 4,
		Key: model.ChoiceKey{Correct: []string{"A", "C"}, Multiple: true}}

	tests := []struct {
		name        string
		q           model.SnapshotQuestion
		payload     string
		wantCorrect bool
		wantScore   float64
		wantErr     bool
	}{
		{"true/false right", tf, `true`, true, 1, false},
		{"true/false wrong", tf, `false`, false, 0, false},
		{"true/false malformed", tf, `"yes"`, false, 0, true},
		{"true/false empty", tf, `null`, false, 0, true},
		{"single as string", single, `"B"`, true, 2, false},
		{"single as array", single, `["B"]`, true, 2, false},
		{"single wrong", single, `"A"`, false, 0, false},
		{"single with two keys", single, `["A","B"]`, false, 0, true},
		{"multi exact", multi, `["A","C"]`, true, 4, false},
		{"multi reordered", multi, `["C","A"]`, true, 4, false},
		{"multi subset", multi, `["A"]`, false, 0, false},
		{"multi superset", multi, `["A","B","C"]`, false, 0, false},
		{"multi as string", multi, `"A"`, false, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := model.Answer{QuestionID: tt.q.QuestionID, Payload: json.RawMessage(tt.payload)}
			err := gradeObjective(tt.q, &ans)
			if (err != nil) != tt.wantErr {
				t.Fatalf("gradeObjective() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ans.Correct == nil || ans.Score == nil {
				t.Fatal("objective answer left ungraded")
			}
			if *ans.Correct != tt.wantCorrect || *ans.Score != tt.wantScore {
				t.Errorf("got correct=%v score=%g, want %v %g", *ans.Correct, *ans.Score, tt.wantCorrect, tt.wantScore)
			}
		})
	}
}

func TestGradeSubjectiveLeftPending(t *testing.T) {
	for _, q := range []model.SnapshotQuestion{
		{QuestionID: 1, Type: model.TypeEssay, Points: 5, Key: model.EssayKey{}},
		{QuestionID: 2, Type: model.TypeShortAnswer, Points: 1, Key: model.ShortAnswerKey{Reference: "Paris"}},
	} {
		ans := model.Answer{Payload: json.RawMessage(`"Paris"`)}
		if err := gradeObjective(q, &ans); err != nil {
			t.Fatalf("gradeObjective(%s): %v", q.Type, err)
		}
		if ans.Score != nil || ans.Correct != nil {
			t.Errorf("%s answer was auto-graded", q.Type)
		}
	}
}

func TestRecompute(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	one, two := 1.0, 2.0

	a := model.Attempt{State: model.StateSubmitted}
	recompute(&a, []model.Answer{{Score: &one}, {Score: nil}}, now)
	if a.State != model.StateSubmitted || a.GradedAt != nil {
		t.Errorf("attempt with pending answer moved to %s", a.State)
	}
	if a.EarnedScore == nil || *a.EarnedScore != 1 {
		t.Errorf("earned = %v, want 1", a.EarnedScore)
	}

	recompute(&a, []model.Answer{{Score: &one}, {Score: &two}}, now)
	if a.State != model.StateGraded || a.GradedAt == nil || !a.GradedAt.Equal(now) {
		t.Errorf("fully scored attempt: state %s graded_at %v", a.State, a.GradedAt)
	}
	if *a.EarnedScore != 3 {
		t.Errorf("earned = %g, want 3", *a.EarnedScore)
	}

	// No transition from IN_PROGRESS.
	open := model.Attempt{State: model.StateInProgress}
	recompute(&open, []model.Answer{{Score: &one}}, now)
	if open.State != model.StateInProgress {
		t.Errorf("in-progress attempt moved to %s", open.State)
	}
}
