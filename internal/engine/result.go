package engine

import (
	"math"
	"sort"

	"github.com/pavelanni/examengine/internal/model"
)

// BuildResult combines an attempt's snapshot with its answers into a summary,
// a per-question breakdown in snapshot order and per-category statistics.
func BuildResult(a model.Attempt, answers []model.Answer) model.AttemptResult {
	byQuestion := make(map[int64]model.Answer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}

	sum := model.ResultSummary{
		AttemptID:       a.ID,
		ExamID:          a.ExamID,
		TestTakerID:     a.TestTakerID,
		Number:          a.Number,
		State:           a.State,
		MaxScore:        a.MaxScore,
		DurationSeconds: a.DurationSeconds,
		Questions:       len(a.Snapshot),
		StartedAt:       a.StartedAt,
		SubmittedAt:     a.SubmittedAt,
		GradedAt:        a.GradedAt,
	}
	if a.EarnedScore != nil {
		sum.EarnedScore = *a.EarnedScore
	}
	if a.MaxScore > 0 {
		sum.Percentage = math.Round(sum.EarnedScore/a.MaxScore*10000) / 100
	}

	cats := make(map[string]*model.CategoryStats)
	questions := make([]model.QuestionResult, 0, len(a.Snapshot))
	for _, q := range a.Snapshot {
		qr := model.QuestionResult{
			Order:      q.Order,
			QuestionID: q.QuestionID,
			Type:       q.Type,
			CategoryID: q.CategoryID,
			Difficulty: q.Difficulty,
			Points:     q.Points,
		}
		cs, ok := cats[q.CategoryID]
		if !ok {
			cs = &model.CategoryStats{CategoryID: q.CategoryID}
			cats[q.CategoryID] = cs
		}
		cs.Questions++
		cs.Max += q.Points

		if ans, ok := byQuestion[q.QuestionID]; ok {
			qr.Answered = true
			qr.Payload = ans.Payload
			qr.Correct = ans.Correct
			qr.Score = ans.Score
			qr.Feedback = ans.Feedback
			qr.Pending = !ans.Graded()
			sum.Answered++
			cs.Answered++
			if ans.Correct != nil && *ans.Correct {
				sum.Correct++
				cs.Correct++
			}
			if ans.Graded() {
				cs.Earned += *ans.Score
			} else {
				sum.Pending++
			}
		}
		questions = append(questions, qr)
	}

	categories := make([]model.CategoryStats, 0, len(cats))
	for _, cs := range cats {
		categories = append(categories, *cs)
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].CategoryID < categories[j].CategoryID
	})

	return model.AttemptResult{Summary: sum, Questions: questions, Categories: categories}
}
