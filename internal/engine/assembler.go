package engine

import (
	"math/rand/v2"

	"github.com/pavelanni/examengine/internal/model"
)

// Assemble orders the selected questions, optionally shuffling questions and
// options, and freezes them into a snapshot. The public view is derived from
// the snapshot so both share one ordering.
func Assemble(selected []Selection, shuffleQuestions, shuffleOptions bool, rng *rand.Rand) (model.Snapshot, error) {
	items := make([]Selection, len(selected))
	copy(items, selected)
	if shuffleQuestions {
		rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	}

	snap := make(model.Snapshot, 0, len(items))
	for i, s := range items {
		q := s.Question
		key, err := model.KeyFor(q)
		if err != nil {
			return nil, newError(KindInvalidConfig, map[string]any{"question_id": q.ID}, "%v", err)
		}

		var opts []model.Option
		if q.Type.HasOptions() {
			opts = make([]model.Option, len(q.Options))
			copy(opts, q.Options)
			if shuffleOptions {
				rng.Shuffle(len(opts), func(a, b int) {
					opts[a], opts[b] = opts[b], opts[a]
				})
			}
		}

		snap = append(snap, model.SnapshotQuestion{
			QuestionID: q.ID,
			Order:      i + 1,
			Points:     s.Points,
			Content:    q.Content,
			Type:       q.Type,
			CategoryID: q.CategoryID,
			Difficulty: q.Difficulty,
			Options:    opts,
			Key:        key,
		})
	}
	return snap, nil
}
