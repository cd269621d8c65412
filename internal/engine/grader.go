package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

var errEmptyPayload = errors.New("empty answer")

// gradeObjective scores one answer against its snapshot question. Subjective
// answers are left with nil correctness and score. A payload that does not
// fit the question type is scored as incorrect and reported.
func gradeObjective(q model.SnapshotQuestion, ans *model.Answer) error {
	switch key := q.Key.(type) {
	case model.TrueFalseKey:
		v, err := decodeBool(ans.Payload)
		if err != nil {
			setObjective(ans, false, q.Points)
			return err
		}
		setObjective(ans, v == key.Value, q.Points)
	case model.ChoiceKey:
		keys, err := decodeChoice(ans.Payload, key.Multiple)
		if err != nil {
			setObjective(ans, false, q.Points)
			return err
		}
		setObjective(ans, sameSet(keys, key.Correct), q.Points)
	case model.ShortAnswerKey, model.EssayKey:
		ans.Correct = nil
		ans.Score = nil
	default:
		return fmt.Errorf("unsupported answer key %T", q.Key)
	}
	return nil
}

func setObjective(ans *model.Answer, correct bool, points float64) {
	score := 0.0
	if correct {
		score = points
	}
	ans.Correct = &correct
	ans.Score = &score
}

func isEmpty(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func decodeBool(raw json.RawMessage) (bool, error) {
	if isEmpty(raw) {
		return false, errEmptyPayload
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, fmt.Errorf("expected true or false: %w", err)
	}
	return v, nil
}

// decodeChoice accepts an array of option keys; single choice answers may
// also be a bare string.
func decodeChoice(raw json.RawMessage, multiple bool) ([]string, error) {
	if isEmpty(raw) {
		return nil, errEmptyPayload
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err == nil {
		if !multiple && len(keys) > 1 {
			return keys, fmt.Errorf("single choice answer with %d options", len(keys))
		}
		return keys, nil
	}
	if !multiple {
		var key string
		if err := json.Unmarshal(raw, &key); err == nil {
			return []string{key}, nil
		}
	}
	return nil, errors.New("expected a list of option keys")
}

func sameSet(a, b []string) bool {
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

func toSet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// recompute derives the aggregate score from all answers and moves a
// submitted attempt to GRADED once every answer has a score.
func recompute(a *model.Attempt, answers []model.Answer, now time.Time) {
	earned := 0.0
	complete := true
	for _, ans := range answers {
		if !ans.Graded() {
			complete = false
			continue
		}
		earned += *ans.Score
	}
	a.EarnedScore = &earned
	if complete && a.State == model.StateSubmitted {
		a.State = model.StateGraded
		a.GradedAt = &now
	}
}
