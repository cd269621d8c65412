package model

import (
	"encoding/json"
	"fmt"
)

// AnswerKey is the correctness data frozen into a snapshot question.
// The set of implementations is closed: TrueFalseKey, ChoiceKey,
// ShortAnswerKey and EssayKey.
type AnswerKey interface {
	answerKey()
}

// TrueFalseKey holds the correct boolean of a TRUE_FALSE question.
type TrueFalseKey struct {
	Value bool `json:"value"`
}

// ChoiceKey holds the option keys marked correct.
type ChoiceKey struct {
	Correct  []string `json:"correct"`
	Multiple bool     `json:"multiple"`
}

// ShortAnswerKey holds the grader's reference for a SHORT_ANSWER question.
type ShortAnswerKey struct {
	Reference string `json:"reference,omitempty"`
	Rubric    string `json:"rubric,omitempty"`
}

// EssayKey holds the grader's rubric for an ESSAY question.
type EssayKey struct {
	Rubric string `json:"rubric,omitempty"`
}

func (TrueFalseKey) answerKey()   {}
func (ChoiceKey) answerKey()      {}
func (ShortAnswerKey) answerKey() {}
func (EssayKey) answerKey()       {}

// KeyFor builds the answer key of a bank question.
func KeyFor(q Question) (AnswerKey, error) {
	switch q.Type {
	case TypeTrueFalse:
		if q.CorrectBool == nil {
			return nil, fmt.Errorf("question %d: true/false without correct value", q.ID)
		}
		return TrueFalseKey{Value: *q.CorrectBool}, nil
	case TypeSingleChoice, TypeMultiChoice:
		if len(q.CorrectKeys) == 0 {
			return nil, fmt.Errorf("question %d: choice without correct keys", q.ID)
		}
		keys := make([]string, len(q.CorrectKeys))
		copy(keys, q.CorrectKeys)
		return ChoiceKey{Correct: keys, Multiple: q.Type == TypeMultiChoice}, nil
	case TypeShortAnswer:
		return ShortAnswerKey{Reference: q.ReferenceAnswer, Rubric: q.Rubric}, nil
	case TypeEssay:
		return EssayKey{Rubric: q.Rubric}, nil
	}
	return nil, fmt.Errorf("question %d: unknown type %q", q.ID, q.Type)
}

// SnapshotQuestion is one frozen question of an attempt.
type SnapshotQuestion struct {
	QuestionID int64
	Order      int
	Points     float64
	Content    string
	Type       QuestionType
	CategoryID string
	Difficulty Difficulty
	Options    []Option
	Key        AnswerKey
}

// Public strips the answer key.
func (q SnapshotQuestion) Public() PublicQuestion {
	return PublicQuestion{
		QuestionID: q.QuestionID,
		Order:      q.Order,
		Points:     q.Points,
		Content:    q.Content,
		Type:       q.Type,
		Options:    q.Options,
	}
}

// PublicQuestion is what a test-taker sees.
type PublicQuestion struct {
	QuestionID int64        `json:"question_id"`
	Order      int          `json:"order"`
	Points     float64      `json:"points"`
	Content    string       `json:"content"`
	Type       QuestionType `json:"type"`
	Options    []Option     `json:"options,omitempty"`
}

// Snapshot is the ordered list of questions frozen into an attempt.
type Snapshot []SnapshotQuestion

// Public returns the test-taker view in snapshot order.
func (s Snapshot) Public() []PublicQuestion {
	out := make([]PublicQuestion, len(s))
	for i, q := range s {
		out[i] = q.Public()
	}
	return out
}

// Find returns the snapshot question with the given bank id.
func (s Snapshot) Find(questionID int64) (SnapshotQuestion, bool) {
	for _, q := range s {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return SnapshotQuestion{}, false
}

// MaxScore sums the points of every question.
func (s Snapshot) MaxScore() float64 {
	var total float64
	for _, q := range s {
		total += q.Points
	}
	return total
}

// QuestionIDs returns the bank ids in snapshot order.
func (s Snapshot) QuestionIDs() []int64 {
	ids := make([]int64, len(s))
	for i, q := range s {
		ids[i] = q.QuestionID
	}
	return ids
}

// snapshotRecord is the persisted layout of a snapshot question.
type snapshotRecord struct {
	QuestionID         int64           `json:"questionId"`
	Order              int             `json:"order"`
	Points             float64         `json:"points"`
	Content            string          `json:"content"`
	Type               QuestionType    `json:"type"`
	CorrectnessPayload json.RawMessage `json:"correctnessPayload"`
	Options            []Option        `json:"options"`
	CategoryID         string          `json:"categoryId,omitempty"`
	Difficulty         Difficulty      `json:"difficulty,omitempty"`
}

// MarshalJSON writes the stable snapshot layout.
func (q SnapshotQuestion) MarshalJSON() ([]byte, error) {
	if q.Key == nil {
		return nil, fmt.Errorf("snapshot question %d: missing answer key", q.QuestionID)
	}
	payload, err := json.Marshal(q.Key)
	if err != nil {
		return nil, err
	}
	opts := q.Options
	if opts == nil {
		opts = []Option{}
	}
	return json.Marshal(snapshotRecord{
		QuestionID:         q.QuestionID,
		Order:              q.Order,
		Points:             q.Points,
		Content:            q.Content,
		Type:               q.Type,
		CorrectnessPayload: payload,
		Options:            opts,
		CategoryID:         q.CategoryID,
		Difficulty:         q.Difficulty,
	})
}

// UnmarshalJSON reads the stable snapshot layout, decoding the
// correctness payload according to the question type.
func (q *SnapshotQuestion) UnmarshalJSON(data []byte) error {
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	var key AnswerKey
	switch rec.Type {
	case TypeTrueFalse:
		var k TrueFalseKey
		if err := json.Unmarshal(rec.CorrectnessPayload, &k); err != nil {
			return fmt.Errorf("snapshot question %d: %w", rec.QuestionID, err)
		}
		key = k
	case TypeSingleChoice, TypeMultiChoice:
		var k ChoiceKey
		if err := json.Unmarshal(rec.CorrectnessPayload, &k); err != nil {
			return fmt.Errorf("snapshot question %d: %w", rec.QuestionID, err)
		}
		key = k
	case TypeShortAnswer:
		var k ShortAnswerKey
		if err := json.Unmarshal(rec.CorrectnessPayload, &k); err != nil {
			return fmt.Errorf("snapshot question %d: %w", rec.QuestionID, err)
		}
		key = k
	case TypeEssay:
		var k EssayKey
		if err := json.Unmarshal(rec.CorrectnessPayload, &k); err != nil {
			return fmt.Errorf("snapshot question %d: %w", rec.QuestionID, err)
		}
		key = k
	default:
		return fmt.Errorf("snapshot question %d: unknown type %q", rec.QuestionID, rec.Type)
	}
	*q = SnapshotQuestion{
		QuestionID: rec.QuestionID,
		Order:      rec.Order,
		Points:     rec.Points,
		Content:    rec.Content,
		Type:       rec.Type,
		CategoryID: rec.CategoryID,
		Difficulty: rec.Difficulty,
		Options:    rec.Options,
		Key:        key,
	}
	return nil
}
