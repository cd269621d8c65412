package engine

import (
	"errors"
	"fmt"

	"github.com/pavelanni/examengine/internal/model"
)

// Kind classifies engine errors so callers can react without parsing messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotPublished
	KindOutOfTimeWindow
	KindAttemptLimitReached
	KindInsufficientQuestions
	KindInvalidState
	KindAnswerNotFound
	KindNotGradable
	KindOutOfRange
	KindNotFound
	KindInvalidConfig
	KindInvalidAnswer
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:               "Unknown",
	KindNotPublished:          "NotPublished",
	KindOutOfTimeWindow:       "OutOfTimeWindow",
	KindAttemptLimitReached:   "AttemptLimitReached",
	KindInsufficientQuestions: "InsufficientQuestions",
	KindInvalidState:          "InvalidState",
	KindAnswerNotFound:        "AnswerNotFound",
	KindNotGradable:           "NotGradable",
	KindOutOfRange:            "OutOfRange",
	KindNotFound:              "NotFound",
	KindInvalidConfig:         "InvalidConfig",
	KindInvalidAnswer:         "InvalidAnswer",
	KindUnavailable:           "Unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a user-facing engine failure.
type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]any
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func newError(kind Kind, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Details: details}
}

// KindOf returns the kind of err, or KindUnknown for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ie *InsufficientQuestionsError
	if errors.As(err, &ie) {
		return KindInsufficientQuestions
	}
	return KindUnknown
}

// InsufficientQuestionsError reports a rule that the bank cannot satisfy.
type InsufficientQuestionsError struct {
	RuleIndex  int
	Difficulty model.Difficulty
	Requested  int
	Available  int
}

func (e *InsufficientQuestionsError) Error() string {
	d := string(e.Difficulty)
	if d == "" {
		d = "ANY"
	}
	return fmt.Sprintf("InsufficientQuestions: rule %d difficulty %s: requested %d, available %d",
		e.RuleIndex, d, e.Requested, e.Available)
}

// Details exposes the error fields for transport encoding.
func (e *InsufficientQuestionsError) Details() map[string]any {
	return map[string]any{
		"rule_index": e.RuleIndex,
		"difficulty": string(e.Difficulty),
		"requested":  e.Requested,
		"available":  e.Available,
	}
}

// DetailsOf returns the context fields attached to an engine error.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	var ie *InsufficientQuestionsError
	if errors.As(err, &ie) {
		return ie.Details()
	}
	return nil
}
