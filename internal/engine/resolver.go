package engine

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/pavelanni/examengine/internal/model"
)

// DefaultPoolFactor sizes the low-usage pool relative to the requested count.
const DefaultPoolFactor = 2

// Selection is a question picked by the resolver together with the points it
// is worth in this exam.
type Selection struct {
	Question model.Question
	Points   float64
}

// Resolver picks questions for a set of distribution rules.
type Resolver struct {
	bank       QuestionBank
	poolFactor int
}

// NewResolver returns a resolver reading from bank.
func NewResolver(bank QuestionBank, poolFactor int) *Resolver {
	if poolFactor < 1 {
		poolFactor = DefaultPoolFactor
	}
	return &Resolver{bank: bank, poolFactor: poolFactor}
}

// ValidateRules checks that a rule set requests a well-defined, positive
// number of questions.
func ValidateRules(rules []model.DistributionRule) error {
	if len(rules) == 0 {
		return newError(KindInvalidConfig, nil, "exam has no distribution rules")
	}
	total := 0
	for i, r := range rules {
		details := map[string]any{"rule_index": i}
		if r.Easy < 0 || r.Medium < 0 || r.Hard < 0 || r.Quantity < 0 {
			return newError(KindInvalidConfig, details, "rule %d: negative question count", i)
		}
		if r.SplitTotal() > 0 && r.Quantity > 0 {
			return newError(KindInvalidConfig, details, "rule %d: both difficulty split and quantity set", i)
		}
		if r.Points < 0 {
			return newError(KindInvalidConfig, details, "rule %d: negative points", i)
		}
		if r.Type != "" && !r.Type.Valid() {
			return newError(KindInvalidConfig, details, "rule %d: unknown question type %q", i, r.Type)
		}
		total += r.Total()
	}
	if total == 0 {
		return newError(KindInvalidConfig, nil, "distribution rules request no questions")
	}
	return nil
}

type demand struct {
	difficulty model.Difficulty
	count      int
}

func demands(r model.DistributionRule) []demand {
	if r.SplitTotal() == 0 {
		return []demand{{count: r.Quantity}}
	}
	var out []demand
	for _, d := range []demand{
		{model.DifficultyEasy, r.Easy},
		{model.DifficultyMedium, r.Medium},
		{model.DifficultyHard, r.Hard},
	} {
		if d.count > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Resolve selects questions for every rule in order. The bank returns
// candidates least used first; the first count*poolFactor of them are
// shuffled with rng and the first count are taken. A question is picked at
// most once across all rules. Any unsatisfiable demand aborts the whole
// resolution with an InsufficientQuestionsError.
func (r *Resolver) Resolve(ctx context.Context, rules []model.DistributionRule, rng *rand.Rand) ([]Selection, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	picked := make(map[int64]bool)
	var out []Selection
	for i, rule := range rules {
		for _, d := range demands(rule) {
			candidates, err := r.bank.FindCandidates(ctx, model.CandidateFilter{
				CategoryID: rule.CategoryID,
				Type:       rule.Type,
				Difficulty: d.difficulty,
			})
			if err != nil {
				return nil, fmt.Errorf("find candidates for rule %d: %w", i, err)
			}

			fresh := candidates[:0]
			for _, q := range candidates {
				if !picked[q.ID] {
					fresh = append(fresh, q)
				}
			}
			if len(fresh) < d.count {
				return nil, &InsufficientQuestionsError{
					RuleIndex:  i,
					Difficulty: d.difficulty,
					Requested:  d.count,
					Available:  len(fresh),
				}
			}

			pool := fresh[:min(len(fresh), d.count*r.poolFactor)]
			rng.Shuffle(len(pool), func(a, b int) {
				pool[a], pool[b] = pool[b], pool[a]
			})
			for _, q := range pool[:d.count] {
				picked[q.ID] = true
				points := rule.Points
				if points == 0 {
					points = q.MaxScore
				}
				out = append(out, Selection{Question: q, Points: points})
			}
		}
	}
	return out, nil
}
