// Package bank loads question bank files and imports them into the store.
package bank

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examengine/internal/engine"
	"github.com/pavelanni/examengine/internal/model"
)

// File is the on-disk layout of a bank file.
type File struct {
	Questions []QuestionEntry `yaml:"questions" json:"questions"`
	Exams     []ExamEntry     `yaml:"exams" json:"exams"`
}

// QuestionEntry is one question as written in a bank file. Correct holds a
// bool for TRUE_FALSE, a key or list of keys for choice questions and the
// reference answer for SHORT_ANSWER. A missing max_score means 1.
type QuestionEntry struct {
	Type       model.QuestionType `yaml:"type" json:"type"`
	Difficulty model.Difficulty   `yaml:"difficulty" json:"difficulty"`
	Category   string             `yaml:"category" json:"category"`
	Content    string             `yaml:"content" json:"content"`
	Options    []model.Option     `yaml:"options" json:"options"`
	Correct    any                `yaml:"correct" json:"correct"`
	Rubric     string             `yaml:"rubric" json:"rubric"`
	MaxScore   *float64           `yaml:"max_score" json:"max_score"`
	Inactive   bool               `yaml:"inactive" json:"inactive"`
}

// RuleEntry is a distribution rule as written in a bank file.
type RuleEntry struct {
	Category string             `yaml:"category" json:"category"`
	Type     model.QuestionType `yaml:"type" json:"type"`
	Easy     int                `yaml:"easy" json:"easy"`
	Medium   int                `yaml:"medium" json:"medium"`
	Hard     int                `yaml:"hard" json:"hard"`
	Quantity int                `yaml:"quantity" json:"quantity"`
	Points   float64            `yaml:"points" json:"points"`
}

// ExamEntry is an exam configuration as written in a bank file.
type ExamEntry struct {
	ID               string      `yaml:"id" json:"id"`
	Title            string      `yaml:"title" json:"title"`
	Published        bool        `yaml:"published" json:"published"`
	OpensAt          *time.Time  `yaml:"opens_at" json:"opens_at"`
	ClosesAt         *time.Time  `yaml:"closes_at" json:"closes_at"`
	MaxAttempts      int         `yaml:"max_attempts" json:"max_attempts"`
	ShuffleQuestions bool        `yaml:"shuffle_questions" json:"shuffle_questions"`
	ShuffleOptions   bool        `yaml:"shuffle_options" json:"shuffle_options"`
	Rules            []RuleEntry `yaml:"rules" json:"rules"`
}

// Parse decodes a bank file, picking the format from the file extension.
func Parse(name string, data []byte) (File, error) {
	var f File
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return f, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return f, fmt.Errorf("%s: unsupported bank file extension", name)
	}
	return f, nil
}

// Question converts the entry into a bank record.
func (e QuestionEntry) Question() (model.Question, error) {
	q := model.Question{
		Type:       e.Type,
		Difficulty: e.Difficulty,
		CategoryID: e.Category,
		Content:    e.Content,
		Options:    e.Options,
		Rubric:     e.Rubric,
		MaxScore:   1,
		Active:     !e.Inactive,
	}
	if e.MaxScore != nil {
		q.MaxScore = *e.MaxScore
	}
	if !q.Type.Valid() {
		return q, fmt.Errorf("unknown type %q", e.Type)
	}
	if !q.Difficulty.Valid() {
		return q, fmt.Errorf("unknown difficulty %q", e.Difficulty)
	}
	if strings.TrimSpace(q.Content) == "" {
		return q, errors.New("empty content")
	}
	if !(q.MaxScore > 0) || math.IsInf(q.MaxScore, 0) {
		return q, fmt.Errorf("max_score must be a positive number, got %g", q.MaxScore)
	}

	switch q.Type {
	case model.TypeTrueFalse:
		b, ok := e.Correct.(bool)
		if !ok {
			return q, errors.New("true/false question needs a boolean correct value")
		}
		q.CorrectBool = &b
	case model.TypeSingleChoice, model.TypeMultiChoice:
		keys, err := choiceKeys(e.Correct)
		if err != nil {
			return q, err
		}
		if q.Type == model.TypeSingleChoice && len(keys) != 1 {
			return q, fmt.Errorf("single choice question needs exactly one correct key, got %d", len(keys))
		}
		if err := checkOptions(q.Options, keys); err != nil {
			return q, err
		}
		q.CorrectKeys = keys
	case model.TypeShortAnswer:
		if e.Correct != nil {
			s, ok := e.Correct.(string)
			if !ok {
				return q, errors.New("short answer reference must be a string")
			}
			q.ReferenceAnswer = s
		}
	}
	return q, nil
}

func choiceKeys(v any) ([]string, error) {
	switch c := v.(type) {
	case string:
		return []string{c}, nil
	case []any:
		keys := make([]string, 0, len(c))
		for _, k := range c {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("correct key %v is not a string", k)
			}
			keys = append(keys, s)
		}
		if len(keys) == 0 {
			return nil, errors.New("choice question needs at least one correct key")
		}
		return keys, nil
	}
	return nil, errors.New("choice question needs correct keys")
}

func checkOptions(opts []model.Option, correct []string) error {
	if len(opts) < 2 {
		return fmt.Errorf("choice question needs at least 2 options, got %d", len(opts))
	}
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if o.Key == "" {
			return errors.New("option with empty key")
		}
		if seen[o.Key] {
			return fmt.Errorf("duplicate option key %q", o.Key)
		}
		seen[o.Key] = true
	}
	for _, k := range correct {
		if !seen[k] {
			return fmt.Errorf("correct key %q is not an option", k)
		}
	}
	return nil
}

// Exam converts the entry into an exam configuration.
func (e ExamEntry) Exam() (model.Exam, error) {
	ex := model.Exam{
		ID:               e.ID,
		Title:            e.Title,
		Published:        e.Published,
		OpensAt:          e.OpensAt,
		ClosesAt:         e.ClosesAt,
		MaxAttempts:      e.MaxAttempts,
		ShuffleQuestions: e.ShuffleQuestions,
		ShuffleOptions:   e.ShuffleOptions,
	}
	if strings.TrimSpace(ex.ID) == "" {
		return ex, errors.New("exam without id")
	}
	if ex.MaxAttempts < 0 {
		return ex, fmt.Errorf("exam %s: negative max_attempts", ex.ID)
	}
	if ex.OpensAt != nil && ex.ClosesAt != nil && ex.ClosesAt.Before(*ex.OpensAt) {
		return ex, fmt.Errorf("exam %s: closes_at before opens_at", ex.ID)
	}
	for _, r := range e.Rules {
		ex.Rules = append(ex.Rules, model.DistributionRule{
			CategoryID: r.Category,
			Type:       r.Type,
			Easy:       r.Easy,
			Medium:     r.Medium,
			Hard:       r.Hard,
			Quantity:   r.Quantity,
			Points:     r.Points,
		})
	}
	if err := engine.ValidateRules(ex.Rules); err != nil {
		return ex, fmt.Errorf("exam %s: %w", ex.ID, err)
	}
	return ex, nil
}

// Validate converts every entry of f and reports all problems at once.
func (f File) Validate() ([]model.Question, []model.Exam, error) {
	var errs []error
	questions := make([]model.Question, 0, len(f.Questions))
	for i, e := range f.Questions {
		q, err := e.Question()
		if err != nil {
			errs = append(errs, fmt.Errorf("question %d: %w", i+1, err))
			continue
		}
		questions = append(questions, q)
	}
	exams := make([]model.Exam, 0, len(f.Exams))
	for i, e := range f.Exams {
		ex, err := e.Exam()
		if err != nil {
			errs = append(errs, fmt.Errorf("exam %d: %w", i+1, err))
			continue
		}
		exams = append(exams, ex)
	}
	return questions, exams, errors.Join(errs...)
}

// Store is the persistence the importer writes to.
type Store interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	ImportBank(ctx context.Context, path, hash string, questions []model.Question, exams []model.Exam) error
}

// Result summarizes one imported file.
type Result struct {
	Path      string
	Questions int
	Exams     int
	Skipped   bool
}

// ImportFile imports a bank file once. A file whose content changed since
// its first import is skipped so that existing bank records stay stable.
func ImportFile(ctx context.Context, st Store, path string) (Result, error) {
	res := Result{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := st.GetImportedFileHash(ctx, path)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("bank file unchanged, skipping", "path", path)
		res.Skipped = true
		return res, nil
	}
	if storedHash != "" {
		slog.Warn("bank file changed since last import, skipping", "path", path)
		res.Skipped = true
		return res, nil
	}

	f, err := Parse(path, data)
	if err != nil {
		return res, err
	}
	questions, exams, err := f.Validate()
	if err != nil {
		return res, fmt.Errorf("validate %s: %w", path, err)
	}

	if err := st.ImportBank(ctx, path, hash, questions, exams); err != nil {
		return res, fmt.Errorf("import %s: %w", path, err)
	}
	res.Questions = len(questions)
	res.Exams = len(exams)
	slog.Info("imported bank file", "path", path, "questions", res.Questions, "exams", res.Exams)
	return res, nil
}

// ImportFiles imports each path in order and stops at the first failure.
func ImportFiles(ctx context.Context, st Store, paths []string) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		r, err := ImportFile(ctx, st, p)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
