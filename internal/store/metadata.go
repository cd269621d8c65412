package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examengine/internal/model"
)

// GetImportedFileHash returns the content hash recorded for an imported bank
// file. Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = $1`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported bank file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	return setImportedFileHash(ctx, s.db, path, hash)
}

func setImportedFileHash(ctx context.Context, db queryer, path, hash string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash, imported_at) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}

// ImportBank stores the questions and exams of one bank file and records its
// hash in a single transaction. On error nothing is written.
func (s *Store) ImportBank(ctx context.Context, path, hash string, questions []model.Question, exams []model.Exam) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, q := range questions {
			if _, err := insertQuestion(ctx, tx, q); err != nil {
				return fmt.Errorf("insert question %d: %w", i+1, err)
			}
		}
		for _, e := range exams {
			if err := upsertExam(ctx, tx, e); err != nil {
				return fmt.Errorf("store exam %s: %w", e.ID, err)
			}
		}
		return setImportedFileHash(ctx, tx, path, hash)
	})
}
