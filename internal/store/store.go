package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pavelanni/examengine/internal/model"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps a driver name or common alias to a Driver.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported driver %q", name)
}

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

type Store struct {
	db     *sql.DB
	driver Driver
}

// queryer is implemented by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens a SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the given backend, tunes the pool and applies the schema.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "examengine.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqlitePragmas
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examengine?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func tunePool(driver Driver, db *sql.DB) {
	if driver == DriverSQLite {
		// Single writer; also keeps ":memory:" databases on one connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
		return
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(45 * time.Minute)
	db.SetConnMaxIdleTime(15 * time.Minute)
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

// isUniqueViolation reports whether err is a unique constraint failure on either backend.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
		return false
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		options_json TEXT NOT NULL DEFAULT '[]',
		correct_json TEXT NOT NULL DEFAULT 'null',
		reference_answer TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		max_score REAL NOT NULL DEFAULT 1,
		usage_count INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_questions_candidates
		ON questions (category_id, type, difficulty, active, usage_count);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		published BOOLEAN NOT NULL DEFAULT 0,
		opens_at DATETIME,
		closes_at DATETIME,
		max_attempts INTEGER NOT NULL DEFAULT 0,
		shuffle_questions BOOLEAN NOT NULL DEFAULT 0,
		shuffle_options BOOLEAN NOT NULL DEFAULT 0,
		rules_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		test_taker_id TEXT NOT NULL,
		exam_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		state TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		max_score REAL NOT NULL,
		earned_score REAL,
		started_at DATETIME NOT NULL,
		submitted_at DATETIME,
		graded_at DATETIME,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		seed INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		UNIQUE (test_taker_id, exam_id, number),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_open
		ON attempts (test_taker_id, exam_id) WHERE state = 'IN_PROGRESS';

	CREATE INDEX IF NOT EXISTS idx_attempts_exam ON attempts (exam_id, submitted_at);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		question_type TEXT NOT NULL,
		max_score REAL NOT NULL,
		payload TEXT NOT NULL,
		correct BOOLEAN,
		score REAL,
		grader_id TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		graded_at DATETIME,
		updated_at DATETIME NOT NULL,
		UNIQUE (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`

const schemaPostgres = `
	CREATE TABLE IF NOT EXISTS questions (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		options_json TEXT NOT NULL DEFAULT '[]',
		correct_json TEXT NOT NULL DEFAULT 'null',
		reference_answer TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		max_score DOUBLE PRECISION NOT NULL DEFAULT 1,
		usage_count BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_questions_candidates
		ON questions (category_id, type, difficulty, active, usage_count);

	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		opens_at TIMESTAMPTZ,
		closes_at TIMESTAMPTZ,
		max_attempts INTEGER NOT NULL DEFAULT 0,
		shuffle_questions BOOLEAN NOT NULL DEFAULT FALSE,
		shuffle_options BOOLEAN NOT NULL DEFAULT FALSE,
		rules_json TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		test_taker_id TEXT NOT NULL,
		exam_id TEXT NOT NULL REFERENCES exams(id),
		number INTEGER NOT NULL,
		state TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		max_score DOUBLE PRECISION NOT NULL,
		earned_score DOUBLE PRECISION,
		started_at TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ,
		graded_at TIMESTAMPTZ,
		duration_seconds BIGINT NOT NULL DEFAULT 0,
		seed BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		UNIQUE (test_taker_id, exam_id, number)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_open
		ON attempts (test_taker_id, exam_id) WHERE state = 'IN_PROGRESS';

	CREATE INDEX IF NOT EXISTS idx_attempts_exam ON attempts (exam_id, submitted_at);

	CREATE TABLE IF NOT EXISTS answers (
		id BIGSERIAL PRIMARY KEY,
		attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
		question_id BIGINT NOT NULL,
		question_type TEXT NOT NULL,
		max_score DOUBLE PRECISION NOT NULL,
		payload TEXT NOT NULL,
		correct BOOLEAN,
		score DOUBLE PRECISION,
		grader_id TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		graded_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (attempt_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at TIMESTAMPTZ NOT NULL
	);
	`
