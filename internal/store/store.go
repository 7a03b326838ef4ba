package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/jeeprep/mocktest/internal/model"
)

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Store is the SQL-backed question bank and attempt store.
//
// A Store owns its connection pool. Create it once with Open and release it
// with Close; components receive it explicitly.
type Store struct {
	db     *sql.DB
	driver Driver
}

// New opens a SQLite store at dbPath. ":memory:" gives an ephemeral database.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "mocktest.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/mocktest?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer; also keeps ":memory:" on a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
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
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	chapter TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	question_type TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	options_json TEXT,
	correct_answer TEXT NOT NULL,
	solution TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	exam_type TEXT NOT NULL DEFAULT 'MAIN'
);

CREATE INDEX IF NOT EXISTS idx_questions_pool ON questions (subject, exam_type, is_active);

CREATE TABLE IF NOT EXISTS mock_tests (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	exam_type TEXT NOT NULL DEFAULT 'MAIN',
	duration_seconds INTEGER NOT NULL,
	total_questions INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	mock_test_id TEXT NOT NULL,
	lead_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	physics_questions TEXT NOT NULL,
	chemistry_questions TEXT NOT NULL,
	math_questions TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	visited_json TEXT NOT NULL DEFAULT '[]',
	marked_json TEXT NOT NULL DEFAULT '[]',
	current_subject TEXT NOT NULL DEFAULT '',
	current_index INTEGER NOT NULL DEFAULT 0,
	snapshot_seq INTEGER NOT NULL DEFAULT 0,
	physics_score INTEGER NOT NULL DEFAULT 0,
	chemistry_score INTEGER NOT NULL DEFAULT 0,
	math_score INTEGER NOT NULL DEFAULT 0,
	total_score INTEGER NOT NULL DEFAULT 0,
	max_score INTEGER NOT NULL DEFAULT 0,
	correct_count INTEGER NOT NULL DEFAULT 0,
	incorrect_count INTEGER NOT NULL DEFAULT 0,
	unanswered_count INTEGER NOT NULL DEFAULT 0,
	percentile REAL NOT NULL DEFAULT 0,
	total_time_seconds INTEGER NOT NULL DEFAULT 0,
	graded_json TEXT NOT NULL DEFAULT '[]',
	report_token TEXT NOT NULL UNIQUE,
	FOREIGN KEY (mock_test_id) REFERENCES mock_tests(id)
);

CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts (status, started_at);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	chapter TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	question_type TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	options_json TEXT,
	correct_answer TEXT NOT NULL,
	solution TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	exam_type TEXT NOT NULL DEFAULT 'MAIN'
);

CREATE INDEX IF NOT EXISTS idx_questions_pool ON questions (subject, exam_type, is_active);

CREATE TABLE IF NOT EXISTS mock_tests (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	exam_type TEXT NOT NULL DEFAULT 'MAIN',
	duration_seconds INTEGER NOT NULL,
	total_questions INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	mock_test_id TEXT NOT NULL REFERENCES mock_tests(id),
	lead_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	started_at BIGINT NOT NULL,
	completed_at BIGINT,
	physics_questions TEXT NOT NULL,
	chemistry_questions TEXT NOT NULL,
	math_questions TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	visited_json TEXT NOT NULL DEFAULT '[]',
	marked_json TEXT NOT NULL DEFAULT '[]',
	current_subject TEXT NOT NULL DEFAULT '',
	current_index INTEGER NOT NULL DEFAULT 0,
	snapshot_seq BIGINT NOT NULL DEFAULT 0,
	physics_score INTEGER NOT NULL DEFAULT 0,
	chemistry_score INTEGER NOT NULL DEFAULT 0,
	math_score INTEGER NOT NULL DEFAULT 0,
	total_score INTEGER NOT NULL DEFAULT 0,
	max_score INTEGER NOT NULL DEFAULT 0,
	correct_count INTEGER NOT NULL DEFAULT 0,
	incorrect_count INTEGER NOT NULL DEFAULT 0,
	unanswered_count INTEGER NOT NULL DEFAULT 0,
	percentile DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_time_seconds INTEGER NOT NULL DEFAULT 0,
	graded_json TEXT NOT NULL DEFAULT '[]',
	report_token TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts (status, started_at);

CREATE TABLE IF NOT EXISTS imported_files (
	path TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
`

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const questionColumns = `id, subject, chapter, difficulty, question_type, text, options_json, correct_answer, solution, is_active, exam_type`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var opts sql.NullString
	err := r.Scan(&q.ID, &q.Subject, &q.Chapter, &q.Difficulty, &q.Type, &q.Text, &opts, &q.CorrectAnswer, &q.Solution, &q.IsActive, &q.ExamType)
	if err != nil {
		return q, err
	}
	if opts.Valid && opts.String != "" {
		if err := json.Unmarshal([]byte(opts.String), &q.Options); err != nil {
			return q, fmt.Errorf("decode options for question %s: %w", q.ID, err)
		}
	}
	return q, nil
}

// InsertQuestion stores or replaces a question. An empty id is assigned a UUID.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (string, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.ExamType == "" {
		q.ExamType = model.ExamMain
	}
	var opts sql.NullString
	if len(q.Options) > 0 {
		b, err := json.Marshal(q.Options)
		if err != nil {
			return "", err
		}
		opts = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.exec(ctx,
		`INSERT INTO questions (`+questionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET subject = excluded.subject, chapter = excluded.chapter,
		   difficulty = excluded.difficulty, question_type = excluded.question_type, text = excluded.text,
		   options_json = excluded.options_json, correct_answer = excluded.correct_answer,
		   solution = excluded.solution, is_active = excluded.is_active, exam_type = excluded.exam_type`,
		q.ID, q.Subject, q.Chapter, q.Difficulty, q.Type, q.Text, opts, q.CorrectAnswer, q.Solution, q.IsActive, q.ExamType,
	)
	if err != nil {
		return "", err
	}
	return q.ID, nil
}

// ListQuestions returns active questions matching the filter, ordered by id.
func (s *Store) ListQuestions(ctx context.Context, f model.QuestionFilter) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE is_active = ?`
	args := []any{true}
	if f.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, f.Subject)
	}
	if f.ExamType != "" {
		query += ` AND exam_type = ?`
		args = append(args, f.ExamType)
	}
	if f.Difficulty != "" {
		query += ` AND difficulty = ?`
		args = append(args, f.Difficulty)
	}
	if len(f.Types) > 0 {
		query += ` AND question_type IN (` + placeholders(len(f.Types)) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestions returns the questions with the given ids, active or not.
// Missing ids are silently absent from the result.
func (s *Store) GetQuestions(ctx context.Context, ids []string) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by id.
func (s *Store) GetQuestion(ctx context.Context, id string) (model.Question, error) {
	q, err := scanQuestion(s.queryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return q, fmt.Errorf("question %s: %w", id, model.ErrNotFound)
	}
	return q, err
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CreateMockTest stores a mock test template. An empty id is assigned a UUID.
func (s *Store) CreateMockTest(ctx context.Context, m model.MockTest) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ExamType == "" {
		m.ExamType = model.ExamMain
	}
	_, err := s.exec(ctx,
		`INSERT INTO mock_tests (id, name, exam_type, duration_seconds, total_questions, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.ExamType, m.Duration, m.TotalQuestions, m.IsActive, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", err
	}
	slog.Info("created mock test", "id", m.ID, "name", m.Name, "duration", m.Duration)
	return m.ID, nil
}

const mockTestColumns = `id, name, exam_type, duration_seconds, total_questions, is_active`

// GetMockTest returns a mock test by id.
func (s *Store) GetMockTest(ctx context.Context, id string) (model.MockTest, error) {
	var m model.MockTest
	err := s.queryRow(ctx, `SELECT `+mockTestColumns+` FROM mock_tests WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.ExamType, &m.Duration, &m.TotalQuestions, &m.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("mock test %s: %w", id, model.ErrNotFound)
	}
	return m, err
}

// DefaultMockTest returns the oldest active mock test.
func (s *Store) DefaultMockTest(ctx context.Context) (model.MockTest, error) {
	var m model.MockTest
	err := s.queryRow(ctx,
		`SELECT `+mockTestColumns+` FROM mock_tests WHERE is_active = ? ORDER BY created_at, id LIMIT 1`, true).
		Scan(&m.ID, &m.Name, &m.ExamType, &m.Duration, &m.TotalQuestions, &m.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("default mock test: %w", model.ErrNotFound)
	}
	return m, err
}

// MockTestCount returns the number of mock tests.
func (s *Store) MockTestCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM mock_tests`).Scan(&count)
	return count, err
}
