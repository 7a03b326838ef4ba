package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeeprep/mocktest/internal/model"
)

const attemptColumns = `id, mock_test_id, lead_id, status, started_at, completed_at,
	physics_questions, chemistry_questions, math_questions,
	answers_json, visited_json, marked_json, current_subject, current_index, snapshot_seq,
	physics_score, chemistry_score, math_score, total_score, max_score,
	correct_count, incorrect_count, unanswered_count, percentile, total_time_seconds, report_token, graded_json`

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanAttempt(r rowScanner) (*model.Attempt, error) {
	var (
		a                                  model.Attempt
		startedAt                          int64
		completedAt                        sql.NullInt64
		phys, chem, math                   string
		answersJSON, visitedJSON, markJSON string
		gradedJSON                         string
	)
	err := r.Scan(&a.ID, &a.MockTestID, &a.LeadID, &a.Status, &startedAt, &completedAt,
		&phys, &chem, &math,
		&answersJSON, &visitedJSON, &markJSON, &a.CurrentSubject, &a.CurrentIndex, &a.SnapshotSeq,
		&a.Scores.Physics, &a.Scores.Chemistry, &a.Scores.Mathematics, &a.TotalScore, &a.MaxScore,
		&a.CorrectCount, &a.IncorrectCount, &a.UnansweredCount, &a.Percentile, &a.TotalTimeSeconds, &a.ReportToken,
		&gradedJSON,
	)
	if err != nil {
		return nil, err
	}
	a.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		a.CompletedAt = &t
	}
	for _, f := range []struct {
		src string
		dst any
	}{
		{phys, &a.PhysicsQuestions},
		{chem, &a.ChemistryQuestions},
		{math, &a.MathQuestions},
		{answersJSON, &a.Answers},
		{visitedJSON, &a.Visited},
		{markJSON, &a.MarkedForReview},
		{gradedJSON, &a.Graded},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode attempt %s: %w", a.ID, err)
		}
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	return &a, nil
}

// CreateAttempt inserts a new in-progress attempt with its frozen paper.
func (s *Store) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	phys, err := encodeJSON(a.PhysicsQuestions)
	if err != nil {
		return err
	}
	chem, err := encodeJSON(a.ChemistryQuestions)
	if err != nil {
		return err
	}
	math, err := encodeJSON(a.MathQuestions)
	if err != nil {
		return err
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	answers, err := encodeJSON(a.Answers)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO attempts (id, mock_test_id, lead_id, status, started_at,
			physics_questions, chemistry_questions, math_questions, answers_json, report_token)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MockTestID, a.LeadID, a.Status, toMillis(a.StartedAt),
		phys, chem, math, answers, a.ReportToken,
	)
	return err
}

// GetAttempt returns an attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	a, err := scanAttempt(s.queryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %s: %w", id, model.ErrNotFound)
	}
	return a, err
}

// GetAttemptByReportToken returns the attempt owning a report token.
func (s *Store) GetAttemptByReportToken(ctx context.Context, token string) (*model.Attempt, error) {
	a, err := scanAttempt(s.queryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE report_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", token, model.ErrNotFound)
	}
	return a, err
}

// closedOrMissing explains why a guarded update touched no rows.
func (s *Store) closedOrMissing(ctx context.Context, id string) error {
	a, err := s.GetAttempt(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != model.StatusInProgress {
		return fmt.Errorf("attempt %s is %s: %w", id, a.Status, model.ErrAttemptClosed)
	}
	return nil
}

// SaveProgress writes the answer state of an in-progress attempt.
// It fails with ErrAttemptClosed once the attempt is terminal.
func (s *Store) SaveProgress(ctx context.Context, a *model.Attempt) error {
	answers, err := encodeJSON(a.Answers)
	if err != nil {
		return err
	}
	visited, err := encodeJSON(nonNil(a.Visited))
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE attempts SET answers_json = ?, visited_json = ? WHERE id = ? AND status = ?`,
		answers, visited, a.ID, model.StatusInProgress,
	)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, res, a.ID, model.ErrAttemptClosed)
}

// SaveSnapshot replaces the stored client snapshot wholesale.
//
// When snap.Seq is positive the write only applies if it is newer than the
// stored sequence; otherwise ErrStaleSnapshot is returned.
func (s *Store) SaveSnapshot(ctx context.Context, id string, snap model.Snapshot) error {
	if snap.Answers == nil {
		snap.Answers = model.Answers{}
	}
	answers, err := encodeJSON(snap.Answers)
	if err != nil {
		return err
	}
	visited, err := encodeJSON(nonNil(snap.Visited))
	if err != nil {
		return err
	}
	marked, err := encodeJSON(nonNil(snap.MarkedForReview))
	if err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE attempts SET answers_json = ?, visited_json = ?, marked_json = ?,
			current_subject = ?, current_index = ?,
			snapshot_seq = CASE WHEN ? > 0 THEN ? ELSE snapshot_seq END
		 WHERE id = ? AND status = ? AND (? = 0 OR snapshot_seq < ?)`,
		answers, visited, marked, snap.CurrentSubject, snap.CurrentIndex,
		snap.Seq, snap.Seq,
		id, model.StatusInProgress, snap.Seq, snap.Seq,
	)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, res, id, model.ErrStaleSnapshot)
}

// checkGuarded maps a zero-row guarded update to the right error. If the
// attempt is still in progress, fallback is returned.
func (s *Store) checkGuarded(ctx context.Context, res sql.Result, id string, fallback error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := s.closedOrMissing(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("attempt %s: %w", id, fallback)
}

// CompleteAttempt freezes the results and moves the attempt to COMPLETED.
// It reports false without error when the attempt was not in progress,
// which lets a losing concurrent submit replay the stored result.
func (s *Store) CompleteAttempt(ctx context.Context, id string, c model.Completion) (bool, error) {
	answers, err := encodeJSON(c.Answers)
	if err != nil {
		return false, err
	}
	graded, err := encodeJSON(nonNil(c.Graded))
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx,
		`UPDATE attempts SET status = ?, completed_at = ?, answers_json = ?, graded_json = ?,
			physics_score = ?, chemistry_score = ?, math_score = ?,
			total_score = ?, max_score = ?, correct_count = ?, incorrect_count = ?, unanswered_count = ?,
			percentile = ?, total_time_seconds = ?
		 WHERE id = ? AND status = ?`,
		model.StatusCompleted, toMillis(c.CompletedAt), answers, graded,
		c.Scores.Physics, c.Scores.Chemistry, c.Scores.Mathematics,
		c.TotalScore, c.MaxScore, c.CorrectCount, c.IncorrectCount, c.UnansweredCount,
		c.Percentile, c.TotalTimeSeconds,
		id, model.StatusInProgress,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AbandonExpired marks in-progress attempts whose deadline plus grace lies
// before now as ABANDONED. It returns the number of attempts changed.
func (s *Store) AbandonExpired(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE attempts SET status = ?
		 WHERE status = ?
		   AND started_at + 1000 * (SELECT m.duration_seconds FROM mock_tests m WHERE m.id = attempts.mock_test_id) < ?`,
		model.StatusAbandoned, model.StatusInProgress, toMillis(now.Add(-grace)),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListAttempts returns attempts with the given status, oldest first.
// An empty status lists every attempt.
func (s *Store) ListAttempts(ctx context.Context, status model.AttemptStatus) ([]*model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at, id`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// nonNil makes nil slices encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
