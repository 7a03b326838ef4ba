// Package attempt implements the mock-test attempt lifecycle: start,
// per-question answers, full-snapshot autosave, submit and report lookup.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/metrics"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/report"
	"github.com/jeeprep/mocktest/internal/scoring"
	"github.com/jeeprep/mocktest/internal/selector"
	"github.com/jeeprep/mocktest/internal/timer"
)

// Store is the persistence the service needs.
type Store interface {
	GetMockTest(ctx context.Context, id string) (model.MockTest, error)
	DefaultMockTest(ctx context.Context) (model.MockTest, error)
	GetQuestions(ctx context.Context, ids []string) ([]model.Question, error)

	CreateAttempt(ctx context.Context, a *model.Attempt) error
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	GetAttemptByReportToken(ctx context.Context, token string) (*model.Attempt, error)
	SaveProgress(ctx context.Context, a *model.Attempt) error
	SaveSnapshot(ctx context.Context, id string, snap model.Snapshot) error
	CompleteAttempt(ctx context.Context, id string, c model.Completion) (bool, error)
	AbandonExpired(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
}

// Selector draws a paper for a new attempt.
type Selector interface {
	Select(ctx context.Context) (selector.Paper, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides id generation for attempts and report tokens.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// Service runs attempts against a store.
type Service struct {
	store  Store
	sel    Selector
	scorer *scoring.Scorer
	now    func() time.Time
	newID  func() string

	// Striped locks serialize read-modify-write on one attempt within this process.
	locks [64]sync.Mutex
}

// New creates a Service.
func New(store Store, sel Selector, scorer *scoring.Scorer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		sel:    sel,
		scorer: scorer,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.locks[h.Sum32()%uint32(len(s.locks))]
	m.Lock()
	return m.Unlock
}

// StartRequest selects the mock test and candidate for a new attempt.
type StartRequest struct {
	MockTestID string `json:"mockTestId,omitempty"`
	LeadID     string `json:"leadId,omitempty"`
}

// StartResult describes a freshly created attempt.
type StartResult struct {
	AttemptID           string              `json:"attemptId"`
	Duration            int                 `json:"duration"`
	TotalQuestions      int                 `json:"totalQuestions"`
	QuestionsPerSubject model.SubjectScores `json:"questionsPerSubject"`
	StartedAt           time.Time           `json:"startedAt"`
	Deadline            time.Time           `json:"deadline"`
}

// Start creates an attempt with a freshly drawn, frozen paper.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	mt, err := s.mockTest(ctx, req.MockTestID)
	if err != nil {
		return nil, err
	}

	paper, err := s.sel.Select(ctx)
	if err != nil {
		if errors.Is(err, model.ErrPoolExhausted) {
			metrics.PoolExhausted.Inc()
		}
		return nil, err
	}

	a := &model.Attempt{
		ID:                 s.newID(),
		MockTestID:         mt.ID,
		LeadID:             req.LeadID,
		Status:             model.StatusInProgress,
		StartedAt:          s.now(),
		PhysicsQuestions:   paper[model.SubjectPhysics],
		ChemistryQuestions: paper[model.SubjectChemistry],
		MathQuestions:      paper[model.SubjectMathematics],
		Answers:            model.Answers{},
		ReportToken:        s.newID(),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	metrics.AttemptsStarted.Inc()
	slog.Info("attempt started", "attempt", a.ID, "mock_test", mt.ID, "lead", a.LeadID, "questions", paper.Total())

	res := &StartResult{
		AttemptID:      a.ID,
		Duration:       mt.Duration,
		TotalQuestions: paper.Total(),
		StartedAt:      a.StartedAt,
		Deadline:       timer.Deadline(a.StartedAt, mt.DurationTime()),
	}
	for _, subj := range model.Subjects {
		res.QuestionsPerSubject.Set(subj, len(paper[subj]))
	}
	return res, nil
}

func (s *Service) mockTest(ctx context.Context, id string) (model.MockTest, error) {
	var (
		mt  model.MockTest
		err error
	)
	if id == "" {
		mt, err = s.store.DefaultMockTest(ctx)
	} else {
		mt, err = s.store.GetMockTest(ctx, id)
	}
	if err != nil {
		return mt, err
	}
	if !mt.IsActive {
		return mt, fmt.Errorf("mock test %s is inactive: %w", mt.ID, model.ErrNotFound)
	}
	return mt, nil
}

// checkWritable rejects writes to terminal attempts.
func checkWritable(a *model.Attempt) error {
	switch a.Status {
	case model.StatusInProgress:
		return nil
	case model.StatusAbandoned:
		return fmt.Errorf("attempt %s: %w", a.ID, model.ErrGone)
	default:
		return fmt.Errorf("attempt %s is %s: %w", a.ID, a.Status, model.ErrAttemptClosed)
	}
}

// QuestionView is a question stripped of its answer and solution.
type QuestionView struct {
	ID         string             `json:"id"`
	Subject    model.Subject      `json:"subject"`
	Chapter    string             `json:"chapter"`
	Difficulty model.Difficulty   `json:"difficulty"`
	Type       model.QuestionType `json:"questionType"`
	Text       string             `json:"text"`
	Options    []model.Option     `json:"options,omitempty"`
	Section    model.Section      `json:"section"`
	Number     int                `json:"number"` // 1-based within the subject
}

// Paper is the in-progress view of an attempt.
type Paper struct {
	AttemptID        string                           `json:"attemptId"`
	StartedAt        time.Time                        `json:"startedAt"`
	Duration         int                              `json:"duration"`
	RemainingSeconds int                              `json:"remainingSeconds"`
	Questions        map[model.Subject][]QuestionView `json:"questions"`
	Answers          model.Answers                    `json:"answers"`
	Visited          []string                         `json:"visitedQuestions"`
	MarkedForReview  []string                         `json:"markedForReview"`
	CurrentSubject   model.Subject                    `json:"currentSubject,omitempty"`
	CurrentIndex     int                              `json:"currentIndex"`
	SnapshotSeq      int64                            `json:"snapshotSeq"`
}

// Questions returns the sanitized paper and saved state of an in-progress attempt.
func (s *Service) Questions(ctx context.Context, attemptID string) (*Paper, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if err := checkWritable(a); err != nil {
		return nil, err
	}
	mt, err := s.store.GetMockTest(ctx, a.MockTestID)
	if err != nil {
		return nil, err
	}
	bank, err := s.questionMap(ctx, a)
	if err != nil {
		return nil, err
	}

	remaining := timer.Remaining(a.StartedAt, mt.DurationTime(), s.now())
	p := &Paper{
		AttemptID:        a.ID,
		StartedAt:        a.StartedAt,
		Duration:         mt.Duration,
		RemainingSeconds: int(remaining / time.Second),
		Questions:        make(map[model.Subject][]QuestionView, len(model.Subjects)),
		Answers:          a.Answers,
		Visited:          a.Visited,
		MarkedForReview:  a.MarkedForReview,
		CurrentSubject:   a.CurrentSubject,
		CurrentIndex:     a.CurrentIndex,
		SnapshotSeq:      a.SnapshotSeq,
	}
	for _, subj := range model.Subjects {
		views := []QuestionView{}
		for pos, id := range a.QuestionIDs(subj) {
			q, ok := bank[id]
			if !ok {
				continue
			}
			views = append(views, QuestionView{
				ID:         q.ID,
				Subject:    q.Subject,
				Chapter:    q.Chapter,
				Difficulty: q.Difficulty,
				Type:       q.Type,
				Text:       q.Text,
				Options:    q.Options,
				Section:    s.scorer.SectionOf(pos, q.Type),
				Number:     pos + 1,
			})
		}
		p.Questions[subj] = views
	}
	return p, nil
}

func (s *Service) questionMap(ctx context.Context, a *model.Attempt) (map[string]model.Question, error) {
	qs, err := s.store.GetQuestions(ctx, a.AllQuestionIDs())
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	m := make(map[string]model.Question, len(qs))
	for _, q := range qs {
		m[q.ID] = q
	}
	return m, nil
}

// AnswerInput is one per-question save.
type AnswerInput struct {
	QuestionID     string `json:"questionId"`
	Answer         string `json:"answer"`
	TimeSpentDelta int    `json:"timeSpentDelta"`
}

// Answer replaces the answer for one question and adds the time delta to
// the time already recorded for it. The question is marked visited.
func (s *Service) Answer(ctx context.Context, attemptID string, in AnswerInput) error {
	if in.QuestionID == "" {
		return fmt.Errorf("questionId is required: %w", model.ErrInvalidInput)
	}
	if in.TimeSpentDelta < 0 {
		return fmt.Errorf("timeSpentDelta %d is negative: %w", in.TimeSpentDelta, model.ErrInvalidInput)
	}

	defer s.lock(attemptID)()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := checkWritable(a); err != nil {
		return err
	}
	if !a.Assigned(in.QuestionID) {
		return fmt.Errorf("question %s: %w", in.QuestionID, model.ErrUnknownQuestion)
	}

	applyAnswer(a.Answers, in.QuestionID, in.Answer, in.TimeSpentDelta, s.now())
	if !slices.Contains(a.Visited, in.QuestionID) {
		a.Visited = append(a.Visited, in.QuestionID)
	}
	return s.store.SaveProgress(ctx, a)
}

// Autosave replaces the stored client snapshot wholesale.
//
// Without a sequence stamp the last write wins. With a positive Seq, a
// snapshot not newer than the stored one fails with ErrStaleSnapshot.
func (s *Service) Autosave(ctx context.Context, attemptID string, snap model.Snapshot) error {
	if snap.CurrentSubject != "" && !snap.CurrentSubject.Valid() {
		return fmt.Errorf("currentSubject %q: %w", snap.CurrentSubject, model.ErrInvalidInput)
	}
	if snap.CurrentIndex < 0 || snap.Seq < 0 {
		return fmt.Errorf("negative currentIndex or seq: %w", model.ErrInvalidInput)
	}

	defer s.lock(attemptID)()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if err := checkWritable(a); err != nil {
		return err
	}
	for id, e := range snap.Answers {
		if !a.Assigned(id) {
			return fmt.Errorf("answer for question %s: %w", id, model.ErrUnknownQuestion)
		}
		if e.TimeSpent < 0 {
			return fmt.Errorf("timeSpent for question %s is negative: %w", id, model.ErrInvalidInput)
		}
	}
	for _, list := range [][]string{snap.Visited, snap.MarkedForReview} {
		for _, id := range list {
			if !a.Assigned(id) {
				return fmt.Errorf("question %s: %w", id, model.ErrUnknownQuestion)
			}
		}
	}

	err = s.store.SaveSnapshot(ctx, attemptID, snap)
	if errors.Is(err, model.ErrStaleSnapshot) {
		metrics.StaleSnapshots.Inc()
		slog.Debug("stale snapshot rejected", "attempt", attemptID, "seq", snap.Seq)
	}
	return err
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	Status      model.AttemptStatus `json:"status"`
	ReportToken string              `json:"reportToken"`
	Summary     model.Summary       `json:"summary"`
	// Replayed is true when the attempt had already been completed.
	Replayed bool `json:"-"`
}

func replay(a *model.Attempt) *SubmitResult {
	return &SubmitResult{
		Status:      a.Status,
		ReportToken: a.ReportToken,
		Summary:     model.SummaryOf(a),
		Replayed:    true,
	}
}

// Submit reconciles the final answers, scores the attempt and completes it.
//
// A completed attempt is never re-scored: its stored result is returned.
// An abandoned attempt fails with ErrGone.
func (s *Service) Submit(ctx context.Context, attemptID string, final map[string]model.FinalAnswer) (*SubmitResult, error) {
	defer s.lock(attemptID)()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case model.StatusCompleted:
		metrics.AttemptsSubmitted.WithLabelValues("replayed").Inc()
		return replay(a), nil
	case model.StatusAbandoned:
		return nil, fmt.Errorf("attempt %s: %w", attemptID, model.ErrGone)
	}

	payload := make(map[string]model.FinalAnswer, len(final))
	for id, fa := range final {
		if !a.Assigned(id) {
			slog.Warn("dropping answer for unassigned question", "attempt", attemptID, "question", id)
			continue
		}
		if fa.TimeSpent < 0 {
			fa.TimeSpent = 0
		}
		payload[id] = fa
	}

	now := s.now()
	merged := MergeAnswers(a.Answers, payload, now)

	mt, err := s.store.GetMockTest(ctx, a.MockTestID)
	if err != nil {
		return nil, err
	}
	bank, err := s.questionMap(ctx, a)
	if err != nil {
		return nil, err
	}

	res := s.scorer.Score(a, bank, merged)
	c := model.Completion{
		Answers:          merged,
		Scores:           res.Scores(),
		Graded:           res.Graded(),
		TotalScore:       res.TotalScore,
		MaxScore:         res.MaxScore,
		CorrectCount:     res.Correct,
		IncorrectCount:   res.Incorrect,
		UnansweredCount:  res.Unanswered,
		Percentile:       scoring.EstimatePercentile(res.TotalScore, res.MaxScore),
		TotalTimeSeconds: timer.ClampElapsed(a.StartedAt, mt.DurationTime(), now),
		CompletedAt:      now,
	}

	ok, err := s.store.CompleteAttempt(ctx, attemptID, c)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if !ok {
		// Another writer finished the attempt first.
		a, err = s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return nil, err
		}
		if a.Status != model.StatusCompleted {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, model.ErrGone)
		}
		metrics.AttemptsSubmitted.WithLabelValues("replayed").Inc()
		return replay(a), nil
	}

	metrics.AttemptsSubmitted.WithLabelValues("scored").Inc()
	metrics.ScorePercentage.Observe(scoring.Percentage(c.TotalScore, c.MaxScore))
	slog.Info("attempt submitted",
		"attempt", attemptID, "score", c.TotalScore, "max", c.MaxScore,
		"percentile", c.Percentile, "time_seconds", c.TotalTimeSeconds)

	a.Status = model.StatusCompleted
	a.CompletedAt = &c.CompletedAt
	a.Scores = c.Scores
	a.Graded = c.Graded
	a.TotalScore = c.TotalScore
	a.MaxScore = c.MaxScore
	a.CorrectCount = c.CorrectCount
	a.IncorrectCount = c.IncorrectCount
	a.UnansweredCount = c.UnansweredCount
	a.Percentile = c.Percentile
	a.TotalTimeSeconds = c.TotalTimeSeconds
	return &SubmitResult{
		Status:      model.StatusCompleted,
		ReportToken: a.ReportToken,
		Summary:     model.SummaryOf(a),
	}, nil
}

// Report returns the scored breakdown for a report token. It fails with
// ErrReportNotReady until the attempt is completed.
func (s *Service) Report(ctx context.Context, token string) (*report.Report, error) {
	a, err := s.store.GetAttemptByReportToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if a.Status != model.StatusCompleted {
		return nil, fmt.Errorf("attempt %s is %s: %w", a.ID, a.Status, model.ErrReportNotReady)
	}
	bank, err := s.questionMap(ctx, a)
	if err != nil {
		return nil, err
	}
	return report.Build(a, bank, func(subj model.Subject) string {
		return i18n.Subject(ctx, string(subj))
	}), nil
}

// Sweep abandons in-progress attempts whose deadline passed more than
// grace ago.
func (s *Service) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := s.store.AbandonExpired(ctx, s.now(), grace)
	if err != nil {
		return 0, fmt.Errorf("abandon expired: %w", err)
	}
	if n > 0 {
		metrics.AttemptsAbandoned.Add(float64(n))
		slog.Info("abandoned expired attempts", "count", n, "grace", grace)
	}
	return n, nil
}
