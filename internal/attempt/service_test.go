package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/scoring"
	"github.com/jeeprep/mocktest/internal/selector"
	"github.com/jeeprep/mocktest/internal/store"
)

// fixedSelector always returns the same paper.
type fixedSelector struct {
	paper selector.Paper
	err   error
}

func (f fixedSelector) Select(context.Context) (selector.Paper, error) {
	return f.paper, f.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *store.Store
	clock *clock
}

var testPaper = selector.Paper{
	model.SubjectPhysics:     {"p1", "p2", "p3"},
	model.SubjectChemistry:   {"c1"},
	model.SubjectMathematics: {"m1"},
}

func newFixture(t *testing.T, sel Selector) *fixture {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, q := range []model.Question{
		{ID: "p1", Subject: model.SubjectPhysics, Chapter: "Optics", Difficulty: model.DifficultyEasy, Type: model.QuestionMCQ, CorrectAnswer: "B", Solution: "because", IsActive: true},
		{ID: "p2", Subject: model.SubjectPhysics, Chapter: "Optics", Difficulty: model.DifficultyMedium, Type: model.QuestionMCQ, CorrectAnswer: "A", IsActive: true},
		{ID: "p3", Subject: model.SubjectPhysics, Chapter: "Waves", Difficulty: model.DifficultyHard, Type: model.QuestionMCQ, CorrectAnswer: "C", IsActive: true},
		{ID: "c1", Subject: model.SubjectChemistry, Chapter: "Mole Concept", Difficulty: model.DifficultyEasy, Type: model.QuestionNumerical, CorrectAnswer: "4.5", IsActive: true},
		{ID: "m1", Subject: model.SubjectMathematics, Chapter: "Limits", Difficulty: model.DifficultyEasy, Type: model.QuestionMCQ, CorrectAnswer: "D", IsActive: true},
	} {
		if _, err := st.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}
	if _, err := st.CreateMockTest(ctx, model.MockTest{
		Name: "JEE Main Full Mock", Duration: 10800, TotalQuestions: 90, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateMockTest: %v", err)
	}

	if sel == nil {
		sel = fixedSelector{paper: testPaper}
	}
	clk := &clock{now: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	svc := New(st, sel, scoring.New(scoring.DefaultScheme()), WithClock(clk.Now), WithIDs(ids))
	return &fixture{svc: svc, store: st, clock: clk}
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	res, err := f.svc.Start(context.Background(), StartRequest{LeadID: "lead-7"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return res.AttemptID
}

func TestStart(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Start(context.Background(), StartRequest{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Duration != 10800 {
		t.Errorf("expected duration 10800, got %d", res.Duration)
	}
	if res.TotalQuestions != 5 {
		t.Errorf("expected 5 questions, got %d", res.TotalQuestions)
	}
	want := model.SubjectScores{Physics: 3, Chemistry: 1, Mathematics: 1}
	if res.QuestionsPerSubject != want {
		t.Errorf("expected %+v, got %+v", want, res.QuestionsPerSubject)
	}
	if !res.Deadline.Equal(f.clock.Now().Add(3 * time.Hour)) {
		t.Errorf("unexpected deadline %v", res.Deadline)
	}

	a, err := f.store.GetAttempt(context.Background(), res.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if a.ReportToken == "" || a.ReportToken == a.ID {
		t.Errorf("expected distinct report token, got %q", a.ReportToken)
	}
}

func TestStartErrors(t *testing.T) {
	f := newFixture(t, fixedSelector{err: fmt.Errorf("selected 4: %w", model.ErrPoolExhausted)})
	if _, err := f.svc.Start(context.Background(), StartRequest{}); !errors.Is(err, model.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
	if _, err := f.svc.Start(context.Background(), StartRequest{MockTestID: "nope"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown mock test, got %v", err)
	}
}

func TestQuestions(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t)
	f.clock.Advance(10 * time.Minute)

	p, err := f.svc.Questions(context.Background(), id)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if p.RemainingSeconds != 10800-600 {
		t.Errorf("expected %d remaining, got %d", 10800-600, p.RemainingSeconds)
	}
	phys := p.Questions[model.SubjectPhysics]
	if len(phys) != 3 || phys[0].ID != "p1" || phys[2].Number != 3 {
		t.Fatalf("unexpected physics questions: %+v", phys)
	}
	if phys[0].Section != model.SectionA {
		t.Errorf("expected section A, got %s", phys[0].Section)
	}
	if c := p.Questions[model.SubjectChemistry]; len(c) != 1 || c[0].Section != model.SectionB {
		t.Errorf("expected numeric chemistry question in section B: %+v", c)
	}

	if _, err := f.svc.Questions(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAnswer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p1", Answer: "A", TimeSpentDelta: 30}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p1", Answer: "B", TimeSpentDelta: 10}); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	a, _ := f.store.GetAttempt(ctx, id)
	if got := a.Answers["p1"]; got.Answer != "B" || got.TimeSpent != 40 {
		t.Errorf("expected B/40, got %s/%d", got.Answer, got.TimeSpent)
	}
	if len(a.Visited) != 1 || a.Visited[0] != "p1" {
		t.Errorf("expected p1 visited once, got %v", a.Visited)
	}

	tests := []struct {
		name string
		in   AnswerInput
		want error
	}{
		{"unknown question", AnswerInput{QuestionID: "zz", Answer: "A"}, model.ErrUnknownQuestion},
		{"negative delta", AnswerInput{QuestionID: "p1", Answer: "A", TimeSpentDelta: -1}, model.ErrInvalidInput},
		{"missing id", AnswerInput{Answer: "A"}, model.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.Answer(ctx, id, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConcurrentAnswersAccumulate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p2", Answer: "A", TimeSpentDelta: 1}); err != nil {
				t.Errorf("Answer: %v", err)
			}
		}()
	}
	wg.Wait()

	a, _ := f.store.GetAttempt(ctx, id)
	if got := a.Answers["p2"].TimeSpent; got != 20 {
		t.Errorf("expected 20s accumulated, got %d", got)
	}
}

func TestAutosave(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	snap := model.Snapshot{
		Answers:         model.Answers{"p1": {Answer: "A", TimeSpent: 30}},
		Visited:         []string{"p1", "p2"},
		MarkedForReview: []string{"p2"},
		CurrentSubject:  model.SubjectPhysics,
		CurrentIndex:    1,
		Seq:             2,
	}
	if err := f.svc.Autosave(ctx, id, snap); err != nil {
		t.Fatalf("Autosave: %v", err)
	}

	stale := snap
	stale.Seq = 1
	stale.Answers = model.Answers{}
	if err := f.svc.Autosave(ctx, id, stale); !errors.Is(err, model.ErrStaleSnapshot) {
		t.Errorf("expected ErrStaleSnapshot, got %v", err)
	}

	p, _ := f.svc.Questions(ctx, id)
	if p.Answers["p1"].Answer != "A" || p.CurrentIndex != 1 || p.SnapshotSeq != 2 {
		t.Errorf("snapshot not restored: %+v", p)
	}

	bad := []struct {
		name string
		snap model.Snapshot
		want error
	}{
		{"unknown answer id", model.Snapshot{Answers: model.Answers{"zz": {Answer: "A"}}}, model.ErrUnknownQuestion},
		{"unknown visited id", model.Snapshot{Visited: []string{"zz"}}, model.ErrUnknownQuestion},
		{"bad subject", model.Snapshot{CurrentSubject: "BIOLOGY"}, model.ErrInvalidInput},
		{"negative index", model.Snapshot{CurrentIndex: -1}, model.ErrInvalidInput},
		{"negative time", model.Snapshot{Answers: model.Answers{"p1": {Answer: "A", TimeSpent: -3}}}, model.ErrInvalidInput},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.svc.Autosave(ctx, id, tt.snap); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSubmitMergesAndReplays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p1", Answer: "A", TimeSpentDelta: 30}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	f.clock.Advance(30 * time.Minute)

	res, err := f.svc.Submit(ctx, id, map[string]model.FinalAnswer{
		"p1": {Answer: "B", TimeSpent: 10},
		"p2": {Answer: "C", TimeSpent: 5},
		"c1": {Answer: "4.54", TimeSpent: 20},
		"zz": {Answer: "A", TimeSpent: 1},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != model.StatusCompleted || res.Replayed {
		t.Errorf("unexpected result %+v", res)
	}
	// p1 +4, p2 -1, c1 +4.
	wantSummary := model.Summary{
		TotalScore:             7,
		MaxScore:               20,
		Percentile:             30,
		Correct:                2,
		Incorrect:              1,
		Unanswered:             2,
		TimeSpent:              1800,
		AverageTimePerQuestion: 600,
	}
	if res.Summary != wantSummary {
		t.Errorf("summary: got %+v, want %+v", res.Summary, wantSummary)
	}

	a, _ := f.store.GetAttempt(ctx, id)
	if got := a.Answers["p1"]; got.Answer != "B" || got.TimeSpent != 40 {
		t.Errorf("expected merged B/40, got %s/%d", got.Answer, got.TimeSpent)
	}
	if _, ok := a.Answers["zz"]; ok {
		t.Error("unassigned answer stored")
	}
	if a.Scores.Physics != 3 || a.Scores.Chemistry != 4 {
		t.Errorf("unexpected scores %+v", a.Scores)
	}

	f.clock.Advance(time.Hour)
	again, err := f.svc.Submit(ctx, id, map[string]model.FinalAnswer{"p2": {Answer: "A", TimeSpent: 5}})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ReportToken != res.ReportToken {
		t.Errorf("expected same token %q, got %q", res.ReportToken, again.ReportToken)
	}
	if !again.Replayed || again.Summary != wantSummary {
		t.Errorf("expected replay of %+v, got %+v", wantSummary, again)
	}

	if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p3", Answer: "C"}); !errors.Is(err, model.ErrAttemptClosed) {
		t.Errorf("expected ErrAttemptClosed on answer, got %v", err)
	}
	if err := f.svc.Autosave(ctx, id, model.Snapshot{}); !errors.Is(err, model.ErrAttemptClosed) {
		t.Errorf("expected ErrAttemptClosed on autosave, got %v", err)
	}
	if _, err := f.svc.Questions(ctx, id); !errors.Is(err, model.ErrAttemptClosed) {
		t.Errorf("expected ErrAttemptClosed on questions, got %v", err)
	}
}

func TestSubmitClampsElapsedTime(t *testing.T) {
	f := newFixture(t, nil)
	id := f.start(t)
	f.clock.Advance(5 * time.Hour)

	res, err := f.svc.Submit(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Summary.TimeSpent != 10800 {
		t.Errorf("expected time clamped to 10800, got %d", res.Summary.TimeSpent)
	}
	if res.Summary.AverageTimePerQuestion != 0 {
		t.Errorf("expected avg 0 with nothing attempted, got %d", res.Summary.AverageTimePerQuestion)
	}
}

func TestSubmitAbandonedAndMissing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	f.clock.Advance(4 * time.Hour)
	n, err := f.svc.Sweep(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 abandoned, got %d", n)
	}

	if _, err := f.svc.Submit(ctx, id, nil); !errors.Is(err, model.ErrGone) {
		t.Errorf("expected ErrGone, got %v", err)
	}
	if err := f.svc.Answer(ctx, id, AnswerInput{QuestionID: "p1", Answer: "A"}); !errors.Is(err, model.ErrGone) {
		t.Errorf("expected ErrGone on answer, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, "missing", nil); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentSubmitScoresOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	var wg sync.WaitGroup
	results := make([]*SubmitResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Submit(ctx, id, map[string]model.FinalAnswer{"p1": {Answer: "B", TimeSpent: 1}})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	scored := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if !r.Replayed {
			scored++
		}
		if r.ReportToken != results[0].ReportToken {
			t.Errorf("tokens differ: %q vs %q", r.ReportToken, results[0].ReportToken)
		}
	}
	if scored != 1 {
		t.Errorf("expected exactly one scoring submit, got %d", scored)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)
	a, _ := f.store.GetAttempt(ctx, id)

	if _, err := f.svc.Report(ctx, a.ReportToken); !errors.Is(err, model.ErrReportNotReady) {
		t.Errorf("expected ErrReportNotReady, got %v", err)
	}

	res, err := f.svc.Submit(ctx, id, map[string]model.FinalAnswer{
		"p1": {Answer: "B", TimeSpent: 10},
		"p2": {Answer: "B", TimeSpent: 10},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r, err := f.svc.Report(ctx, res.ReportToken)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.AttemptID != id || r.Summary.TotalScore != 3 {
		t.Errorf("unexpected report header: %+v", r.Summary)
	}
	if len(r.Chapters) != 4 {
		t.Fatalf("expected 4 chapters, got %d", len(r.Chapters))
	}
	optics := r.Chapters[0]
	if optics.Chapter != "Optics" || optics.Correct != 1 || optics.Incorrect != 1 || optics.Accuracy != 50 {
		t.Errorf("unexpected optics stat %+v", optics)
	}
	if r.Subjects[0].Questions[0].Question.Solution != "because" {
		t.Error("expected solution in report")
	}

	if _, err := f.svc.Report(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReportIgnoresLaterKeyChanges(t *testing.T) {
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.start(t)

	res, err := f.svc.Submit(ctx, id, map[string]model.FinalAnswer{
		"p1": {Answer: "B", TimeSpent: 30},
		"c1": {Answer: "4.5", TimeSpent: 20},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	before, err := f.svc.Report(ctx, res.ReportToken)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	// Re-importing p1 with a different key and chapter must not regrade it.
	if _, err := f.store.InsertQuestion(ctx, model.Question{
		ID: "p1", Subject: model.SubjectPhysics, Chapter: "Kinematics", Difficulty: model.DifficultyEasy,
		Type: model.QuestionMCQ, CorrectAnswer: "A", Solution: "revised", IsActive: true,
	}); err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}

	after, err := f.svc.Report(ctx, res.ReportToken)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	phys := after.Subjects[0]
	if phys.Label != "Physics" {
		t.Errorf("expected label Physics, got %q", phys.Label)
	}
	if phys.Correct != 1 || phys.Score != 4 || phys.Score != before.Subjects[0].Score {
		t.Errorf("physics regraded: before %+v, after %+v", before.Subjects[0], phys)
	}
	for i, subj := range after.Subjects {
		var marks int
		for _, qr := range subj.Questions {
			marks += qr.Marks
		}
		if marks != subj.Score {
			t.Errorf("subject %d: question marks sum to %d, score is %d", i, marks, subj.Score)
		}
	}
	p1 := phys.Questions[0]
	if p1.Outcome != model.OutcomeCorrect || p1.Marks != 4 || p1.Question.Solution != "revised" {
		t.Errorf("unexpected p1 result %+v", p1)
	}
	if len(after.Chapters) != len(before.Chapters) {
		t.Fatalf("chapters changed: before %+v, after %+v", before.Chapters, after.Chapters)
	}
	for i := range before.Chapters {
		if after.Chapters[i] != before.Chapters[i] {
			t.Errorf("chapter %d: before %+v, after %+v", i, before.Chapters[i], after.Chapters[i])
		}
	}
}
