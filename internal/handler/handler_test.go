package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/report"
	"github.com/jeeprep/mocktest/internal/scoring"
	"github.com/jeeprep/mocktest/internal/selector"
	"github.com/jeeprep/mocktest/internal/store"
)

type fixedSelector selector.Paper

func (f fixedSelector) Select(context.Context) (selector.Paper, error) {
	return selector.Paper(f), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for _, q := range []model.Question{
		{ID: "p1", Subject: model.SubjectPhysics, Chapter: "Optics", Difficulty: model.DifficultyEasy, Type: model.QuestionMCQ,
			Options: []model.Option{{ID: "A", Text: "x"}, {ID: "B", Text: "y"}}, CorrectAnswer: "B", Solution: "secret", IsActive: true},
		{ID: "c1", Subject: model.SubjectChemistry, Chapter: "Mole Concept", Difficulty: model.DifficultyEasy, Type: model.QuestionNumerical,
			CorrectAnswer: "4", IsActive: true},
		{ID: "m1", Subject: model.SubjectMathematics, Chapter: "Limits", Difficulty: model.DifficultyEasy, Type: model.QuestionMCQ,
			CorrectAnswer: "A", IsActive: true},
	} {
		if _, err := st.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}
	if _, err := st.CreateMockTest(ctx, model.MockTest{Name: "Mock", Duration: 10800, TotalQuestions: 90, IsActive: true}); err != nil {
		t.Fatalf("CreateMockTest: %v", err)
	}

	sel := fixedSelector{
		model.SubjectPhysics:     {"p1"},
		model.SubjectChemistry:   {"c1"},
		model.SubjectMathematics: {"m1"},
	}
	svc := attempt.New(st, sel, scoring.New(scoring.DefaultScheme()))
	srv := httptest.NewServer(NewRouter(New(svc, st, Config{}), RouterOptions{Lang: "en"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func TestExamFlow(t *testing.T) {
	srv, st := newTestServer(t)
	api := srv.URL + "/api/v1"

	var start struct {
		AttemptID           string              `json:"attemptId"`
		Duration            int                 `json:"duration"`
		TotalQuestions      int                 `json:"totalQuestions"`
		QuestionsPerSubject model.SubjectScores `json:"questionsPerSubject"`
		Message             string              `json:"message"`
	}
	resp := doJSON(t, "POST", api+"/mock-tests/start", map[string]string{"leadId": "lead-1"}, &start)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", resp.StatusCode)
	}
	if start.Duration != 10800 || start.TotalQuestions != 3 || start.QuestionsPerSubject.Physics != 1 {
		t.Errorf("unexpected start response %+v", start)
	}
	if start.Message != "3 questions assigned." {
		t.Errorf("unexpected message %q", start.Message)
	}

	// Questions are sanitized.
	req, _ := http.NewRequest("GET", api+"/attempts/"+start.AttemptID+"/questions", nil)
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	var buf bytes.Buffer
	buf.ReadFrom(raw.Body)
	raw.Body.Close()
	if raw.StatusCode != http.StatusOK {
		t.Fatalf("questions: expected 200, got %d", raw.StatusCode)
	}
	if strings.Contains(buf.String(), "correctAnswer") || strings.Contains(buf.String(), "secret") {
		t.Errorf("questions payload leaks answers: %s", buf.String())
	}

	resp = doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/answer",
		attempt.AnswerInput{QuestionID: "p1", Answer: "A", TimeSpentDelta: 30}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/autosave", model.Snapshot{
		Answers:        model.Answers{"p1": {Answer: "A", TimeSpent: 30}, "c1": {Answer: "4.2", TimeSpent: 15}},
		Visited:        []string{"p1", "c1"},
		CurrentSubject: model.SubjectChemistry,
		Seq:            1,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("autosave: expected 200, got %d", resp.StatusCode)
	}

	var sub struct {
		Status      model.AttemptStatus `json:"status"`
		ReportToken string              `json:"reportToken"`
		Summary     model.Summary       `json:"summary"`
		Message     string              `json:"message"`
	}
	final := map[string]any{"answers": map[string]model.FinalAnswer{"p1": {Answer: "B", TimeSpent: 10}}}
	resp = doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/submit", final, &sub)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", resp.StatusCode)
	}
	if sub.Status != model.StatusCompleted || sub.ReportToken == "" {
		t.Fatalf("unexpected submit response %+v", sub)
	}
	// p1 B correct, c1 4.2 rounds to 4 correct, m1 unanswered.
	if sub.Summary.TotalScore != 8 || sub.Summary.MaxScore != 12 || sub.Summary.Correct != 2 {
		t.Errorf("unexpected summary %+v", sub.Summary)
	}
	if sub.Message != "Submitted. You scored 8 out of 12." {
		t.Errorf("unexpected submit message %q", sub.Message)
	}

	a, _ := st.GetAttempt(context.Background(), start.AttemptID)
	if got := a.Answers["p1"]; got.Answer != "B" || got.TimeSpent != 40 {
		t.Errorf("expected merged B/40, got %+v", got)
	}

	var again struct {
		ReportToken string `json:"reportToken"`
		Message     string `json:"message"`
	}
	resp = doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/submit", final, &again)
	if resp.StatusCode != http.StatusOK || again.ReportToken != sub.ReportToken {
		t.Errorf("resubmit: status %d token %q", resp.StatusCode, again.ReportToken)
	}
	if again.Message != "This attempt was already submitted." {
		t.Errorf("unexpected replay message %q", again.Message)
	}

	var rep report.Report
	resp = doJSON(t, "GET", api+"/reports/"+sub.ReportToken, nil, &rep)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", resp.StatusCode)
	}
	if len(rep.Subjects) != 3 || rep.Subjects[0].Label != "Physics" {
		t.Errorf("unexpected report subjects %+v", rep.Subjects)
	}
	if len(rep.Chapters) != 3 || rep.Chapters[0].Accuracy != 100 {
		t.Errorf("unexpected chapters %+v", rep.Chapters)
	}

	var errBody errResp
	resp = doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/answer",
		attempt.AnswerInput{QuestionID: "p1", Answer: "A"}, &errBody)
	if resp.StatusCode != http.StatusConflict || errBody.Error != "ErrAttemptClosed" {
		t.Errorf("answer after submit: status %d body %+v", resp.StatusCode, errBody)
	}
}

func TestLocalizedReportLabels(t *testing.T) {
	srv, _ := newTestServer(t)
	api := srv.URL + "/api/v1"

	var start struct {
		AttemptID string `json:"attemptId"`
	}
	doJSON(t, "POST", api+"/mock-tests/start", nil, &start)
	var sub struct {
		ReportToken string `json:"reportToken"`
	}
	doJSON(t, "POST", api+"/attempts/"+start.AttemptID+"/submit", nil, &sub)

	req, _ := http.NewRequest("GET", api+"/reports/"+sub.ReportToken, nil)
	req.Header.Set("Accept-Language", "hi")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	defer resp.Body.Close()
	var rep report.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Subjects[2].Label != "गणित" {
		t.Errorf("expected Hindi label, got %q", rep.Subjects[2].Label)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]string
	resp := doJSON(t, "GET", srv.URL+"/healthz", nil, &health)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz: %d %v", resp.StatusCode, health)
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(mresp.Body)
	if !strings.Contains(buf.String(), "mocktest_http_requests_total") {
		t.Error("expected request counter in /metrics")
	}
}

// stubEngine returns err from every call.
type stubEngine struct{ err error }

func (s stubEngine) Start(context.Context, attempt.StartRequest) (*attempt.StartResult, error) {
	return nil, s.err
}
func (s stubEngine) Questions(context.Context, string) (*attempt.Paper, error) { return nil, s.err }
func (s stubEngine) Answer(context.Context, string, attempt.AnswerInput) error { return s.err }
func (s stubEngine) Autosave(context.Context, string, model.Snapshot) error    { return s.err }
func (s stubEngine) Submit(context.Context, string, map[string]model.FinalAnswer) (*attempt.SubmitResult, error) {
	return nil, s.err
}
func (s stubEngine) Report(context.Context, string) (*report.Report, error) { return nil, s.err }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func TestErrorMapping(t *testing.T) {
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	tests := []struct {
		name       string
		err        error
		method     string
		path       string
		wantStatus int
		wantID     string
	}{
		{"pool exhausted", fmt.Errorf("x: %w", model.ErrPoolExhausted), "POST", "/api/v1/mock-tests/start", 503, "ErrPoolExhausted"},
		{"not found", model.ErrNotFound, "POST", "/api/v1/attempts/a/submit", 404, "ErrNotFound"},
		{"gone", model.ErrGone, "POST", "/api/v1/attempts/a/submit", 410, "ErrGone"},
		{"closed", model.ErrAttemptClosed, "POST", "/api/v1/attempts/a/answer", 409, "ErrAttemptClosed"},
		{"stale", model.ErrStaleSnapshot, "POST", "/api/v1/attempts/a/autosave", 409, "ErrStaleSnapshot"},
		{"not ready", model.ErrReportNotReady, "GET", "/api/v1/reports/t", 409, "ErrReportNotReady"},
		{"unknown question", model.ErrUnknownQuestion, "POST", "/api/v1/attempts/a/answer", 400, "ErrUnknownQuestion"},
		{"invalid", model.ErrInvalidInput, "POST", "/api/v1/attempts/a/answer", 400, "ErrInvalidInput"},
		{"internal", errors.New("disk on fire"), "GET", "/api/v1/attempts/a/questions", 500, "ErrInternal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(stubEngine{err: tt.err}, okPinger{}, Config{RetryAfter: time.Minute})
			router := NewRouter(h, RouterOptions{Lang: "en"})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body errResp
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.wantID || body.Message == "" {
				t.Errorf("unexpected body %+v", body)
			}
			if tt.wantStatus == 503 && rec.Header().Get("Retry-After") != "60" {
				t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	h := New(stubEngine{}, okPinger{}, Config{})
	router := NewRouter(h, RouterOptions{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/attempts/a/answer", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBasePath(t *testing.T) {
	h := New(stubEngine{}, okPinger{}, Config{})
	router := NewRouter(h, RouterOptions{BasePath: "jee/"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/jee/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 under base path, got %d", rec.Code)
	}
}
