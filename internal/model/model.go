package model

import (
	"fmt"
	"time"
)

// Subject is one of the three JEE subjects.
type Subject string

const (
	SubjectPhysics     Subject = "PHYSICS"
	SubjectChemistry   Subject = "CHEMISTRY"
	SubjectMathematics Subject = "MATHEMATICS"
)

// Subjects lists subjects in paper order.
var Subjects = []Subject{SubjectPhysics, SubjectChemistry, SubjectMathematics}

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	switch s {
	case SubjectPhysics, SubjectChemistry, SubjectMathematics:
		return true
	}
	return false
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Difficulties lists difficulty levels in selection order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionMCQ       QuestionType = "MCQ"
	QuestionNumerical QuestionType = "NUMERICAL"
	QuestionInteger   QuestionType = "INTEGER"
)

// IsNumeric reports whether answers of this type are typed numbers.
func (t QuestionType) IsNumeric() bool {
	return t == QuestionNumerical || t == QuestionInteger
}

// ExamType distinguishes JEE Main from JEE Advanced content.
type ExamType string

const (
	ExamMain     ExamType = "MAIN"
	ExamAdvanced ExamType = "ADVANCED"
)

// Section is the nominal paper section of a question within its subject.
type Section string

const (
	SectionA Section = "A"
	SectionB Section = "B"
)

// Option is a single MCQ choice.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a read-only exam question from the question bank.
type Question struct {
	ID            string       `json:"id"`
	Subject       Subject      `json:"subject"`
	Chapter       string       `json:"chapter"`
	Difficulty    Difficulty   `json:"difficulty"`
	Type          QuestionType `json:"questionType"`
	Text          string       `json:"text"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Solution      string       `json:"solution,omitempty"`
	IsActive      bool         `json:"isActive"`
	ExamType      ExamType     `json:"examType"`
}

// QuestionFilter narrows a question bank query. Empty fields are not filtered.
// Only active questions are ever returned.
type QuestionFilter struct {
	Subject    Subject
	Types      []QuestionType
	Difficulty Difficulty
	ExamType   ExamType
}

// MockTest is the template a candidate attempts.
type MockTest struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ExamType       ExamType `json:"examType"`
	Duration       int      `json:"duration"` // seconds
	TotalQuestions int      `json:"totalQuestions"`
	IsActive       bool     `json:"isActive"`
}

// DurationTime returns the configured duration as a time.Duration.
func (m MockTest) DurationTime() time.Duration {
	return time.Duration(m.Duration) * time.Second
}

// AttemptStatus represents the lifecycle state of an attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "IN_PROGRESS"
	StatusCompleted  AttemptStatus = "COMPLETED"
	StatusAbandoned  AttemptStatus = "ABANDONED"
)

// Terminal reports whether no further transitions are possible.
func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// AnswerEntry is the recorded state of one answered question.
type AnswerEntry struct {
	Answer    string    `json:"answer"`
	TimeSpent int       `json:"timeSpent"` // seconds
	SavedAt   time.Time `json:"savedAt"`
}

// Answers maps question id to its recorded answer.
type Answers map[string]AnswerEntry

// Clone returns a deep copy of a.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// SubjectScores holds a per-subject value for the three subjects.
type SubjectScores struct {
	Physics     int `json:"physics"`
	Chemistry   int `json:"chemistry"`
	Mathematics int `json:"mathematics"`
}

// Get returns the value for s.
func (s SubjectScores) Get(subj Subject) int {
	switch subj {
	case SubjectPhysics:
		return s.Physics
	case SubjectChemistry:
		return s.Chemistry
	case SubjectMathematics:
		return s.Mathematics
	}
	return 0
}

// Set stores v for s.
func (s *SubjectScores) Set(subj Subject, v int) {
	switch subj {
	case SubjectPhysics:
		s.Physics = v
	case SubjectChemistry:
		s.Chemistry = v
	case SubjectMathematics:
		s.Mathematics = v
	}
}

// Attempt is one candidate's instance of taking a MockTest.
//
// The three question id lists are frozen at creation. Section A ids come
// first in each list, followed by Section B ids.
type Attempt struct {
	ID                 string        `json:"id"`
	MockTestID         string        `json:"mockTestId"`
	LeadID             string        `json:"leadId"`
	Status             AttemptStatus `json:"status"`
	StartedAt          time.Time     `json:"startedAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
	PhysicsQuestions   []string      `json:"physicsQuestions"`
	ChemistryQuestions []string      `json:"chemistryQuestions"`
	MathQuestions      []string      `json:"mathQuestions"`

	Answers         Answers  `json:"answers"`
	Visited         []string `json:"visitedQuestions"`
	MarkedForReview []string `json:"markedForReview"`
	CurrentSubject  Subject  `json:"currentSubject,omitempty"`
	CurrentIndex    int      `json:"currentIndex"`
	SnapshotSeq     int64    `json:"snapshotSeq"`

	Scores           SubjectScores `json:"scores"`
	TotalScore       int           `json:"totalScore"`
	MaxScore         int           `json:"maxScore"`
	CorrectCount     int           `json:"correctCount"`
	IncorrectCount   int           `json:"incorrectCount"`
	UnansweredCount  int           `json:"unansweredCount"`
	Percentile       float64       `json:"percentile"`
	TotalTimeSeconds int           `json:"totalTimeSeconds"`
	ReportToken      string        `json:"-"`
	// Graded is the per-question grading frozen at completion, in paper order.
	Graded []GradedQuestion `json:"graded,omitempty"`
}

// QuestionIDs returns the frozen id list for a subject.
func (a *Attempt) QuestionIDs(s Subject) []string {
	switch s {
	case SubjectPhysics:
		return a.PhysicsQuestions
	case SubjectChemistry:
		return a.ChemistryQuestions
	case SubjectMathematics:
		return a.MathQuestions
	}
	return nil
}

// AllQuestionIDs returns every assigned id in paper order.
func (a *Attempt) AllQuestionIDs() []string {
	ids := make([]string, 0, len(a.PhysicsQuestions)+len(a.ChemistryQuestions)+len(a.MathQuestions))
	for _, s := range Subjects {
		ids = append(ids, a.QuestionIDs(s)...)
	}
	return ids
}

// Assigned reports whether id belongs to this attempt's paper.
func (a *Attempt) Assigned(id string) bool {
	for _, s := range Subjects {
		for _, q := range a.QuestionIDs(s) {
			if q == id {
				return true
			}
		}
	}
	return false
}

// Snapshot is a full client-side state snapshot sent by autosave.
type Snapshot struct {
	Answers         Answers  `json:"answers"`
	Visited         []string `json:"visitedQuestions"`
	MarkedForReview []string `json:"markedForReview"`
	CurrentSubject  Subject  `json:"currentSubject"`
	CurrentIndex    int      `json:"currentIndex"`
	// Seq is an optional client sequence stamp. Zero disables stale checks.
	Seq int64 `json:"seq,omitempty"`
}

// FinalAnswer is one entry of the submit payload.
type FinalAnswer struct {
	Answer    string `json:"answer"`
	TimeSpent int    `json:"timeSpent"`
}

// Completion holds the frozen results written when an attempt completes.
type Completion struct {
	Answers          Answers
	Scores           SubjectScores
	TotalScore       int
	MaxScore         int
	CorrectCount     int
	IncorrectCount   int
	UnansweredCount  int
	Percentile       float64
	TotalTimeSeconds int
	CompletedAt      time.Time
	Graded           []GradedQuestion
}

// Outcome is the graded state of one question.
type Outcome string

const (
	OutcomeCorrect    Outcome = "CORRECT"
	OutcomeIncorrect  Outcome = "INCORRECT"
	OutcomeUnanswered Outcome = "UNANSWERED"
)

// GradedQuestion is one question's grading as recorded at submit. Later
// edits to the question bank do not change it.
type GradedQuestion struct {
	QuestionID string  `json:"questionId"`
	Subject    Subject `json:"subject"`
	Chapter    string  `json:"chapter"`
	Position   int     `json:"position"`
	Section    Section `json:"section"`
	Answer     string  `json:"answer,omitempty"`
	TimeSpent  int     `json:"timeSpent"`
	Outcome    Outcome `json:"outcome"`
	Marks      int     `json:"marks"`
	MaxMarks   int     `json:"maxMarks"`
}

// Summary is the compact result returned by submit.
type Summary struct {
	TotalScore             int     `json:"totalScore"`
	MaxScore               int     `json:"maxScore"`
	Percentile             float64 `json:"percentile"`
	Correct                int     `json:"correct"`
	Incorrect              int     `json:"incorrect"`
	Unanswered             int     `json:"unanswered"`
	TimeSpent              int     `json:"timeSpent"`
	AverageTimePerQuestion int     `json:"averageTimePerQuestion"`
}

// SummaryOf builds the submit summary from a completed attempt.
func SummaryOf(a *Attempt) Summary {
	s := Summary{
		TotalScore: a.TotalScore,
		MaxScore:   a.MaxScore,
		Percentile: a.Percentile,
		Correct:    a.CorrectCount,
		Incorrect:  a.IncorrectCount,
		Unanswered: a.UnansweredCount,
		TimeSpent:  a.TotalTimeSeconds,
	}
	if attempted := a.CorrectCount + a.IncorrectCount; attempted > 0 {
		s.AverageTimePerQuestion = a.TotalTimeSeconds / attempted
	}
	return s
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	ID            string       `json:"id"`
	Subject       Subject      `json:"subject"`
	Chapter       string       `json:"chapter"`
	Difficulty    Difficulty   `json:"difficulty"`
	Type          QuestionType `json:"questionType"`
	Text          string       `json:"text"`
	Options       []Option     `json:"options"`
	CorrectAnswer string       `json:"correctAnswer"`
	Solution      string       `json:"solution"`
	ExamType      ExamType     `json:"examType"`
	Inactive      bool         `json:"inactive"`
}

// Question converts an imported record, rejecting unknown enum values.
func (qi QuestionImport) Question() (Question, error) {
	q := Question{
		ID:            qi.ID,
		Subject:       qi.Subject,
		Chapter:       qi.Chapter,
		Difficulty:    qi.Difficulty,
		Type:          qi.Type,
		Text:          qi.Text,
		Options:       qi.Options,
		CorrectAnswer: qi.CorrectAnswer,
		Solution:      qi.Solution,
		ExamType:      qi.ExamType,
		IsActive:      !qi.Inactive,
	}
	if !q.Subject.Valid() {
		return q, fmt.Errorf("question %q: subject %q: %w", qi.ID, qi.Subject, ErrInvalidInput)
	}
	switch q.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return q, fmt.Errorf("question %q: difficulty %q: %w", qi.ID, qi.Difficulty, ErrInvalidInput)
	}
	switch q.Type {
	case QuestionMCQ, QuestionNumerical, QuestionInteger:
	default:
		return q, fmt.Errorf("question %q: type %q: %w", qi.ID, qi.Type, ErrInvalidInput)
	}
	if q.CorrectAnswer == "" {
		return q, fmt.Errorf("question %q: missing correct answer: %w", qi.ID, ErrInvalidInput)
	}
	return q, nil
}
