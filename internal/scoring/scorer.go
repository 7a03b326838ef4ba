// Package scoring grades a frozen paper against recorded answers.
package scoring

import (
	"log/slog"
	"strings"

	"github.com/jeeprep/mocktest/internal/model"
)

// Outcome is the graded state of one question.
type Outcome = model.Outcome

const (
	OutcomeCorrect    = model.OutcomeCorrect
	OutcomeIncorrect  = model.OutcomeIncorrect
	OutcomeUnanswered = model.OutcomeUnanswered
)

// Scheme is the marking scheme.
type Scheme struct {
	Correct          int
	IncorrectMCQ     int
	IncorrectNumeric int
	// SectionASize is the number of leading positions per subject that form Section A.
	SectionASize int
}

// DefaultScheme is the JEE Main scheme: +4 for correct, -1 for a wrong
// Section A MCQ, no negative marking in Section B.
func DefaultScheme() Scheme {
	return Scheme{Correct: 4, IncorrectMCQ: -1, IncorrectNumeric: 0, SectionASize: 20}
}

// QuestionResult is the graded view of one assigned question.
type QuestionResult struct {
	Question  model.Question `json:"question"`
	Position  int            `json:"position"`
	Section   model.Section  `json:"section"`
	Answer    string         `json:"answer,omitempty"`
	TimeSpent int            `json:"timeSpent"`
	Outcome   Outcome        `json:"outcome"`
	Marks     int            `json:"marks"`
	MaxMarks  int            `json:"maxMarks"`
}

// Graded returns the part of the result that is frozen on the attempt.
func (qr QuestionResult) Graded() model.GradedQuestion {
	return model.GradedQuestion{
		QuestionID: qr.Question.ID,
		Subject:    qr.Question.Subject,
		Chapter:    qr.Question.Chapter,
		Position:   qr.Position,
		Section:    qr.Section,
		Answer:     qr.Answer,
		TimeSpent:  qr.TimeSpent,
		Outcome:    qr.Outcome,
		Marks:      qr.Marks,
		MaxMarks:   qr.MaxMarks,
	}
}

// SubjectResult aggregates one subject.
type SubjectResult struct {
	Subject    model.Subject    `json:"subject"`
	Score      int              `json:"score"`
	MaxScore   int              `json:"maxScore"`
	Correct    int              `json:"correct"`
	Incorrect  int              `json:"incorrect"`
	Unanswered int              `json:"unanswered"`
	Questions  []QuestionResult `json:"questions"`
}

// Result is the full score breakdown of a paper.
type Result struct {
	Subjects   []SubjectResult `json:"subjects"`
	TotalScore int             `json:"totalScore"`
	MaxScore   int             `json:"maxScore"`
	Correct    int             `json:"correct"`
	Incorrect  int             `json:"incorrect"`
	Unanswered int             `json:"unanswered"`
}

// Scores returns the per-subject scores.
func (r Result) Scores() model.SubjectScores {
	var s model.SubjectScores
	for _, sr := range r.Subjects {
		s.Set(sr.Subject, sr.Score)
	}
	return s
}

// Graded flattens the per-question results in paper order.
func (r Result) Graded() []model.GradedQuestion {
	var out []model.GradedQuestion
	for _, sr := range r.Subjects {
		for _, qr := range sr.Questions {
			out = append(out, qr.Graded())
		}
	}
	return out
}

// Subject returns the result for subj, or a zero result.
func (r Result) Subject(subj model.Subject) SubjectResult {
	for _, sr := range r.Subjects {
		if sr.Subject == subj {
			return sr
		}
	}
	return SubjectResult{Subject: subj}
}

// Scorer applies a marking scheme. It is stateless and safe for concurrent use.
type Scorer struct {
	scheme Scheme
}

// New creates a Scorer.
func New(scheme Scheme) *Scorer {
	return &Scorer{scheme: scheme}
}

// SectionOf returns the section of the question at position within its
// subject. Numeric questions are always Section B.
func (s *Scorer) SectionOf(position int, t model.QuestionType) model.Section {
	if t.IsNumeric() || position >= s.scheme.SectionASize {
		return model.SectionB
	}
	return model.SectionA
}

// Score grades the attempt's paper. questions must contain the assigned
// questions by id; ids absent from it are skipped and do not count toward
// the maximum.
func (s *Scorer) Score(a *model.Attempt, questions map[string]model.Question, answers model.Answers) Result {
	var res Result
	for _, subj := range model.Subjects {
		sr := SubjectResult{Subject: subj}
		for pos, id := range a.QuestionIDs(subj) {
			q, ok := questions[id]
			if !ok {
				slog.Warn("assigned question missing from bank", "attempt", a.ID, "question", id)
				continue
			}
			qr := s.grade(pos, q, answers[id])
			sr.Questions = append(sr.Questions, qr)
			sr.MaxScore += qr.MaxMarks
			sr.Score += qr.Marks
			switch qr.Outcome {
			case OutcomeCorrect:
				sr.Correct++
			case OutcomeIncorrect:
				sr.Incorrect++
			default:
				sr.Unanswered++
			}
		}
		res.Subjects = append(res.Subjects, sr)
		res.TotalScore += sr.Score
		res.MaxScore += sr.MaxScore
		res.Correct += sr.Correct
		res.Incorrect += sr.Incorrect
		res.Unanswered += sr.Unanswered
	}
	return res
}

func (s *Scorer) grade(pos int, q model.Question, entry model.AnswerEntry) QuestionResult {
	qr := QuestionResult{
		Question:  q,
		Position:  pos,
		Section:   s.SectionOf(pos, q.Type),
		Answer:    entry.Answer,
		TimeSpent: entry.TimeSpent,
		Outcome:   OutcomeUnanswered,
		MaxMarks:  s.scheme.Correct,
	}
	if strings.TrimSpace(entry.Answer) == "" {
		return qr
	}

	var correct bool
	if q.Type.IsNumeric() {
		correct = NumericMatch(entry.Answer, q.CorrectAnswer)
	} else {
		correct = MCQMatch(entry.Answer, q.CorrectAnswer)
	}

	switch {
	case correct:
		qr.Outcome = OutcomeCorrect
		qr.Marks = s.scheme.Correct
	case qr.Section == model.SectionA:
		qr.Outcome = OutcomeIncorrect
		qr.Marks = s.scheme.IncorrectMCQ
	default:
		qr.Outcome = OutcomeIncorrect
		qr.Marks = s.scheme.IncorrectNumeric
	}
	return qr
}
