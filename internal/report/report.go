// Package report assembles the scored view of a completed attempt.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/scoring"
)

// ChapterStat aggregates outcomes for one chapter of one subject.
type ChapterStat struct {
	Subject    model.Subject `json:"subject"`
	Chapter    string        `json:"chapter"`
	Total      int           `json:"total"`
	Correct    int           `json:"correct"`
	Incorrect  int           `json:"incorrect"`
	Unanswered int           `json:"unanswered"`
	Accuracy   int           `json:"accuracy"` // percent of total, rounded
}

// SubjectReport is one subject's section of the report.
type SubjectReport struct {
	Subject    model.Subject            `json:"subject"`
	Label      string                   `json:"label"`
	Score      int                      `json:"score"`
	MaxScore   int                      `json:"maxScore"`
	Correct    int                      `json:"correct"`
	Incorrect  int                      `json:"incorrect"`
	Unanswered int                      `json:"unanswered"`
	Accuracy   int                      `json:"accuracy"`
	Questions  []scoring.QuestionResult `json:"questions"`
}

// Report is the full scored breakdown of a completed attempt.
type Report struct {
	AttemptID   string              `json:"attemptId"`
	MockTestID  string              `json:"mockTestId"`
	Status      model.AttemptStatus `json:"status"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Summary     model.Summary       `json:"summary"`
	Scores      model.SubjectScores `json:"scores"`
	Subjects    []SubjectReport     `json:"subjects"`
	Chapters    []ChapterStat       `json:"chapters"`
}

// Accuracy returns round(correct/total*100), or 0 for an empty total.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(total) * 100))
}

// Build assembles the report from the grading frozen on the attempt at
// submission. questions supplies display fields only; a question missing
// from it is shown by id. label names each subject; a nil label leaves
// Label empty for the caller to fill in.
func Build(a *model.Attempt, questions map[string]model.Question, label func(model.Subject) string) *Report {
	r := &Report{
		AttemptID:   a.ID,
		MockTestID:  a.MockTestID,
		Status:      a.Status,
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		Summary:     model.SummaryOf(a),
		Scores:      a.Scores,
	}

	for _, subj := range model.Subjects {
		sr := SubjectReport{Subject: subj, Score: a.Scores.Get(subj)}
		if label != nil {
			sr.Label = label(subj)
		}
		var graded []model.GradedQuestion
		for _, g := range a.Graded {
			if g.Subject != subj {
				continue
			}
			graded = append(graded, g)
			sr.Questions = append(sr.Questions, questionResult(g, questions))
			sr.MaxScore += g.MaxMarks
			switch g.Outcome {
			case model.OutcomeCorrect:
				sr.Correct++
			case model.OutcomeIncorrect:
				sr.Incorrect++
			default:
				sr.Unanswered++
			}
		}
		sr.Accuracy = Accuracy(sr.Correct, len(sr.Questions))
		r.Subjects = append(r.Subjects, sr)
		r.Chapters = append(r.Chapters, chapterStats(subj, graded)...)
	}
	return r
}

func questionResult(g model.GradedQuestion, questions map[string]model.Question) scoring.QuestionResult {
	q, ok := questions[g.QuestionID]
	if !ok {
		q = model.Question{ID: g.QuestionID, Subject: g.Subject, Chapter: g.Chapter}
	}
	return scoring.QuestionResult{
		Question:  q,
		Position:  g.Position,
		Section:   g.Section,
		Answer:    g.Answer,
		TimeSpent: g.TimeSpent,
		Outcome:   g.Outcome,
		Marks:     g.Marks,
		MaxMarks:  g.MaxMarks,
	}
}

// chapterStats groups a subject's graded questions by chapter in paper
// order, using the chapter recorded at submission.
func chapterStats(subj model.Subject, graded []model.GradedQuestion) []ChapterStat {
	index := make(map[string]int)
	var stats []ChapterStat
	for _, g := range graded {
		ch := g.Chapter
		i, ok := index[ch]
		if !ok {
			i = len(stats)
			index[ch] = i
			stats = append(stats, ChapterStat{Subject: subj, Chapter: ch})
		}
		st := &stats[i]
		st.Total++
		switch g.Outcome {
		case model.OutcomeCorrect:
			st.Correct++
		case model.OutcomeIncorrect:
			st.Incorrect++
		default:
			st.Unanswered++
		}
	}
	for i := range stats {
		stats[i].Accuracy = Accuracy(stats[i].Correct, stats[i].Total)
	}
	return stats
}

// WeakestChapters returns up to n chapters with the lowest accuracy,
// ties broken by larger total first.
func (r *Report) WeakestChapters(n int) []ChapterStat {
	out := append([]ChapterStat(nil), r.Chapters...)
	sort.SliceStable(out, func(i, j int) bool { return weaker(out[i], out[j]) })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func weaker(a, b ChapterStat) bool {
	if a.Accuracy != b.Accuracy {
		return a.Accuracy < b.Accuracy
	}
	return a.Total > b.Total
}
