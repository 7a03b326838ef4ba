package attempt

import (
	"time"

	"github.com/jeeprep/mocktest/internal/model"
)

// MergeAnswers reconciles the stored answers with a final submit payload.
//
// The result starts from server. For every id in payload whose answer
// differs from the stored one (a missing stored entry counts as different),
// the answer is replaced, the payload's time is added to the stored time
// and SavedAt is set to now. Entries with an unchanged answer keep the
// stored state. Neither input is modified.
func MergeAnswers(server model.Answers, payload map[string]model.FinalAnswer, now time.Time) model.Answers {
	merged := server.Clone()
	for id, fa := range payload {
		prev, ok := merged[id]
		if ok && prev.Answer == fa.Answer {
			continue
		}
		merged[id] = model.AnswerEntry{
			Answer:    fa.Answer,
			TimeSpent: prev.TimeSpent + fa.TimeSpent,
			SavedAt:   now,
		}
	}
	return merged
}

// applyAnswer records a single per-question save: the answer is replaced
// and delta is added to the time already spent on the question.
func applyAnswer(answers model.Answers, id, answer string, delta int, now time.Time) {
	prev := answers[id]
	answers[id] = model.AnswerEntry{
		Answer:    answer,
		TimeSpent: prev.TimeSpent + delta,
		SavedAt:   now,
	}
}
