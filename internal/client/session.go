package client

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/model"
	"github.com/jeeprep/mocktest/internal/timer"
)

// Answerer picks an answer for a question. Returning false leaves it unanswered.
type Answerer func(q attempt.QuestionView) (string, bool)

// SessionConfig tunes a headless session.
type SessionConfig struct {
	AutosaveInterval time.Duration // default 60s
	TickInterval     time.Duration // default 1s
	// ThinkTime is waited before each answer and reported as time spent.
	ThinkTime time.Duration
	// SubmitWhenDone submits as soon as every question has been seen.
	// Otherwise the countdown forces the submission at the deadline.
	SubmitWhenDone bool
	Now            func() time.Time
}

func (c *SessionConfig) defaults() {
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = 60 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Session plays one attempt the way the browser does: it answers
// questions, autosaves the full state periodically and submits exactly
// once, either when finished or when time runs out.
type Session struct {
	client    *Client
	attemptID string
	answerer  Answerer
	cfg       SessionConfig

	mu      sync.Mutex
	answers model.Answers
	visited []string
	marked  []string
	subject model.Subject
	index   int
	seq     int64

	submitOnce sync.Once
	done       chan struct{}
	result     *SubmitResponse
	err        error
	forced     bool
}

// NewSession prepares a session for an already started attempt.
func NewSession(c *Client, attemptID string, answerer Answerer, cfg SessionConfig) *Session {
	cfg.defaults()
	return &Session{
		client:    c,
		attemptID: attemptID,
		answerer:  answerer,
		cfg:       cfg,
		answers:   model.Answers{},
		done:      make(chan struct{}),
	}
}

// Forced reports whether the countdown triggered the submission.
func (s *Session) Forced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Run plays the attempt until it is submitted or ctx is done.
func (s *Session) Run(ctx context.Context) (*SubmitResponse, error) {
	paper, err := s.client.Questions(ctx, s.attemptID)
	if err != nil {
		return nil, err
	}
	s.restore(paper)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	remaining := time.Duration(paper.RemainingSeconds) * time.Second
	cd := timer.NewCountdown(s.cfg.Now(), remaining, func() {
		slog.Info("time is up, forcing submission", "attempt", s.attemptID)
		s.mu.Lock()
		s.forced = true
		s.mu.Unlock()
		s.submit(ctx)
	})
	go cd.Run(loopCtx, s.cfg.TickInterval, s.cfg.Now)
	go s.autosaveLoop(loopCtx)

	s.answerAll(loopCtx, paper)
	if s.cfg.SubmitWhenDone {
		s.submit(ctx)
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.result, s.err
}

func (s *Session) restore(p *attempt.Paper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Answers != nil {
		s.answers = p.Answers.Clone()
	}
	s.visited = append([]string(nil), p.Visited...)
	s.marked = append([]string(nil), p.MarkedForReview...)
	s.subject = p.CurrentSubject
	s.index = p.CurrentIndex
	s.seq = p.SnapshotSeq
}

func (s *Session) answerAll(ctx context.Context, p *attempt.Paper) {
	for _, subj := range model.Subjects {
		for i, q := range p.Questions[subj] {
			if s.finished() {
				return
			}
			if s.cfg.ThinkTime > 0 {
				select {
				case <-time.After(s.cfg.ThinkTime):
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}

			s.mu.Lock()
			s.subject, s.index = subj, i
			if !slices.Contains(s.visited, q.ID) {
				s.visited = append(s.visited, q.ID)
			}
			s.mu.Unlock()

			ans, ok := s.answerer(q)
			if !ok {
				continue
			}
			in := attempt.AnswerInput{
				QuestionID:     q.ID,
				Answer:         ans,
				TimeSpentDelta: int(s.cfg.ThinkTime / time.Second),
			}
			if err := s.client.Answer(ctx, s.attemptID, in); err != nil {
				if errors.Is(err, model.ErrAttemptClosed) || errors.Is(err, model.ErrGone) || ctx.Err() != nil {
					return
				}
				slog.Warn("answer not saved", "attempt", s.attemptID, "question", q.ID, "error", err)
				continue
			}

			s.mu.Lock()
			prev := s.answers[q.ID]
			s.answers[q.ID] = model.AnswerEntry{
				Answer:    ans,
				TimeSpent: prev.TimeSpent + in.TimeSpentDelta,
				SavedAt:   s.cfg.Now(),
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) autosaveLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			err := s.client.Autosave(ctx, s.attemptID, s.snapshot())
			switch {
			case err == nil:
			case errors.Is(err, model.ErrAttemptClosed), errors.Is(err, model.ErrGone):
				return
			case errors.Is(err, model.ErrStaleSnapshot):
				slog.Debug("autosave superseded", "attempt", s.attemptID)
			default:
				if ctx.Err() != nil {
					return
				}
				slog.Warn("autosave failed", "attempt", s.attemptID, "error", err)
			}
		}
	}
}

// snapshot copies the local state and stamps it with the next sequence number.
func (s *Session) snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return model.Snapshot{
		Answers:         s.answers.Clone(),
		Visited:         append([]string(nil), s.visited...),
		MarkedForReview: append([]string(nil), s.marked...),
		CurrentSubject:  s.subject,
		CurrentIndex:    s.index,
		Seq:             s.seq,
	}
}

func (s *Session) submit(ctx context.Context) {
	s.submitOnce.Do(func() {
		// Flush navigation state first; answers also travel in the submit body.
		if err := s.client.Autosave(ctx, s.attemptID, s.snapshot()); err != nil {
			slog.Debug("final autosave failed", "attempt", s.attemptID, "error", err)
		}

		s.mu.Lock()
		final := make(map[string]model.FinalAnswer, len(s.answers))
		for id, e := range s.answers {
			final[id] = model.FinalAnswer{Answer: e.Answer, TimeSpent: e.TimeSpent}
		}
		s.mu.Unlock()

		s.result, s.err = s.client.Submit(ctx, s.attemptID, final)
		if s.err == nil {
			slog.Info("attempt submitted", "attempt", s.attemptID,
				"score", s.result.Summary.TotalScore, "max", s.result.Summary.MaxScore)
		}
		close(s.done)
	})
}

func (s *Session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
