// Package selector draws the frozen question paper for a new attempt.
//
// Each subject is filled section by section with stratified sampling: the
// active pool is split by difficulty, every bucket is shuffled and accepted
// greedily up to its target while no chapter exceeds the chapter cap. A
// backfill pass over the remaining pool, with the cap raised to the soft
// cap, tops up sections the stratified pass could not fill.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/jeeprep/mocktest/internal/model"
)

// QuestionSource is the read-only question bank the selector draws from.
type QuestionSource interface {
	ListQuestions(ctx context.Context, f model.QuestionFilter) ([]model.Question, error)
}

// SectionPlan describes one section of a subject's paper.
type SectionPlan struct {
	Section model.Section
	Types   []model.QuestionType
	Targets map[model.Difficulty]int
}

// Size is the number of questions the section should hold.
func (p SectionPlan) Size() int {
	n := 0
	for _, c := range p.Targets {
		n += c
	}
	return n
}

// Config holds the selection parameters.
type Config struct {
	Sections []SectionPlan
	// ChapterCap is the maximum number of accepted questions per chapter and
	// subject, shared across the subject's sections.
	ChapterCap int
	// SoftCapFactor multiplies ChapterCap during backfill.
	SoftCapFactor int
	// MinTotal is the floor for the combined paper size across subjects.
	MinTotal int
	ExamType model.ExamType
	// ChapterKey maps a question to its diversity key. Nil uses the raw chapter string.
	ChapterKey func(model.Question) string
}

// DefaultConfig is the JEE Main paper: 20 MCQs then 10 numerical questions per subject.
func DefaultConfig() Config {
	return Config{
		Sections: []SectionPlan{
			{
				Section: model.SectionA,
				Types:   []model.QuestionType{model.QuestionMCQ},
				Targets: map[model.Difficulty]int{
					model.DifficultyEasy:   5,
					model.DifficultyMedium: 10,
					model.DifficultyHard:   5,
				},
			},
			{
				Section: model.SectionB,
				Types:   []model.QuestionType{model.QuestionNumerical, model.QuestionInteger},
				Targets: map[model.Difficulty]int{
					model.DifficultyEasy:   2,
					model.DifficultyMedium: 5,
					model.DifficultyHard:   3,
				},
			},
		},
		ChapterCap:    2,
		SoftCapFactor: 2,
		MinTotal:      30,
		ExamType:      model.ExamMain,
	}
}

// SoftCap is the chapter cap applied during backfill.
func (c Config) SoftCap() int {
	f := c.SoftCapFactor
	if f < 1 {
		f = 1
	}
	return c.ChapterCap * f
}

// Paper is the frozen, ordered question id list per subject.
type Paper map[model.Subject][]string

// Total returns the number of ids across all subjects.
func (p Paper) Total() int {
	n := 0
	for _, ids := range p {
		n += len(ids)
	}
	return n
}

// Selector builds papers from a question source.
type Selector struct {
	src QuestionSource
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Selector. rng supplies all randomness; pass a seeded source
// for reproducible papers.
func New(src QuestionSource, cfg Config, rng *rand.Rand) *Selector {
	if cfg.ChapterKey == nil {
		cfg.ChapterKey = RawChapter
	}
	return &Selector{src: src, cfg: cfg, rng: rng}
}

// NewSeeded creates a Selector with a PCG source seeded from seed.
func NewSeeded(src QuestionSource, cfg Config, seed uint64) *Selector {
	return New(src, cfg, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// RawChapter keys questions by their chapter string as stored.
func RawChapter(q model.Question) string { return q.Chapter }

// Select draws a paper for every subject. It returns ErrPoolExhausted when
// the combined paper is below the configured floor.
func (s *Selector) Select(ctx context.Context) (Paper, error) {
	paper := make(Paper, len(model.Subjects))
	for _, subj := range model.Subjects {
		ids, err := s.selectSubject(ctx, subj)
		if err != nil {
			return nil, err
		}
		paper[subj] = ids
	}
	if total := paper.Total(); total < s.cfg.MinTotal {
		slog.Warn("question pool exhausted", "selected", total, "min", s.cfg.MinTotal)
		return nil, fmt.Errorf("selected %d of minimum %d: %w", total, s.cfg.MinTotal, model.ErrPoolExhausted)
	}
	return paper, nil
}

func (s *Selector) selectSubject(ctx context.Context, subj model.Subject) ([]string, error) {
	chapters := make(map[string]int)
	var ids []string
	for _, plan := range s.cfg.Sections {
		pool, err := s.src.ListQuestions(ctx, model.QuestionFilter{
			Subject:  subj,
			Types:    plan.Types,
			ExamType: s.cfg.ExamType,
		})
		if err != nil {
			return nil, fmt.Errorf("load %s section %s pool: %w", subj, plan.Section, err)
		}
		picked := s.fillSection(pool, plan, chapters)
		if len(picked) < plan.Size() {
			slog.Warn("section under-filled",
				"subject", subj, "section", plan.Section,
				"selected", len(picked), "target", plan.Size(), "pool", len(pool))
		}
		ids = append(ids, picked...)
	}
	return ids, nil
}

// fillSection runs the stratified pass and, if needed, the backfill pass.
// chapters is shared across the subject's sections and updated in place.
func (s *Selector) fillSection(pool []model.Question, plan SectionPlan, chapters map[string]int) []string {
	pool = append([]model.Question(nil), pool...)
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	byDifficulty := make(map[model.Difficulty][]model.Question)
	for _, q := range pool {
		if !q.IsActive {
			continue
		}
		byDifficulty[q.Difficulty] = append(byDifficulty[q.Difficulty], q)
	}

	size := plan.Size()
	taken := make(map[string]bool)
	var picked []string

	accept := func(candidates []model.Question, limit, chapterCap int) {
		n := 0
		for _, q := range candidates {
			if n >= limit || len(picked) >= size {
				return
			}
			if taken[q.ID] {
				continue
			}
			key := s.cfg.ChapterKey(q)
			if chapters[key] >= chapterCap {
				continue
			}
			chapters[key]++
			taken[q.ID] = true
			picked = append(picked, q.ID)
			n++
		}
	}

	for _, d := range model.Difficulties {
		target := plan.Targets[d]
		if target == 0 {
			continue
		}
		bucket := s.shuffled(byDifficulty[d])
		accept(bucket, target, s.cfg.ChapterCap)
	}

	if len(picked) < size {
		var rest []model.Question
		for _, d := range model.Difficulties {
			for _, q := range byDifficulty[d] {
				if !taken[q.ID] {
					rest = append(rest, q)
				}
			}
		}
		accept(s.shuffled(rest), size-len(picked), s.cfg.SoftCap())
	}
	return picked
}

func (s *Selector) shuffled(qs []model.Question) []model.Question {
	out := append([]model.Question(nil), qs...)
	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()
	return out
}
