package store

import (
	"context"
	"fmt"

	"github.com/jeeprep/mocktest/internal/model"
)

// ExportCompleted builds export-ready results from all completed attempts.
// An empty mockTestID exports attempts of every mock test.
func (s *Store) ExportCompleted(ctx context.Context, mockTestID string) ([]model.AttemptResult, error) {
	attempts, err := s.ListAttempts(ctx, model.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	// Track attempt count per lead for attempt_number.
	leadAttemptCount := make(map[string]int)

	var results []model.AttemptResult
	for _, a := range attempts {
		if mockTestID != "" && a.MockTestID != mockTestID {
			continue
		}
		leadAttemptCount[a.LeadID]++
		results = append(results, model.AttemptResult{
			AttemptID:     a.ID,
			LeadID:        a.LeadID,
			AttemptNumber: leadAttemptCount[a.LeadID],
			Status:        a.Status,
			StartedAt:     a.StartedAt,
			CompletedAt:   a.CompletedAt,
			Scores:        a.Scores,
			Summary:       model.SummaryOf(a),
		})
	}
	return results, nil
}
