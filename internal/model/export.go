package model

import "time"

// AttemptExport is the top-level JSON structure for attempt result export.
type AttemptExport struct {
	MockTestID   string          `json:"mock_test_id"`
	MockTestName string          `json:"mock_test_name"`
	ExportedAt   time.Time       `json:"exported_at"`
	Results      []AttemptResult `json:"results"`
}

// AttemptResult holds one completed attempt for export.
type AttemptResult struct {
	AttemptID     string        `json:"attempt_id"`
	LeadID        string        `json:"lead_id"`
	AttemptNumber int           `json:"attempt_number"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Scores        SubjectScores `json:"scores"`
	Summary       Summary       `json:"summary"`
}
