package model

import "errors"

var (
	// ErrNotFound is returned when an attempt, mock test or report does not exist.
	ErrNotFound = errors.New("not found")
	// ErrGone is returned when submitting an abandoned attempt.
	ErrGone = errors.New("attempt abandoned")
	// ErrAttemptClosed is returned for writes or reads that require an in-progress attempt.
	ErrAttemptClosed = errors.New("attempt is no longer in progress")
	// ErrPoolExhausted means the question bank cannot fill a paper. Retry later.
	ErrPoolExhausted = errors.New("question pool exhausted")
	// ErrStaleSnapshot is returned when an autosave carries an outdated sequence stamp.
	ErrStaleSnapshot = errors.New("stale autosave snapshot")
	// ErrReportNotReady is returned when a report is requested before completion.
	ErrReportNotReady = errors.New("report not ready")
	// ErrUnknownQuestion is returned when a question id is not part of the attempt.
	ErrUnknownQuestion = errors.New("question not assigned to attempt")
	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)
