package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of an update run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one invocation of the update script.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     Status     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	LineCount  int        `json:"line_count"`
	Error      string     `json:"error,omitempty"`
}

// Line is one line of a run's combined output.
type Line struct {
	RunID string `json:"run_id"`
	Seq   int    `json:"seq"`
	Text  string `json:"text"`
}
