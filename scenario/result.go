package scenario

import (
	"time"
)

// Status is the outcome of a step or a scenario.
type Status int

// Statuses.
const (
	StatusPending Status = iota
	StatusPassed
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StepResult is the outcome of a single step.
type StepResult struct {
	Index    int           `json:"index"`
	Type     StepType      `json:"type"`
	Line     int           `json:"line"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	// Value is what eval predicates see as `result`.
	Value map[string]any `json:"value,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Steps    []StepResult  `json:"steps"`
	// TracePaths are the archives written by trace steps.
	TracePaths []string `json:"tracePaths,omitempty"`

	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (r *Result) tally() {
	r.Passed, r.Failed, r.Skipped = 0, 0, 0
	r.Status = StatusPassed
	for _, s := range r.Steps {
		switch s.Status {
		case StatusPassed:
			r.Passed++
		case StatusFailed:
			r.Failed++
			r.Status = StatusFailed
		case StatusSkipped:
			r.Skipped++
		case StatusPending:
		}
	}
}
