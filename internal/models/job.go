package models

import (
	"time"
)

// Phase is the coarse lifecycle state of a scraping job
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
	PhaseFailed     Phase = "failed"
)

// Default step descriptions shown for each phase
const (
	DescriptionStarting   = "Initializing the scraper..."
	DescriptionInProgress = "Scraping data from the website..."
	DescriptionFinished   = "Scraping complete. Data ready!"
	DescriptionFailed     = "Scraping failed."
)

// rank orders the non-failure phases. Failed is reachable from any non-terminal phase
var rank = map[Phase]int{
	PhaseIdle:       0,
	PhaseStarting:   1,
	PhaseInProgress: 2,
	PhaseFinished:   3,
}

// IsTerminal reports whether no further transitions are possible
func (p Phase) IsTerminal() bool {
	return p == PhaseFinished || p == PhaseFailed
}

// IsActive reports whether a job in this phase is still running
func (p Phase) IsActive() bool {
	return p == PhaseStarting || p == PhaseInProgress
}

// IsValid reports whether p is a known phase
func (p Phase) IsValid() bool {
	_, ok := rank[p]
	return ok || p == PhaseFailed
}

// CanAdvanceTo reports whether next is a strict one-step forward transition
// from p, or the universal transition to Failed from a non-terminal phase.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.IsTerminal() || p == PhaseIdle {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	from, ok := rank[p]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// DefaultDescription returns the step description used when none is supplied
func (p Phase) DefaultDescription() string {
	switch p {
	case PhaseStarting:
		return DescriptionStarting
	case PhaseInProgress:
		return DescriptionInProgress
	case PhaseFinished:
		return DescriptionFinished
	case PhaseFailed:
		return DescriptionFailed
	default:
		return ""
	}
}

// Snapshot is an immutable view of the current job.
// Maps and slices are copies owned by the receiver.
type Snapshot struct {
	JobID        string            `json:"job_id,omitempty"`
	Target       string            `json:"target,omitempty"`
	Phase        Phase             `json:"phase"`
	Description  string            `json:"description,omitempty"`
	LogLines     []string          `json:"log_lines"`
	Result       map[string]any    `json:"result,omitempty"`
	Screenshots  map[string]string `json:"screenshots,omitempty"`
	ReportHandle string            `json:"report_handle,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty"`
	FinishedAt   time.Time         `json:"finished_at,omitempty"`
	Version      uint64            `json:"version"`
}

// HasResult reports whether a structured result is present
func (s Snapshot) HasResult() bool {
	return s.Result != nil
}

// HasReport reports whether a report locator is present
func (s Snapshot) HasReport() bool {
	return s.ReportHandle != ""
}
