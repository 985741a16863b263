// Package tracker holds the authoritative state of the current scraping job.
//
// All mutations go through named transitions (Start, Advance, AppendLog,
// Complete, Fail). Every transition except Start is stamped with the job
// identity it was issued for; the identity is compared with the current job
// inside the same critical section as the mutation, so results that belong
// to a superseded job can never leak into the current one.
package tracker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/models"
)

var (
	// ErrEmptyTarget is returned by Start when the target is blank
	ErrEmptyTarget = errors.New("target is required")
	// ErrStaleJob is returned when a transition targets a superseded job
	ErrStaleJob = errors.New("job has been superseded")
	// ErrNoJob is returned when a transition is requested before any job started
	ErrNoJob = errors.New("no job has been started")
	// ErrInvalidTransition is returned for transitions that are not a strict forward step
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrTerminal is returned when a terminal job is asked to change outcome
	ErrTerminal = errors.New("job already reached a terminal phase")
)

// Subscriber receives a snapshot after every mutation, in mutation order.
// Subscribers run synchronously while the machine is locked and must not call
// back into the Machine.
type Subscriber func(models.Snapshot)

type subscription struct {
	id int
	fn Subscriber
}

// Machine is the single owner of the current job record
type Machine struct {
	mu      sync.Mutex
	current models.Snapshot
	version uint64

	subscribers []subscription
	nextSubID   int

	logger arbor.ILogger
	now    func() time.Time
	newID  func() string
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator overrides job identity generation
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// NewMachine creates a machine in the Idle phase
func NewMachine(logger arbor.ILogger, opts ...Option) *Machine {
	if logger == nil {
		logger = common.GetLogger()
	}
	m := &Machine{
		current: models.Snapshot{Phase: models.PhaseIdle, LogLines: []string{}},
		logger:  logger,
		now:     time.Now,
		newID:   common.NewJobID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn for every future mutation and returns a function that removes it
func (m *Machine) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers = append(m.subscribers, subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns a copy of the current job
func (m *Machine) Snapshot() models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.current)
}

// CurrentJobID returns the identity of the current job, empty while Idle
func (m *Machine) CurrentJobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.JobID
}

// Start replaces the current job with a new one in the Starting phase.
// Every field of the previous job is discarded and its identity becomes stale.
func (m *Machine) Start(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyTarget
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current
	now := m.now()
	m.current = models.Snapshot{
		JobID:       m.newID(),
		Target:      target,
		Phase:       models.PhaseStarting,
		Description: models.PhaseStarting.DefaultDescription(),
		LogLines:    []string{},
		StartedAt:   now,
		UpdatedAt:   now,
	}

	if previous.Phase.IsActive() {
		m.logger.Info().
			Str("job_id", m.current.JobID).
			Str("superseded_job_id", previous.JobID).
			Msg("Job superseded")
	}
	m.logger.Debug().
		Str("job_id", m.current.JobID).
		Str("target", target).
		Msg("Job started")

	m.publishLocked()
	return m.current.JobID, nil
}

// Advance moves the job one step forward, or to Failed from any non-terminal phase.
// An empty description selects the phase default.
func (m *Machine) Advance(jobID string, phase models.Phase, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIdentityLocked(jobID); err != nil {
		return err
	}

	if !phase.IsValid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, phase)
	}
	if phase == models.PhaseFailed {
		return m.failLocked(description)
	}

	from := m.current.Phase
	if !from.CanAdvanceTo(phase) {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("from", string(from)).
			Str("to", string(phase)).
			Msg("Rejected phase transition")
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, phase)
	}

	if description == "" {
		description = phase.DefaultDescription()
	}
	m.current.Phase = phase
	m.current.Description = description
	m.touchLocked()
	if phase.IsTerminal() {
		m.current.FinishedAt = m.current.UpdatedAt
	}

	m.publishLocked()
	return nil
}

// AppendLog appends one streamed line to the current job.
// It reports false without mutating anything when the job is terminal or stale.
func (m *Machine) AppendLog(jobID string, line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkIdentityLocked(jobID) != nil {
		return false
	}
	if m.current.Phase.IsTerminal() {
		return false
	}

	m.current.LogLines = append(m.current.LogLines, line)
	m.touchLocked()
	m.publishLocked()
	return true
}

// Complete records the job's artifacts and moves it to Finished in a single mutation
func (m *Machine) Complete(jobID string, result map[string]any, screenshots map[string]string, reportHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIdentityLocked(jobID); err != nil {
		return err
	}

	phase := m.current.Phase
	if phase.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, phase)
	}
	if !phase.IsActive() {
		return fmt.Errorf("%w: cannot complete from %s", ErrInvalidTransition, phase)
	}

	m.current.Phase = models.PhaseFinished
	m.current.Description = models.PhaseFinished.DefaultDescription()
	m.current.Result = cloneValueMap(result)
	if len(screenshots) > 0 {
		m.current.Screenshots = cloneStringMap(screenshots)
	}
	m.current.ReportHandle = strings.TrimSpace(reportHandle)
	m.touchLocked()
	m.current.FinishedAt = m.current.UpdatedAt

	m.logger.Info().
		Str("job_id", jobID).
		Int("fields", len(result)).
		Int("screenshots", len(screenshots)).
		Int("log_lines", len(m.current.LogLines)).
		Msg("Job finished")

	m.publishLocked()
	return nil
}

// Fail moves a non-terminal job to Failed. Accumulated log lines are kept.
func (m *Machine) Fail(jobID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkIdentityLocked(jobID); err != nil {
		return err
	}
	return m.failLocked(message)
}

func (m *Machine) failLocked(message string) error {
	phase := m.current.Phase
	if phase.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, phase)
	}

	if message == "" {
		message = models.DescriptionFailed
	}
	m.current.Phase = models.PhaseFailed
	m.current.Description = models.PhaseFailed.DefaultDescription()
	m.current.Error = message
	m.touchLocked()
	m.current.FinishedAt = m.current.UpdatedAt

	m.logger.Info().
		Str("job_id", m.current.JobID).
		Str("error", message).
		Msg("Job failed")

	m.publishLocked()
	return nil
}

func (m *Machine) checkIdentityLocked(jobID string) error {
	if m.current.JobID == "" {
		return ErrNoJob
	}
	if jobID != m.current.JobID {
		return ErrStaleJob
	}
	return nil
}

func (m *Machine) touchLocked() {
	m.current.UpdatedAt = m.now()
}

func (m *Machine) publishLocked() {
	m.version++
	m.current.Version = m.version
	if len(m.subscribers) == 0 {
		return
	}
	snapshot := cloneSnapshot(m.current)
	for _, sub := range m.subscribers {
		sub.fn(snapshot)
	}
}
