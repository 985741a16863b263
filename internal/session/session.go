// Package session runs scraping jobs: it submits the request, streams the
// job's logs and reconciles both into the tracker.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/logstream"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/scraper"
	"github.com/ternarybob/scrapetrack/internal/tracker"
)

var (
	// ErrInvalidTarget is returned when a target fails local validation; no job is started
	ErrInvalidTarget = errors.New("invalid target")
	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("session closed")
)

// Submitter performs the job request
type Submitter interface {
	Submit(ctx context.Context, target string) (*scraper.JobResponse, error)
}

// LogOpener opens a job's log channel
type LogOpener interface {
	Open(ctx context.Context, jobID string, sink logstream.Sink) (*logstream.Handle, error)
}

type activeJob struct {
	id     string
	cancel context.CancelFunc
	handle *logstream.Handle
}

// Session owns at most one active job. Submitting again supersedes it.
type Session struct {
	machine  *tracker.Machine
	client   Submitter
	opener   LogOpener
	validate *validator.Validate
	strict   bool
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active *activeJob
	closed bool
	wg     sync.WaitGroup

	// afterSettle runs once a job's outcome has been applied or discarded
	afterSettle func(jobID string)
}

// Option configures a Session
type Option func(*Session)

// WithStrictTargets requires targets to be absolute URLs
func WithStrictTargets(strict bool) Option {
	return func(s *Session) { s.strict = strict }
}

// New creates a session. opener may be nil, in which case jobs run without logs.
func New(machine *tracker.Machine, client Submitter, opener LogOpener, logger arbor.ILogger, opts ...Option) *Session {
	if logger == nil {
		logger = common.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		machine:  machine,
		client:   client,
		opener:   opener,
		validate: validator.New(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Machine returns the tracker this session drives
func (s *Session) Machine() *tracker.Machine {
	return s.machine
}

// Current returns a snapshot of the current job
func (s *Session) Current() models.Snapshot {
	return s.machine.Snapshot()
}

// ValidateTarget trims target and checks it locally
func (s *Session) ValidateTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	tag := "required"
	if s.strict {
		tag = "required,url"
	}
	if err := s.validate.Var(target, tag); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			return "", fmt.Errorf("%w: failed on %q rule", ErrInvalidTarget, validationErrs[0].Tag())
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return target, nil
}

// Submit abandons any active job and starts a new one for target.
// It returns as soon as the request and log channel are under way.
func (s *Session) Submit(ctx context.Context, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := s.ValidateTarget(target)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}

	if previous := s.active; previous != nil {
		s.logger.Info().Str("job_id", previous.id).Msg("Abandoning active job")
		s.abandon(previous)
		s.active = nil
	}

	jobID, err := s.machine.Start(target)
	if err != nil {
		return "", fmt.Errorf("failed to start job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(s.ctx)
	job := &activeJob{id: jobID, cancel: cancel}

	if s.opener != nil {
		handle, err := s.opener.Open(jobCtx, jobID, s.appendLog)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to open log stream")
			s.machine.AppendLog(jobID, logstream.DiagnosticPrefix+err.Error())
		} else {
			job.handle = handle
		}
	}

	if err := s.machine.Advance(jobID, models.PhaseInProgress, ""); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to mark job in progress")
	}

	s.active = job
	s.wg.Add(1)
	common.SafeGo(s.logger, "job-"+jobID, func() {
		defer s.wg.Done()
		s.run(jobCtx, job, target)
	})

	s.logger.Info().Str("job_id", jobID).Str("target", target).Msg("Job submitted")
	return jobID, nil
}

// Wait blocks until jobID reaches a terminal phase or is superseded.
// A superseded job returns the current snapshot with tracker.ErrStaleJob.
func (s *Session) Wait(ctx context.Context, jobID string) (models.Snapshot, error) {
	updates := make(chan models.Snapshot, 1)
	unsubscribe := s.machine.Subscribe(func(snap models.Snapshot) {
		if snap.JobID != jobID || snap.Phase.IsTerminal() {
			select {
			case updates <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	snap := s.machine.Snapshot()
	if snap.JobID != jobID {
		return snap, tracker.ErrStaleJob
	}
	if snap.Phase.IsTerminal() {
		return snap, nil
	}

	select {
	case snap = <-updates:
		if snap.JobID != jobID {
			return snap, tracker.ErrStaleJob
		}
		return snap, nil
	case <-ctx.Done():
		return s.machine.Snapshot(), ctx.Err()
	}
}

// Close abandons the active job and waits for in-flight requests to settle
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.active != nil {
		s.abandon(s.active)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Session) appendLog(jobID, line string) {
	s.machine.AppendLog(jobID, line)
}

// run performs the request and applies its outcome to the job it was issued for
func (s *Session) run(ctx context.Context, job *activeJob, target string) {
	defer func() {
		if s.afterSettle != nil {
			s.afterSettle(job.id)
		}
	}()
	defer s.release(job)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job_id", job.id).Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered from panic while settling job")
			s.settleFailure(job.id, &scraper.Error{
				Type:   scraper.ErrorTypeInvalidResponse,
				Detail: fmt.Sprintf("failed to apply response: %v", r),
			})
		}
	}()

	resp, err := s.client.Submit(ctx, target)
	switch {
	case err != nil:
		s.settleFailure(job.id, err)
	case resp == nil:
		s.settleFailure(job.id, &scraper.Error{
			Type:   scraper.ErrorTypeInvalidResponse,
			Detail: "empty response",
		})
	default:
		s.settleSuccess(job.id, resp)
	}
}

func (s *Session) settleSuccess(jobID string, resp *scraper.JobResponse) {
	err := s.machine.Complete(jobID, resp.Data, resp.Screenshots, resp.ReportURL)
	s.logOutcome(jobID, err)
}

func (s *Session) settleFailure(jobID string, err error) {
	var scraperErr *scraper.Error
	var detail, message string
	if errors.As(err, &scraperErr) {
		detail = scraperErr.Diagnostic()
		message = scraperErr.UserMessage()
	} else {
		detail = "[submit] " + err.Error()
		message = scraper.MessageNetwork
		if errors.Is(err, context.Canceled) {
			message = scraper.MessageCancelled
		}
	}

	s.machine.AppendLog(jobID, detail)
	failErr := s.machine.Fail(jobID, message)
	if failErr == nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job request failed")
	}
	s.logOutcome(jobID, failErr)
}

func (s *Session) logOutcome(jobID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrStaleJob):
		s.logger.Debug().Str("job_id", jobID).Msg("Discarded result for superseded job")
	default:
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to apply job outcome")
	}
}

// release tears down the job's resources after its outcome is recorded
func (s *Session) release(job *activeJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandon(job)
	if s.active == job {
		s.active = nil
	}
}

func (s *Session) abandon(job *activeJob) {
	if job.handle != nil {
		job.handle.Close()
	}
	job.cancel()
}
