package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/logstream"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/scraper"
	"github.com/ternarybob/scrapetrack/internal/tracker"
)

// submitFunc adapts a function to Submitter
type submitFunc func(ctx context.Context, target string) (*scraper.JobResponse, error)

func (f submitFunc) Submit(ctx context.Context, target string) (*scraper.JobResponse, error) {
	return f(ctx, target)
}

// logServer is an SSE endpoint that streams scripted lines per job and
// records when each job's connection opens and goes away.
type logServer struct {
	*httptest.Server

	mu    sync.Mutex
	lines map[string][]string
	conns map[string]*logConn
}

type logConn struct {
	connected    chan struct{}
	disconnected chan struct{}
}

func newLogServer(t *testing.T) *logServer {
	t.Helper()
	ls := &logServer{
		lines: make(map[string][]string),
		conns: make(map[string]*logConn),
	}
	ls.Server = httptest.NewServer(http.HandlerFunc(ls.serve))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *logServer) script(jobID string, lines ...string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.lines[jobID] = lines
}

func (ls *logServer) conn(jobID string) *logConn {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	c, ok := ls.conns[jobID]
	if !ok {
		c = &logConn{connected: make(chan struct{}), disconnected: make(chan struct{})}
		ls.conns[jobID] = c
	}
	return c
}

func (ls *logServer) serve(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	ls.mu.Lock()
	lines := ls.lines[jobID]
	ls.mu.Unlock()
	c := ls.conn(jobID)
	defer close(c.disconnected)

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	fmt.Fprint(w, ": keep-alive\n\n")
	for _, line := range lines {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	flusher.Flush()
	close(c.connected)
	<-r.Context().Done()
}

// sequentialIDs makes job identities predictable so log scripts can be set up front
func sequentialIDs() tracker.Option {
	var mu sync.Mutex
	n := 0
	return tracker.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("job_%d", n)
	})
}

func newTestSession(t *testing.T, client Submitter, streamURL string, opts ...Option) (*Session, *tracker.Machine) {
	t.Helper()
	logger := arbor.NewLogger()
	machine := tracker.NewMachine(logger, sequentialIDs())

	var opener LogOpener
	if streamURL != "" {
		o, err := logstream.NewOpener(logstream.Config{URL: streamURL, DialTimeout: 2 * time.Second}, logger)
		require.NoError(t, err)
		opener = o
	}

	s := New(machine, client, opener, logger, opts...)
	t.Cleanup(s.Close)
	return s, machine
}

func waitTerminal(t *testing.T, s *Session, jobID string) models.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx, jobID)
	require.NoError(t, err)
	return snap
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSession_SuccessfulJob(t *testing.T) {
	logs := newLogServer(t)
	logs.script("job_1", "init", "fetching page")

	var s *Session
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		assert.Equal(t, "https://town.gov", target)
		// Respond only after both streamed lines have been recorded
		deadline := time.Now().Add(5 * time.Second)
		for len(s.Machine().Snapshot().LogLines) < 2 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		return &scraper.JobResponse{
			Data:        map[string]any{"name": "X"},
			Screenshots: map[string]string{},
			ReportURL:   "r1",
		}, nil
	})
	s, _ = newTestSession(t, client, logs.URL+"/api/logs")

	jobID, err := s.Submit(context.Background(), "https://town.gov")
	require.NoError(t, err)
	assert.Equal(t, "job_1", jobID)

	snap := waitTerminal(t, s, jobID)
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.Equal(t, []string{"init", "fetching page"}, snap.LogLines)
	assert.Equal(t, map[string]any{"name": "X"}, snap.Result)
	assert.Equal(t, "r1", snap.ReportHandle)
	assert.Empty(t, snap.Error)

	waitFor(t, logs.conn(jobID).disconnected, "log channel close")
}

func TestSession_TransportFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	client, err := scraper.NewClient(scraper.ClientConfig{BaseURL: deadURL, Timeout: 2 * time.Second}, arbor.NewLogger())
	require.NoError(t, err)
	s, _ := newTestSession(t, client, "")

	jobID, err := s.Submit(context.Background(), "bad-url")
	require.NoError(t, err)

	snap := waitTerminal(t, s, jobID)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, scraper.MessageNetwork, snap.Error)
	assert.False(t, snap.HasResult())
	require.Len(t, snap.LogLines, 1)
	assert.True(t, strings.HasPrefix(snap.LogLines[0], "[submit] network error:"))
}

func TestSession_ServiceRejection(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "Invalid URL"}`)
	}))
	defer service.Close()

	client, err := scraper.NewClient(scraper.ClientConfig{BaseURL: service.URL}, arbor.NewLogger())
	require.NoError(t, err)
	s, _ := newTestSession(t, client, "")

	jobID, err := s.Submit(context.Background(), "bad-url")
	require.NoError(t, err)

	snap := waitTerminal(t, s, jobID)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, scraper.MessageRejected, snap.Error)
	assert.Equal(t, []string{"[submit] service error (status 400): Invalid URL"}, snap.LogLines)
}

func TestSession_EmptyResponseFailsJob(t *testing.T) {
	logs := newLogServer(t)
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		select {
		case <-logs.conn("job_1").connected:
		case <-ctx.Done():
		}
		return nil, nil
	})
	s, _ := newTestSession(t, client, logs.URL+"/api/logs")

	jobID, err := s.Submit(context.Background(), "https://town.gov")
	require.NoError(t, err)

	snap := waitTerminal(t, s, jobID)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, scraper.MessageInvalidResponse, snap.Error)
	assert.False(t, snap.HasResult())
	require.NotEmpty(t, snap.LogLines)
	assert.Equal(t, "[submit] invalid_response error: empty response", snap.LogLines[len(snap.LogLines)-1])

	// The log channel is released once the job settles
	waitFor(t, logs.conn(jobID).disconnected, "log channel close")
}

func TestSession_SupersededJob(t *testing.T) {
	logs := newLogServer(t)
	logs.script("job_2", "b running")

	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		switch target {
		case "https://a.example":
			// Resolves successfully even though its context was cancelled
			<-releaseA
			return &scraper.JobResponse{Data: map[string]any{"name": "A"}, ReportURL: "report-a"}, nil
		default:
			<-releaseB
			return &scraper.JobResponse{Data: map[string]any{"name": "B"}}, nil
		}
	})
	s, machine := newTestSession(t, client, logs.URL)

	settled := make(chan string, 2)
	s.afterSettle = func(jobID string) { settled <- jobID }

	jobA, err := s.Submit(context.Background(), "https://a.example")
	require.NoError(t, err)
	waitFor(t, logs.conn(jobA).connected, "job A log channel")

	jobB, err := s.Submit(context.Background(), "https://b.example")
	require.NoError(t, err)

	waitFor(t, logs.conn(jobA).disconnected, "job A log channel close")

	close(releaseA)
	select {
	case id := <-settled:
		assert.Equal(t, jobA, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job A never settled")
	}

	require.Eventually(t, func() bool {
		return len(machine.Snapshot().LogLines) == 1
	}, 5*time.Second, 10*time.Millisecond)

	snap := machine.Snapshot()
	assert.Equal(t, jobB, snap.JobID)
	assert.Equal(t, "https://b.example", snap.Target)
	assert.Equal(t, models.PhaseInProgress, snap.Phase)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.ReportHandle)
	assert.Equal(t, []string{"b running"}, snap.LogLines)

	_, err = s.Wait(context.Background(), jobA)
	assert.ErrorIs(t, err, tracker.ErrStaleJob)

	close(releaseB)
	final := waitTerminal(t, s, jobB)
	assert.Equal(t, models.PhaseFinished, final.Phase)
	assert.Equal(t, map[string]any{"name": "B"}, final.Result)
}

func TestSession_LateFailureOfSupersededJob(t *testing.T) {
	releaseA := make(chan struct{})
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		if target == "https://a.example" {
			<-releaseA
			return nil, errors.New("connection reset by peer")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, machine := newTestSession(t, client, "")

	settled := make(chan string, 2)
	s.afterSettle = func(jobID string) { settled <- jobID }

	_, err := s.Submit(context.Background(), "https://a.example")
	require.NoError(t, err)
	jobB, err := s.Submit(context.Background(), "https://b.example")
	require.NoError(t, err)

	close(releaseA)
	<-settled

	snap := machine.Snapshot()
	assert.Equal(t, jobB, snap.JobID)
	assert.Equal(t, models.PhaseInProgress, snap.Phase)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.LogLines)
}

func TestSession_InvalidTarget(t *testing.T) {
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		assert.Fail(t, "request must not be sent for an invalid target")
		return nil, nil
	})

	s, machine := newTestSession(t, client, "")
	_, err := s.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Equal(t, models.PhaseIdle, machine.Snapshot().Phase)

	strict, strictMachine := newTestSession(t, client, "", WithStrictTargets(true))
	_, err = strict.Submit(context.Background(), "bad-url")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.Contains(t, err.Error(), "url")
	assert.Equal(t, models.PhaseIdle, strictMachine.Snapshot().Phase)
}

func TestSession_ValidateTarget(t *testing.T) {
	s, _ := newTestSession(t, nil, "", WithStrictTargets(true))

	target, err := s.ValidateTarget("  https://town.gov/it  ")
	require.NoError(t, err)
	assert.Equal(t, "https://town.gov/it", target)

	_, err = s.ValidateTarget("town.gov")
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestSession_CloseCancelsActiveJob(t *testing.T) {
	started := make(chan struct{})
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, machine := newTestSession(t, client, "")

	jobID, err := s.Submit(context.Background(), "https://slow.example")
	require.NoError(t, err)
	<-started

	s.Close()

	snap := machine.Snapshot()
	assert.Equal(t, jobID, snap.JobID)
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, scraper.MessageCancelled, snap.Error)

	_, err = s.Submit(context.Background(), "https://again.example")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_WaitHonoursContext(t *testing.T) {
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, _ := newTestSession(t, client, "")

	jobID, err := s.Submit(context.Background(), "https://slow.example")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snap, err := s.Wait(ctx, jobID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.PhaseInProgress, snap.Phase)
}

func TestSession_LogStreamFailureDoesNotFailJob(t *testing.T) {
	deadLogs := httptest.NewServer(http.NotFoundHandler())
	deadURL := deadLogs.URL
	deadLogs.Close()

	release := make(chan struct{})
	client := submitFunc(func(ctx context.Context, target string) (*scraper.JobResponse, error) {
		<-release
		return &scraper.JobResponse{Data: map[string]any{"ok": true}}, nil
	})
	s, machine := newTestSession(t, client, deadURL)

	jobID, err := s.Submit(context.Background(), "https://town.gov")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(machine.Snapshot().LogLines) == 1
	}, 5*time.Second, 10*time.Millisecond)
	close(release)

	snap := waitTerminal(t, s, jobID)
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.True(t, strings.HasPrefix(snap.LogLines[0], logstream.DiagnosticPrefix))
}
