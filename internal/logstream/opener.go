// Package logstream opens the one-way log channel for a scraping job.
//
// A channel is keyed by job identity and delivers each streamed log line to a
// sink on a dedicated reader goroutine, so lines for one job arrive in order.
// Transport problems are reported as diagnostic lines and never end the job.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/httpclient"
)

// DiagnosticPrefix marks lines produced by the channel itself rather than the service
const DiagnosticPrefix = "[log stream] "

const (
	defaultEventName    = "message"
	defaultMaxLineBytes = 1024 * 1024
	defaultDialTimeout  = 10 * time.Second
)

// ErrUnsupportedScheme is returned for stream URLs that are neither http(s) nor ws(s)
var ErrUnsupportedScheme = errors.New("unsupported log stream scheme")

// Sink receives one log line for the job it was opened for
type Sink func(jobID string, line string)

// Config describes where and how to read log streams
type Config struct {
	URL          string        // Absolute stream URL; http(s) selects SSE, ws(s) selects websocket
	EventName    string        // SSE event name carrying log lines
	MaxLineBytes int           // Longest accepted line or websocket message
	DialTimeout  time.Duration // Connection establishment timeout
}

// ConfigFromCommon derives a stream config from application config.
// The logs URL may be relative to the service base URL.
func ConfigFromCommon(cfg *common.Config) (Config, error) {
	streamURL, err := common.ResolveServiceURL(cfg.Service.BaseURL, cfg.Service.LogsURL)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve logs url: %w", err)
	}
	return Config{
		URL:          streamURL,
		EventName:    cfg.Stream.EventName,
		MaxLineBytes: cfg.Stream.MaxLineBytes,
		DialTimeout:  cfg.DialTimeout(),
	}, nil
}

type transport int

const (
	transportSSE transport = iota
	transportWebSocket
)

// Opener opens log channels. At most one handle is open per job identity.
type Opener struct {
	cfg        Config
	base       *url.URL
	transport  transport
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     arbor.ILogger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewOpener validates cfg and creates an Opener
func NewOpener(cfg Config, logger arbor.ILogger) (*Opener, error) {
	if logger == nil {
		logger = common.GetLogger()
	}
	if cfg.EventName == "" {
		cfg.EventName = defaultEventName
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid log stream url %q: %w", cfg.URL, err)
	}

	o := &Opener{
		cfg:        cfg,
		base:       base,
		httpClient: httpclient.NewStreamingHTTPClient(cfg.DialTimeout),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger:  logger,
		handles: make(map[string]*Handle),
	}

	switch strings.ToLower(base.Scheme) {
	case "http", "https":
		o.transport = transportSSE
	case "ws", "wss":
		o.transport = transportWebSocket
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("log stream url %q has no host", cfg.URL)
	}

	return o, nil
}

// Open starts streaming logs for jobID and returns without waiting for the
// connection. Opening a job that already has a handle closes the old one first.
// Connection failures are delivered to sink as diagnostic lines.
func (o *Opener) Open(ctx context.Context, jobID string, sink Sink) (*Handle, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	previous := o.handles[jobID]
	o.handles[jobID] = h
	o.mu.Unlock()

	if previous != nil {
		o.logger.Debug().Str("job_id", jobID).Msg("Replacing open log stream")
		previous.Close()
	}

	deliver := func(line string) {
		if h.closed.Load() {
			return
		}
		sink(jobID, line)
	}

	streamURL := o.streamURL(jobID)
	common.SafeGo(o.logger, "logstream-"+jobID, func() {
		defer o.release(h)
		defer close(h.done)

		var err error
		switch o.transport {
		case transportWebSocket:
			err = o.readWebSocket(streamCtx, h, streamURL, deliver)
		default:
			err = o.readSSE(streamCtx, streamURL, deliver)
		}

		if err != nil && !h.closed.Load() && streamCtx.Err() == nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Log stream ended with error")
			deliver(DiagnosticPrefix + err.Error())
			return
		}
		o.logger.Debug().Str("job_id", jobID).Msg("Log stream closed")
	})

	return h, nil
}

// OpenCount returns the number of handles whose reader is still running
func (o *Opener) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// CloseAll closes every open handle
func (o *Opener) CloseAll() {
	o.mu.Lock()
	handles := make([]*Handle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	o.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

func (o *Opener) release(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handles[h.jobID] == h {
		delete(o.handles, h.jobID)
	}
}

func (o *Opener) streamURL(jobID string) string {
	u := *o.base
	query := u.Query()
	query.Set("job_id", jobID)
	u.RawQuery = query.Encode()
	return u.String()
}

// Handle controls one open log channel
type Handle struct {
	jobID     string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	connMu sync.Mutex
	conn   *websocket.Conn
}

// JobID returns the job this channel belongs to
func (h *Handle) JobID() string {
	return h.jobID
}

// Close terminates the connection. It is idempotent and does not wait for the
// reader; a line already being delivered may still reach the sink.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.cancel()

		h.connMu.Lock()
		conn := h.conn
		h.connMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Closed reports whether Close has been called
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Done is closed once the reader goroutine has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// attach records the live websocket so Close can interrupt a blocked read.
// It reports false when the handle was closed while dialing.
func (h *Handle) attach(conn *websocket.Conn) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.closed.Load() {
		return false
	}
	h.conn = conn
	return true
}
