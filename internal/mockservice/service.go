// Package mockservice is an in-process stand-in for the remote scraping service.
// It accepts job submissions, streams the scrape log to every connected log
// client and serves the screenshots and report the response points at.
package mockservice

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
)

const (
	reportFileName  = "IT_Department_Data_Report.csv"
	keepAliveBuffer = 64
)

var screenshotSteps = []string{"main_page", "departments_page", "it_department_page"}

var validTarget = regexp.MustCompile(`^https?://`)

// Contact is one record returned by a scrape
type Contact struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Options controls the simulated scrape
type Options struct {
	StepDelay time.Duration // Pause between log lines
	KeepAlive time.Duration // Interval between SSE keep-alive comments; zero disables them
	Contacts  []Contact     // Records returned for targets without a failure keyword
}

// DefaultOptions returns options suitable for interactive use
func DefaultOptions() Options {
	return Options{
		StepDelay: 400 * time.Millisecond,
		KeepAlive: 15 * time.Second,
		Contacts:  fixtureContacts(),
	}
}

// Service simulates the remote scraping service.
// Targets containing "fail" produce a 500 and targets containing "empty" produce a 404.
type Service struct {
	logger  arbor.ILogger
	opts    Options
	mux     *http.ServeMux
	baseURL string

	mu          sync.RWMutex
	subscribers map[int]chan string
	nextSubID   int
	submissions int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New creates the service. baseURL is used to build absolute report links.
func New(baseURL string, opts Options, logger arbor.ILogger) *Service {
	if logger == nil {
		logger = common.GetLogger()
	}
	s := &Service{
		logger:      logger,
		opts:        opts,
		baseURL:     strings.TrimRight(baseURL, "/"),
		subscribers: make(map[int]chan string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api", s.handleSubmit)
	mux.HandleFunc("/api/logs", s.handleLogsSSE)
	mux.HandleFunc("/api/logs/ws", s.handleLogsWS)
	mux.HandleFunc("/screenshot/", s.handleScreenshot)
	mux.HandleFunc("/download/", s.handleDownload)
	s.mux = mux

	return s
}

// SetBaseURL updates the address used for report links, for listeners bound after New
func (s *Service) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimRight(baseURL, "/")
}

// ServeHTTP implements http.Handler
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Submissions returns how many jobs were accepted
func (s *Service) Submissions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submissions
}

// SubscriberCount returns the number of connected log clients
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Service) subscribe() (int, <-chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	ch := make(chan string, keepAliveBuffer)
	s.subscribers[s.nextSubID] = ch
	return s.nextSubID, ch
}

func (s *Service) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// Log sends a line to every connected log client. Slow clients lose lines.
func (s *Service) Log(line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "scraping service ok")
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validTarget.MatchString(req.URL) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid URL"})
		return
	}

	s.mu.Lock()
	s.submissions++
	s.mu.Unlock()

	s.logger.Info().Str("target", req.URL).Msg("Mock scrape started")

	contacts, err := s.scrape(r.Context(), req.URL)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(contacts) == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{"message": "No IT contact information found."})
		return
	}

	s.mu.RLock()
	reportURL := s.baseURL + "/download/" + reportFileName
	s.mu.RUnlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":        map[string]interface{}{"contacts": contacts, "source": req.URL},
		"report_url":  reportURL,
		"screenshots": screenshotSteps,
	})
}

// scrape emits the log a real scrape would produce
func (s *Service) scrape(ctx context.Context, target string) ([]Contact, error) {
	steps := []string{
		fmt.Sprintf("Initializing Selenium WebDriver for URL: %s", target),
		"Navigating to the main page...",
		"Main page loaded successfully.",
		"Searching for the 'Departments' link...",
	}
	for _, line := range steps {
		if err := s.step(ctx, line); err != nil {
			return nil, err
		}
	}

	lower := strings.ToLower(target)
	switch {
	case strings.Contains(lower, "fail"):
		if err := s.step(ctx, "Error while scraping: browser session crashed"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("browser session crashed")
	case strings.Contains(lower, "empty"):
		if err := s.step(ctx, "No 'Departments' link found."); err != nil {
			return nil, err
		}
		return nil, nil
	}

	more := []string{
		"'Departments' page loaded successfully.",
		"Searching for IT-related links on the 'Departments' page...",
		"Found 1 links related to IT department.",
		"Navigating to IT department page: /departments/information-technology",
		"Extracting data from the IT department page...",
	}
	for _, line := range more {
		if err := s.step(ctx, line); err != nil {
			return nil, err
		}
	}
	for _, c := range s.opts.Contacts {
		s.Log(fmt.Sprintf("Found contact: Name=%s, Title=%s, Phone=%s, Email=%s, Address=%s",
			c.Name, c.Title, c.Phone, c.Email, c.Address))
	}
	return s.opts.Contacts, nil
}

func (s *Service) step(ctx context.Context, line string) error {
	s.Log(line)
	if s.opts.StepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.opts.StepDelay):
		return nil
	}
}

func (s *Service) handleLogsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, lines := s.subscribe()
	defer s.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var keepAlive <-chan time.Time
	if s.opts.KeepAlive > 0 {
		ticker := time.NewTicker(s.opts.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case line := <-lines:
			fmt.Fprintf(w, "data:%s\n\n", line)
		case <-keepAlive:
			fmt.Fprint(w, ": keep-alive\n\n")
		}
		flusher.Flush()
	}
}

func (s *Service) handleLogsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Mock log websocket upgrade failed")
		return
	}
	defer conn.Close()

	id, lines := s.subscribe()
	defer s.unsubscribe(id)

	// Reader detects the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case line := <-lines:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
	}
}

func (s *Service) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	step := path.Base(r.URL.Path)
	index := -1
	for i, name := range screenshotSteps {
		if name == step {
			index = i
		}
	}
	if index < 0 {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	data, err := placeholderPNG(index)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	if path.Base(r.URL.Path) != reportFileName {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	out := csv.NewWriter(&buf)
	out.Write([]string{"name", "title", "phone", "email", "address"})
	for _, c := range s.opts.Contacts {
		out.Write([]string{c.Name, c.Title, c.Phone, c.Email, c.Address})
	}
	out.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reportFileName+`"`)
	w.Write(buf.Bytes())
}

// placeholderPNG renders a small solid image, shaded per step
func placeholderPNG(shade int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 40))
	fill := color.RGBA{R: uint8(40 + 60*shade), G: 90, B: 160, A: 255}
	for y := 0; y < 40; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
