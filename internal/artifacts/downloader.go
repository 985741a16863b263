package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/httpclient"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/worker"
)

const (
	maxArtifactBytes = 100 * 1024 * 1024
	downloadWorkers  = 4
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrArtifactTooLarge is returned for artifacts over the download size limit
var ErrArtifactTooLarge = errors.New("artifact too large")

// Downloader saves job artifacts to a local directory
type Downloader struct {
	resolver *Resolver
	client   *http.Client
	dir      string
	maxBytes int
	pool     *worker.WorkerPool
	logger   arbor.ILogger
}

// NewDownloader creates a downloader writing into dir
func NewDownloader(resolver *Resolver, dir string, timeout time.Duration, logger arbor.ILogger) *Downloader {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Downloader{
		resolver: resolver,
		client:   httpclient.NewDefaultHTTPClient(timeout),
		dir:      dir,
		maxBytes: maxArtifactBytes,
		pool:     worker.NewWorkerPool(logger, downloadWorkers),
		logger:   logger,
	}
}

// Saved describes one downloaded artifact
type Saved struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
}

// DownloadAll saves the report and every screenshot of a finished job.
// Individual failures are collected; the rest are still attempted.
func (d *Downloader) DownloadAll(ctx context.Context, snap models.Snapshot) ([]Saved, []error) {
	var tasks []worker.Task
	var outputs []*Saved
	names := newNameSet()

	if snap.HasReport() {
		out := &Saved{}
		outputs = append(outputs, out)
		tasks = append(tasks, worker.Task{ID: "report", Run: func(ctx context.Context) error {
			s, err := d.downloadReport(ctx, snap.ReportHandle, names)
			*out = s
			return err
		}})
	}

	for _, shot := range d.resolver.Screenshots(snap.Screenshots) {
		shot := shot
		out := &Saved{}
		outputs = append(outputs, out)
		tasks = append(tasks, worker.Task{ID: "screenshot_" + shot.Label, Run: func(ctx context.Context) error {
			s, err := d.fetch(ctx, shot.URL, "screenshot_"+shot.Label, names)
			if err != nil {
				return fmt.Errorf("screenshot %s: %w", shot.Label, err)
			}
			s.Label = shot.Label
			*out = s
			return nil
		}})
	}

	var saved []Saved
	var errs []error
	for i, result := range d.pool.Run(ctx, tasks) {
		if result.Err != nil {
			errs = append(errs, result.Err)
			continue
		}
		saved = append(saved, *outputs[i])
	}

	return saved, errs
}

// DownloadReport fetches the report and names it after the last path segment of its URL
func (d *Downloader) DownloadReport(ctx context.Context, handle string) (Saved, error) {
	return d.downloadReport(ctx, handle, newNameSet())
}

func (d *Downloader) downloadReport(ctx context.Context, handle string, names *nameSet) (Saved, error) {
	reportURL, err := d.resolver.ReportURL(handle)
	if err != nil {
		return Saved{}, fmt.Errorf("report: %w", err)
	}

	name := "report"
	if u, err := url.Parse(reportURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}

	s, err := d.fetch(ctx, reportURL, name, names)
	if err != nil {
		return Saved{}, fmt.Errorf("report: %w", err)
	}
	s.Label = "report"
	return s, nil
}

func (d *Downloader) fetch(ctx context.Context, target, name string, names *nameSet) (Saved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Saved{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Saved{}, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Saved{}, fmt.Errorf("failed to fetch %s: status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(d.maxBytes)+1))
	if err != nil {
		return Saved{}, fmt.Errorf("failed to read %s: %w", target, err)
	}
	if len(data) > d.maxBytes {
		return Saved{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrArtifactTooLarge, target, d.maxBytes)
	}

	mtype := mimetype.Detect(data)
	fileName := names.claim(FileName(name, mtype.Extension()))

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return Saved{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	dest := filepath.Join(d.dir, fileName)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return Saved{}, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	d.logger.Debug().
		Str("url", target).
		Str("path", dest).
		Str("mime_type", mtype.String()).
		Int("bytes", len(data)).
		Msg("Artifact saved")

	return Saved{URL: target, Path: dest, MimeType: mtype.String(), Bytes: len(data)}, nil
}

// FileName sanitizes name for the local filesystem and appends ext when the
// name has no extension of its own
func FileName(name, ext string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "artifact"
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	return name
}

// nameSet hands out distinct file names within one download batch
type nameSet struct {
	mu    sync.Mutex
	taken map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{taken: make(map[string]bool)}
}

// claim returns name, or name with a _N suffix before its extension when
// an earlier artifact in the batch already took it
func (n *nameSet) claim(name string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 2; n.taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	n.taken[candidate] = true
	return candidate
}
