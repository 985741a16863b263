package presenter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/models"
)

// Terminal prints job progress as it happens and a summary at the end
type Terminal struct {
	w        io.Writer
	resolver *artifacts.Resolver

	mu           sync.Mutex
	jobID        string
	phase        models.Phase
	version      uint64
	linesPrinted int
}

// NewTerminal creates a terminal presenter writing to w
func NewTerminal(w io.Writer, resolver *artifacts.Resolver) *Terminal {
	return &Terminal{w: w, resolver: resolver}
}

// Update prints what changed since the previous snapshot. It is safe to use
// directly as a tracker subscriber.
func (t *Terminal) Update(snap models.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if snap.JobID != t.jobID {
		t.jobID = snap.JobID
		t.phase = ""
		t.version = 0
		t.linesPrinted = 0
	}
	if snap.Version <= t.version {
		return
	}
	t.version = snap.Version

	for ; t.linesPrinted < len(snap.LogLines); t.linesPrinted++ {
		for _, line := range strings.Split(snap.LogLines[t.linesPrinted], "\n") {
			fmt.Fprintf(t.w, "  | %s\n", line)
		}
	}

	if snap.Phase != t.phase {
		t.phase = snap.Phase
		fmt.Fprintf(t.w, "%s %s\n", stepMarker(snap.Phase), snap.Description)
	}
}

// RenderSummary prints the terminal outcome of a job
func (t *Terminal) RenderSummary(snap models.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteSummary(t.w, snap, t.resolver)
}

// WriteSummary writes a plain-text summary of snap to w
func WriteSummary(w io.Writer, snap models.Snapshot, resolver *artifacts.Resolver) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "\nJob\t%s\n", snap.JobID)
	fmt.Fprintf(tw, "Target\t%s\n", snap.Target)
	fmt.Fprintf(tw, "Status\t%s\n", snap.Phase)
	if snap.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", snap.Error)
	}
	if !snap.FinishedAt.IsZero() && !snap.StartedAt.IsZero() {
		fmt.Fprintf(tw, "Duration\t%s\n", snap.FinishedAt.Sub(snap.StartedAt).Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if snap.HasResult() {
		fmt.Fprintln(w, "\nResult")
		var nested []Field
		for _, field := range ResultFields(snap.Result) {
			if field.Nested {
				nested = append(nested, field)
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\n", field.Label, field.Value)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, field := range nested {
			fmt.Fprintf(w, "  %s:\n", field.Label)
			for _, line := range strings.Split(field.Value, "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}

	if len(snap.Screenshots) > 0 && resolver != nil {
		fmt.Fprintln(w, "\nScreenshots")
		for _, shot := range resolver.Screenshots(snap.Screenshots) {
			fmt.Fprintf(tw, "  %s\t%s\n", FieldLabel(shot.Label), shot.URL)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if snap.HasReport() {
		report := snap.ReportHandle
		if resolver != nil {
			if resolved, err := resolver.ReportURL(report); err == nil {
				report = resolved
			}
		}
		fmt.Fprintf(w, "\nReport  %s\n", report)
	}

	return nil
}

func stepMarker(phase models.Phase) string {
	switch phase {
	case models.PhaseStarting:
		return "[1/3]"
	case models.PhaseInProgress:
		return "[2/3]"
	case models.PhaseFinished:
		return "[3/3]"
	case models.PhaseFailed:
		return "[x]"
	default:
		return "[ ]"
	}
}
