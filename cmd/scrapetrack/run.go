package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/scrapetrack/internal/app"
	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/presenter"
)

var (
	summaryFile string
	download    bool
)

// errJobFailed gives a non-zero exit status without repeating the printed summary
var errJobFailed = errors.New("job failed")

var errJobAbandoned = errors.New("interrupted, job abandoned")

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Scrape one target and follow its progress in the terminal",
	Long: `Submits the target to the scraping service, streams the service log while the
job runs and prints the result. Ctrl+C abandons the job.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	runCmd.Flags().StringVarP(&summaryFile, "summary", "s", "", "Write a summary file; .md, .html and .pdf are supported")
	runCmd.Flags().BoolVarP(&download, "download", "d", false, "Save the report and screenshots to output.dir")
}

func runJob(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	out := cmd.OutOrStdout()
	terminal := presenter.NewTerminal(out, application.Resolver)
	unsubscribe := application.Machine.Subscribe(terminal.Update)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobID, err := application.Session.Submit(ctx, args[0])
	if err != nil {
		return err
	}

	snap, err := application.Session.Wait(ctx, jobID)
	if err != nil {
		return waitError(ctx, err)
	}

	fmt.Fprintln(out)
	if err := terminal.RenderSummary(snap); err != nil {
		return err
	}

	if summaryFile != "" {
		if err := writeSummaryFile(application, snap, summaryFile); err != nil {
			return err
		}
		fmt.Fprintf(out, "Summary written to %s\n", summaryFile)
	}

	if download && snap.Phase == models.PhaseFinished {
		downloader := artifacts.NewDownloader(application.Resolver, config.Output.Dir, config.RequestTimeout(), logger)
		saved, errs := downloader.DownloadAll(ctx, snap)
		for _, s := range saved {
			fmt.Fprintf(out, "Saved %s (%s, %d bytes) to %s\n", s.Label, s.MimeType, s.Bytes, s.Path)
		}
		for _, err := range errs {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("Artifact download failed")
		}
	}

	if snap.Phase == models.PhaseFailed {
		return errJobFailed
	}
	return nil
}

func writeSummaryFile(application *app.App, snap models.Snapshot, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".pdf":
		data, err = presenter.PDF(snap, application.Resolver, logger)
	case ".html", ".htm":
		data, err = presenter.HTML(snap, application.Resolver)
	case ".md", "":
		data = []byte(presenter.Markdown(snap, application.Resolver))
	default:
		return fmt.Errorf("unsupported summary format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create summary directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// waitError maps a failed wait to the command's error; an interrupt abandons the job
func waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errJobAbandoned
	}
	return err
}
