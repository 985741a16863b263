package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/scrapetrack/internal/mockservice"
)

var (
	mockAddr      string
	mockStepDelay time.Duration
)

var mockServiceCmd = &cobra.Command{
	Use:   "mock-service",
	Short: "Run a stand-in scraping service for local development",
	Long: `Serves the job submission, log stream and artifact endpoints of the scraping
service with a scripted scrape. Targets containing "fail" return a 500 and
targets containing "empty" return a 404.`,
	RunE: runMockService,
}

func init() {
	mockServiceCmd.Flags().StringVar(&mockAddr, "addr", "localhost:5000", "Listen address")
	mockServiceCmd.Flags().DurationVar(&mockStepDelay, "step-delay", 400*time.Millisecond, "Pause between scrape log lines")
}

func runMockService(cmd *cobra.Command, args []string) error {
	opts := mockservice.DefaultOptions()
	opts.StepDelay = mockStepDelay

	svc := mockservice.New("http://"+mockAddr, opts, logger)
	srv := &http.Server{
		Addr:              mockAddr,
		Handler:           svc,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info().
		Str("address", mockAddr).
		Str("step_delay", mockStepDelay.String()).
		Msg("Mock scraping service listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mock service failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// SSE handlers only return when their request context ends
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
	return nil
}
