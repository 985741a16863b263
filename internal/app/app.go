// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 11:02:41 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/handlers"
	"github.com/ternarybob/scrapetrack/internal/logstream"
	"github.com/ternarybob/scrapetrack/internal/models"
	"github.com/ternarybob/scrapetrack/internal/scraper"
	"github.com/ternarybob/scrapetrack/internal/session"
	"github.com/ternarybob/scrapetrack/internal/tracker"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Job tracking
	Machine  *tracker.Machine
	Client   *scraper.Client
	Opener   *logstream.Opener
	Session  *session.Session
	Resolver *artifacts.Resolver

	// HTTP handlers (only populated by NewServer)
	APIHandler  *handlers.APIHandler
	JobHandler  *handlers.JobHandler
	WSHandler   *handlers.WebSocketHandler
	PageHandler *handlers.PageHandler

	unsubscribe []func()
}

// New initializes the job tracking components shared by every command
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initServices(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("service", cfg.Service.BaseURL).
		Str("submit_url", app.Client.SubmitURL()).
		Bool("strict_targets", cfg.Service.StrictTargets).
		Msg("Application initialization complete")

	return app, nil
}

// NewServer initializes the application plus the browser-facing handlers
func NewServer(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.initHandlers()

	// Start WebSocket background tasks for real-time UI updates
	app.WSHandler.StartBroadcaster(app.ctx)
	logger.Debug().Msg("WebSocket snapshot broadcaster started")

	return app, nil
}

// initServices builds the tracker, service client and log channel, then the session over them
func (a *App) initServices() error {
	a.Machine = tracker.NewMachine(a.Logger)

	client, err := scraper.NewClient(scraper.ClientConfigFromCommon(a.Config), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create scraping service client: %w", err)
	}
	a.Client = client

	streamCfg, err := logstream.ConfigFromCommon(a.Config)
	if err != nil {
		return fmt.Errorf("failed to resolve log stream config: %w", err)
	}
	opener, err := logstream.NewOpener(streamCfg, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create log stream opener: %w", err)
	}
	a.Opener = opener
	a.Logger.Debug().Str("logs_url", streamCfg.URL).Msg("Log stream opener initialized")

	a.Session = session.New(a.Machine, a.Client, a.Opener, a.Logger,
		session.WithStrictTargets(a.Config.Service.StrictTargets))

	a.Resolver = artifacts.NewResolverFromConfig(a.Config)

	return nil
}

func (a *App) initHandlers() {
	resolver := a.Resolver
	a.WSHandler = handlers.NewWebSocketHandler(a.Logger, a.Config.LogThrottle(), func(snap models.Snapshot) interface{} {
		return handlers.NewJobView(snap, resolver)
	})
	a.unsubscribe = append(a.unsubscribe, a.Machine.Subscribe(a.WSHandler.Publish))

	a.APIHandler = handlers.NewAPIHandler(a.Client, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Session, a.Resolver, a.Logger)
	a.PageHandler = handlers.NewPageHandler(a.Logger, a.Config.Logging.Level == "debug")

	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// Close stops the active job and releases every resource
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}

	if a.Session != nil {
		a.Session.Close()
		a.Logger.Debug().Msg("Session closed")
	}

	if a.Opener != nil {
		a.Opener.CloseAll()
	}

	if a.WSHandler != nil {
		a.WSHandler.CloseAll()
	}

	return nil
}
