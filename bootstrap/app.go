package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vigil/api"
	"vigil/config"
	"vigil/detect"
	"vigil/ingest"
	"vigil/notify"
	"vigil/service"
	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// App represents the Vigil service with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage *StorageComponents

	Pipeline  *service.Pipeline
	Hub       *api.Hub
	Relay     *notify.NATSRelay
	Gateway   *ingest.Gateway
	Poller    *ingest.Poller
	LogSource *ingest.CloudLoggingSource
	DLQ       *ingest.DLQ
	APIServer *api.API

	ctx        context.Context
	cancel     context.CancelFunc
	hubStarted bool
	serviceWg  *sync.WaitGroup
	shutdownCh chan struct{}
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	appCtx, cancel := context.WithCancel(ctx)
	app := &App{
		ctx:        appCtx,
		cancel:     cancel,
		serviceWg:  &sync.WaitGroup{},
		shutdownCh: make(chan struct{}),
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Vigil starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		cancel()
		return nil, err
	}
	app.Config = cfg

	sugar.Info("Running pre-flight checks...")
	if err := EnsureDataDirectory(cfg.SQLitePath, sugar); err != nil {
		cancel()
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	app.Storage, err = InitStorage(appCtx, cfg, sugar)
	if err != nil {
		cancel()
		return nil, err
	}

	if err := app.initPipeline(); err != nil {
		app.Shutdown()
		return nil, err
	}
	app.initIngest()

	return app, nil
}

func (a *App) initPipeline() error {
	rules, err := detect.LoadRuleSet(a.Config.RulesFile, detect.DefaultRegexTimeout, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to load detection rules: %w", err)
	}
	a.Sugar.Infow("Detection rules loaded",
		"file", a.Config.RulesFile,
		"substrings", len(rules.Substrings),
		"methods", len(rules.Methods),
		"patterns", len(rules.Patterns))

	var primary detect.Analyzer
	if a.Config.Analysis.URL != "" {
		remote, err := detect.NewRemoteAnalyzer(a.Config.Analysis, a.Sugar)
		if err != nil {
			return fmt.Errorf("failed to create analysis client: %w", err)
		}
		primary = remote
		a.Sugar.Infow("Remote analysis enabled", "url", a.Config.Analysis.URL)
	} else {
		a.Sugar.Warn("Analysis service URL not set, using local rules only")
	}

	a.Hub = api.NewHub(a.ctx, a.Sugar)

	pipelineCfg := service.PipelineConfig{
		Classifier:  detect.NewClassifier(rules),
		Analyzer:    detect.NewFallbackAnalyzer(primary, a.Sugar),
		Reporter:    notify.NewReporter(a.Config.Report),
		Broadcaster: a.Hub,
		Sinks:       a.Storage.Sinks(),
		SinkTimeout: a.Config.SinkTimeout,
	}

	if a.Config.NATS.URL != "" {
		relay, err := notify.NewNATSRelay(a.Config.NATS, a.Sugar)
		if err != nil {
			// The relay is optional; alerts still reach the stores and subscribers.
			a.Sugar.Errorw("NATS relay disabled", "error", err)
		} else {
			a.Relay = relay
			pipelineCfg.Relay = relay
		}
	}

	a.Pipeline, err = service.NewPipeline(pipelineCfg, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	return nil
}

func (a *App) initIngest() {
	normalizer := ingest.NewNormalizer()
	a.DLQ = ingest.NewDLQ(a.Storage.SQLite.DB, a.Sugar)

	var shared ingest.SharedDedupStore
	if a.Storage.Redis != nil {
		shared = a.Storage.Redis
	}
	dedup, err := ingest.NewDeduplicator(a.Config.DedupSize, shared, a.Sugar)
	if err != nil {
		// Config validation keeps DedupSize positive.
		a.Sugar.Errorw("Deduplication disabled", "error", err)
	}
	a.Gateway = ingest.NewGateway(normalizer, a.Pipeline, dedup, a.DLQ, a.Sugar)

	var source ingest.LogSource
	if a.Config.GCP.ProjectID != "" {
		logSource, err := ingest.NewCloudLoggingSource(a.ctx, a.Config.GCP.ProjectID, a.Config.GCP.Filter, a.Sugar)
		if err != nil {
			a.Sugar.Errorw("Cloud Logging source unavailable, /connect-gcp will fail",
				"project", a.Config.GCP.ProjectID,
				"error", err)
		} else {
			a.LogSource = logSource
			source = logSource
		}
	} else {
		a.Sugar.Warn("GCP project not set, poll channel unavailable")
	}

	a.Poller = ingest.NewPoller(source, normalizer, a.Pipeline, a.DLQ, ingest.PollerConfig{
		Interval: a.Config.GCP.PollInterval,
		PageSize: a.Config.GCP.PageSize,
		Lookback: a.Config.GCP.Lookback,
	}, a.Sugar)
}

// Start starts the hub and the API server.
func (a *App) Start(ctx context.Context) error {
	a.hubStarted = true
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("websocket-hub", a.Sugar)
		a.Hub.Start()
	}()

	deps := api.Dependencies{
		Gateway:  a.Gateway,
		Pipeline: a.Pipeline,
		Poller:   a.Poller,
		History:  a.Storage.History(),
		DLQ:      a.DLQ,
		Hub:      a.Hub,

		HealthChecks: a.Storage.HealthChecks(),
	}
	a.APIServer = api.NewAPI(deps, a.Config, a.Sugar)

	addr := a.Config.ListenAddr()
	errCh := make(chan error, 1)
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("api-server", a.Sugar)
		a.Sugar.Infow("API server listening", "addr", addr)
		if err := a.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
			errCh <- err
		}
	}()

	// Surface bind failures instead of running headless.
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start API server: %w", err)
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	a.Sugar.Info("Vigil started")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case <-a.shutdownCh:
	}
}

// Shutdown stops intake first, then drains in-flight work, then closes stores.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 2: Stopping poller...")
	if a.Poller != nil {
		a.Poller.Stop()
	}

	a.Sugar.Info("Phase 3: Waiting for sink writes...")
	if a.Pipeline != nil {
		a.Pipeline.Wait()
	}

	a.Sugar.Info("Phase 4: Stopping subscribers hub...")
	if a.Hub != nil && a.hubStarted {
		a.Hub.Stop()
	}
	a.cancel()

	a.Sugar.Info("Phase 5: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 6: Closing connections...")
	if a.Relay != nil {
		a.Relay.Close()
	}
	if a.LogSource != nil {
		if err := a.LogSource.Close(); err != nil {
			a.Sugar.Errorw("Failed to close Cloud Logging client", "error", err)
		}
	}
	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
