// Package api serves the Vigil HTTP surface: the push endpoint, free-text
// analysis, poller control, stage activity, alert history and the live
// websocket feed.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/ingest"
	"vigil/storage"
	"vigil/util/goroutine"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PushHandler acknowledges Pub/Sub push deliveries
type PushHandler interface {
	HandlePush(ctx context.Context, body []byte, sourceIP string) ingest.PushResult
}

// PipelineService runs free-text analysis and exposes stage activity
type PipelineService interface {
	AnalyzeText(ctx context.Context, text string) (*core.Analysis, error)
	Activity() map[core.StageID]core.StageStatus
	RecordFault(stage core.StageID, detail string)
}

// PollController switches the Cloud Logging poller on and off
type PollController interface {
	Enable(ctx context.Context) (time.Time, error)
	Disable()
	Enabled() bool
	Watermark() time.Time
}

// DeadLetterLister pages through dead-lettered deliveries
type DeadLetterLister interface {
	List(ctx context.Context, page, limit int, reason string) ([]*ingest.DeadLetter, int, error)
}

// HealthCheck pings one backing store
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators the API serves. Pipeline and Hub are
// required; the rest may be nil and their routes answer accordingly.
type Dependencies struct {
	Gateway  PushHandler
	Pipeline PipelineService
	Poller   PollController
	History  storage.AlertReader
	DLQ      DeadLetterLister
	Hub      *Hub

	// HealthChecks are reported by /health, keyed by store name
	HealthChecks map[string]HealthCheck
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// API holds the HTTP server
type API struct {
	router   *mux.Router
	server   *http.Server
	gateway  PushHandler
	pipeline PipelineService
	poller   PollController
	history  storage.AlertReader
	dlq      DeadLetterLister
	hub      *Hub
	config   *config.Config
	logger   *zap.SugaredLogger
	validate *validator.Validate

	healthChecks map[string]HealthCheck

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	authFailures   map[string]*authFailureEntry
	authFailuresMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates the API and registers its routes
func NewAPI(deps Dependencies, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if deps.Pipeline == nil {
		panic("api: pipeline is required")
	}
	if deps.Hub == nil {
		panic("api: hub is required")
	}
	if cfg == nil {
		panic("api: config is required")
	}
	if logger == nil {
		panic("api: logger is required")
	}

	a := &API{
		router:       mux.NewRouter(),
		gateway:      deps.Gateway,
		pipeline:     deps.Pipeline,
		poller:       deps.Poller,
		history:      deps.History,
		dlq:          deps.DLQ,
		hub:          deps.Hub,
		healthChecks: deps.HealthChecks,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		authFailures: make(map[string]*authFailureEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	goroutine.Go("rate-limiter-cleanup", logger, a.cleanupRateLimiters)
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)

	// Push deliveries are not rate limited; a 429 would make Pub/Sub redeliver.
	a.router.HandleFunc("/pubsub/push", a.pubsubPush).Methods(http.MethodPost)
	a.router.HandleFunc("/ws", a.serveWebSocket).Methods(http.MethodGet)
	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	limited := a.router.NewRoute().Subrouter()
	limited.Use(a.rateLimitMiddleware)
	limited.HandleFunc("/analyze-log", a.analyzeLog).Methods(http.MethodPost, http.MethodOptions)
	limited.HandleFunc("/agents/activity", a.agentsActivity).Methods(http.MethodGet)
	limited.HandleFunc("/logs", a.recentLogs).Methods(http.MethodGet)

	operator := a.router.NewRoute().Subrouter()
	operator.Use(a.rateLimitMiddleware)
	if a.config.AuthEnabled() {
		operator.Use(a.basicAuthMiddleware)
	}
	operator.HandleFunc("/connect-gcp", a.connectGCP).Methods(http.MethodPost, http.MethodOptions)
	operator.HandleFunc("/disconnect-gcp", a.disconnectGCP).Methods(http.MethodPost, http.MethodOptions)
	operator.HandleFunc("/dlq", a.listDeadLetters).Methods(http.MethodGet)
}

// Handler returns the routed handler, for tests and embedding
func (a *API) Handler() http.Handler {
	return a.router
}

// Start listens on addr until Stop is called
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop shuts the server down
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
