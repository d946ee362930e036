package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/dispatch"
	"github.com/cuemby/meek/pkg/ingest"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/metrics"
	"github.com/cuemby/meek/pkg/registry"
	"github.com/cuemby/meek/pkg/retryqueue"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/taskstate"
)

// ModelSyncer triggers a model-marketplace sync (SPEC_FULL.md §6.2).
// pkg/modelsync.Syncer satisfies this; declared here rather than
// imported so pkg/api never has to depend on the sync cadence or the
// marketplace client, only on the ability to run one sync on demand.
type ModelSyncer interface {
	Sync(ctx context.Context) error
}

// Server is the Lifecycle HTTP API (spec.md §6).
type Server struct {
	store      store.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	retryQueue *retryqueue.Queue
	ingester   *ingest.Ingester
	taskState  *taskstate.Manager
	modelSync  ModelSyncer
	apiKey     string
	logger     zerolog.Logger

	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server and registers every route. modelSync may be nil,
// in which case POST /models/sync always reports it unconfigured.
func New(s store.Store, reg *registry.Registry, d *dispatch.Dispatcher, rq *retryqueue.Queue, ing *ingest.Ingester, ts *taskstate.Manager, modelSync ModelSyncer, httpCfg config.HTTPConfig, modelSyncCfg config.ModelSyncConfig) *Server {
	srv := &Server{
		store:      s,
		registry:   reg,
		dispatcher: d,
		retryQueue: rq,
		ingester:   ing,
		taskState:  ts,
		modelSync:  modelSync,
		apiKey:     modelSyncCfg.APIKey,
		logger:     log.WithComponent("api"),
		router:     mux.NewRouter(),
	}
	srv.routes()
	srv.httpServer = &http.Server{
		Addr:         httpCfg.Listen,
		Handler:      srv.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverMiddleware, s.loggingMiddleware)

	r.HandleFunc("/tasks/create", s.handleTaskCreate).Methods(http.MethodPost)
	r.HandleFunc("/tasks/start", s.handleTaskStart).Methods(http.MethodPost)
	r.HandleFunc("/tasks/stop", s.handleTaskStop).Methods(http.MethodPost)
	r.HandleFunc("/tasks/delete", s.handleTaskDelete).Methods(http.MethodPost)
	r.HandleFunc("/tasks/status", s.handleTaskStatus).Methods(http.MethodPost)
	r.HandleFunc("/callback", s.handleCallback).Methods(http.MethodPost)

	r.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)

	r.HandleFunc("/streams", s.handleListStreams).Methods(http.MethodGet)
	r.HandleFunc("/streams", s.handleCreateStream).Methods(http.MethodPost)
	r.HandleFunc("/streams/{id}", s.handleDeleteStream).Methods(http.MethodDelete)

	r.Handle("/models/sync", s.requireAPIKey(http.HandlerFunc(s.handleModelSync))).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler exposes the underlying router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP server until Stop is called, blocking like
// http.Server.ListenAndServe (ErrServerClosed is swallowed).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("lifecycle API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("lifecycle API serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
