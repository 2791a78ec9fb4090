// Package api provides the HTTP API server and handlers for barcodedrop.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/barcodedrop/barcodedrop-server/internal/http/response"
	"github.com/barcodedrop/barcodedrop-server/internal/ratelimit"
	"github.com/barcodedrop/barcodedrop-server/internal/realtime"
	"github.com/barcodedrop/barcodedrop-server/internal/search"
	"github.com/barcodedrop/barcodedrop-server/internal/service"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
	"github.com/barcodedrop/barcodedrop-server/internal/validation"
)

// Dependencies are the components the handlers call into. Index, Watch and
// Limiter may be nil.
type Dependencies struct {
	Store    store.ScanStore
	Scans    *service.ScanService
	Index    *search.SearchIndex
	Registry *realtime.Registry
	Watch    http.Handler
	Limiter  *ratelimit.KeyedRateLimiter
}

// Options configures the server.
type Options struct {
	Title       string
	Version     string
	CORSOrigins []string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store     store.ScanStore
	scans     *service.ScanService
	index     *search.SearchIndex
	registry  *realtime.Registry
	watch     http.Handler
	limiter   *ratelimit.KeyedRateLimiter
	validator *validation.Validator
	version   string

	router *chi.Mux
	api    huma.API
	logger *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(deps Dependencies, opts Options, logger *slog.Logger) *Server {
	if opts.Title == "" {
		opts.Title = "barcodedrop API"
	}

	s := &Server{
		store:     deps.Store,
		scans:     deps.Scans,
		index:     deps.Index,
		registry:  deps.Registry,
		watch:     deps.Watch,
		limiter:   deps.Limiter,
		validator: validation.New(),
		version:   opts.Version,
		router:    chi.NewRouter(),
		logger:    logger,
	}

	s.setupMiddleware(opts.CORSOrigins)

	humaConfig := huma.DefaultConfig(opts.Title, opts.Version)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, mainly for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// setupMiddleware configures the middleware stack. It must run before any
// route is registered.
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{HeaderBarcodeID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Compress(5))
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter, s.logger))
	}

	s.router.NotFound(response.NotFound(s.logger))
	s.router.MethodNotAllowed(response.MethodNotAllowed(s.logger))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerRootRoutes()
	s.registerHealthRoutes()
	s.registerScanRoutes()
	s.registerDeleteRoutes()
	s.registerSearchRoutes()

	// Served by chi directly: form and query bodies, and the WebSocket upgrade.
	s.router.Post("/scan/{user}", s.handleScan)
	if s.watch != nil {
		s.router.Get("/watch/{user}", s.watch.ServeHTTP)
	}
}
