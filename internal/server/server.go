package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"frames/internal/assets"
	"frames/internal/config"
	"frames/internal/ledger"
	"frames/internal/logging"
	"frames/internal/notifications"
	"frames/internal/transcode"
	"frames/internal/upload"
)

// Server exposes the upload, asset, and job APIs plus artifact file serving.
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	tracker     *upload.Tracker
	receiver    *upload.Receiver
	reassembler *upload.Reassembler
	ledger      *ledger.Store
	catalog     *assets.Store
	pool        *transcode.Pool
	notifier    notifications.Service

	bg sync.WaitGroup
}

// Deps bundles the collaborators the server routes traffic to.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Tracker     *upload.Tracker
	Receiver    *upload.Receiver
	Reassembler *upload.Reassembler
	Ledger      *ledger.Store
	Catalog     *assets.Store
	Pool        *transcode.Pool
	Notifier    notifications.Service
}

// New builds a Server from its dependencies.
func New(deps Deps) *Server {
	return &Server{
		cfg:         deps.Config,
		logger:      logging.NewComponentLogger(deps.Logger, "api"),
		tracker:     deps.Tracker,
		receiver:    deps.Receiver,
		reassembler: deps.Reassembler,
		ledger:      deps.Ledger,
		catalog:     deps.Catalog,
		pool:        deps.Pool,
		notifier:    deps.Notifier,
	}
}

// Router assembles the chi router with middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/api/uploads", s.handleUploadChunk)
	r.Get("/api/uploads/{uploadID}", s.handleUploadStatus)
	r.Get("/api/assets/{key}", s.handleGetAsset)
	r.Delete("/api/assets/{key}", s.handleDeleteAsset)
	r.Get("/api/jobs/{key}", s.handleGetJob)
	r.Get("/healthz", s.handleHealth)

	r.Get(s.cfg.Paths.URLPrefix+"/*", s.handleArtifactFile)

	return r
}

// HTTPServer wraps the router in an http.Server bound to the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Paths.APIBind,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// WaitBackground blocks until in-flight reassembly goroutines finish.
func (s *Server) WaitBackground() {
	s.bg.Wait()
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
