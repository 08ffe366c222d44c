package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexamediaserver/server-sub005/internal/httputil"
	"github.com/nexamediaserver/server-sub005/internal/jobs"
	"github.com/nexamediaserver/server-sub005/internal/models"
	"github.com/nexamediaserver/server-sub005/internal/rendition"
	"github.com/nexamediaserver/server-sub005/internal/version"
)

type ItemReader interface {
	GetCatalogItem(ctx context.Context, id uuid.UUID) (*models.CatalogItem, error)
}

type LibraryStore interface {
	List(ctx context.Context) ([]*models.Library, error)
	SetAgentOrder(ctx context.Context, id uuid.UUID, order []string) error
}

type SettingsStore interface {
	All(ctx context.Context) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]string) error
	Reset(ctx context.Context, key string) error
}

// Renderer derives artwork renditions.
type Renderer interface {
	GetOrDerive(ctx context.Context, req rendition.Request) (string, error)
}

// Deps are the collaborators the HTTP layer needs. Nil stores disable their routes.
type Deps struct {
	Items     ItemReader
	Libraries LibraryStore
	Settings  SettingsStore
	Renderer  Renderer
	Queue     jobs.Enqueuer
	Logger    *zap.Logger
}

type Server struct {
	deps   Deps
	router chi.Router
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, router: chi.NewRouter(), logger: logger.Named("api")}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/items/{id}/artwork/{kind}", s.handleArtwork)
		r.Post("/items/{id}/enrich", s.handleEnrich)

		if s.deps.Libraries != nil {
			r.Get("/libraries", s.handleListLibraries)
			r.Put("/libraries/{id}/agent-order", s.handleSetAgentOrder)
		}
		if s.deps.Settings != nil {
			r.Get("/settings", s.handleListSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Delete("/settings/{key}", s.handleResetSetting)
		}
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"version": version.Load().Version})
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "INVALID_ID", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
