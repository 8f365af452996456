// Package api exposes chat, ingestion control and task polling over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsParser/internal/conversation"
	"NewsParser/internal/domain"
	"NewsParser/internal/metrics"
	"NewsParser/internal/usecase"
)

// Ingestion is the run gate and task registry as seen by HTTP handlers.
type Ingestion interface {
	TriggerRun(ctx context.Context, kind domain.TaskKind) (string, bool, error)
	Task(id string) (domain.Task, error)
	Status() usecase.SchedulerStatus
}

// Conversation answers chat turns and names chats.
type Conversation interface {
	Stream(ctx context.Context, query string, history []domain.Message) <-chan conversation.Event
	Title(ctx context.Context, query string) string
}

// Options configures cross-cutting HTTP behaviour.
type Options struct {
	CORSOrigins []string
	// RateLimit is the number of chat and manual fetch requests allowed per
	// client IP in RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	Logger     *slog.Logger
}

// Server holds the handler dependencies.
type Server struct {
	ingestion Ingestion
	chat      Conversation
	opts      Options
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewServer builds the HTTP layer over the ingestion and conversation services.
func NewServer(ingestion Ingestion, chat Conversation, opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		ingestion: ingestion,
		chat:      chat,
		opts:      opts,
		validate:  validator.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the root handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))

		r.Get("/", s.handleIndex)
		r.Get("/health", s.handleHealth)
		r.Post("/chat/title", s.handleChatTitle)
		r.Get("/feeds/tasks/{taskID}", s.handleTask)
		r.Get("/feeds/status", s.handleSchedulerStatus)

		r.Group(func(r chi.Router) {
			if s.opts.RateLimit > 0 {
				r.Use(httprate.LimitByIP(s.opts.RateLimit, s.opts.RateWindow))
			}
			r.Post("/chat", s.handleChat)
			r.Post("/feeds/fetch", s.handleFetch)
		})
	})

	return r
}

// observe records request count and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		s.logger.Debug("http request",
			"method", r.Method, "route", route, "status", status,
			"request_id", middleware.GetReqID(r.Context()), "took", time.Since(start))
	})
}
