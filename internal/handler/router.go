package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/metrics"
)

// RouterOptions configures the middleware stack around the API.
type RouterOptions struct {
	Lang           string
	AllowedOrigins []string
	BasePath       string // URL prefix for sub-path deployments
	RequestTimeout time.Duration
	AccessLog      bool
}

// NewRouter builds the full HTTP handler: middleware, API routes and /metrics.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	metrics.Init()

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept-Language", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware)
	r.Use(i18n.Middleware(opts.Lang))

	r.Handle("/metrics", metrics.Handler())

	basePath := normalizeBasePath(opts.BasePath)
	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}
	return r
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
