// Package web serves the signup form and the operational endpoints.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/metrics"
	"github.com/JakeFAU/market-update/internal/subscription"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/favicon.ico
var favicon []byte

// Subscriber records signups.
type Subscriber interface {
	Subscribe(ctx context.Context, email string) (subscription.Outcome, error)
}

// Verifier checks CAPTCHA tokens.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// Config tunes the server.
type Config struct {
	// SiteKey is rendered into the form when CAPTCHA is enabled.
	SiteKey        string
	RequestTimeout time.Duration
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the subscription service.
type Server struct {
	router   chi.Router
	subs     Subscriber
	verifier Verifier
	cfg      Config
	pages    map[string]*template.Template
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. verifier may be nil, in
// which case submissions are not CAPTCHA-gated.
func NewServer(subs Subscriber, verifier Verifier, cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		subs:     subs,
		verifier: verifier,
		cfg:      cfg,
		pages:    pages,
		logger:   logger.Named("web"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/favicon.ico", s.favicon)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/", s.showForm(pageIndex))
		r.Post("/", s.submit(pageIndex))
		r.Get("/signup", s.showForm(pageSignup))
		r.Post("/signup", s.submit(pageSignup))
		r.Get("/thank-you", s.thankYou)
		r.Get("/hello", s.thankYou)
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, 3)
	for _, name := range []string{pageIndex, pageSignup, pageHello} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/form.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) favicon(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/vnd.microsoft.icon")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(favicon)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
