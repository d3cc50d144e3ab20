package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthflow"
	"github.com/showdeck/cloudconnect/internal/oauthstate"
)

// flowService is the slice of the OAuth service the handlers need.
type flowService interface {
	Initiate(ctx context.Context, provider, organizationID, userID, returnURL string) (*oauthflow.InitiateResult, error)
	HandleCallback(ctx context.Context, code, state string) (*oauthflow.CallbackResult, error)
	RefreshConnection(ctx context.Context, organizationID, provider string) error
	RevokeConnection(ctx context.Context, organizationID, provider string) error
}

type server struct {
	cfg       Config
	router    *chi.Mux
	svc       flowService
	states    oauthstate.Store
	conns     connection.Store
	providers []string // registered OAuth2 provider names
	log       *zap.Logger
}

func newServer(cfg Config, svc flowService, states oauthstate.Store, conns connection.Store, providers []string, log *zap.Logger) *server {
	srv := &server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		svc:       svc,
		states:    states,
		conns:     conns,
		providers: providers,
		log:       log,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(srv.logRequests)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(30 * time.Second))

	srv.routes()
	return srv
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *server) routes() {
	s.router.Get("/health", s.handleHealth())
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/oauth/initiate", s.handleInitiate())
	s.router.Get("/oauth/callback", s.handleCallback())
	s.router.Post("/oauth/refresh", s.handleRefresh())
	s.router.Post("/oauth/revoke", s.handleRevoke())
	s.router.Get("/connections", s.handleConnections())
}

func (s *server) checkHealth(ctx context.Context) error {
	if err := s.states.CheckHealth(ctx); err != nil {
		return err
	}
	return s.conns.CheckHealth(ctx)
}
