// Package handler is the HTTP bridge between the embedded web view and the
// client core. The view reports its launch data here, drives the watch flow
// and receives state snapshots over a WebSocket.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Frozertiru-gif/Kina/internal/app"
	klog "github.com/Frozertiru-gif/Kina/internal/log"
	"github.com/Frozertiru-gif/Kina/internal/watchflow"
)

// Options configure the bridge.
type Options struct {
	StaticDir     string // served at / with SPA fallback when non-empty
	RatePerMinute int    // per-IP limit on /api; 0 disables
	AdCountdown   time.Duration
}

// Server is the bridge for one App.
type Server struct {
	app      *app.App
	opts     Options
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu       sync.Mutex
	adGate   *watchflow.AdGate
	adGen    uint64 // bumped whenever the view leaves the ad
	episodes *watchflow.Episodes
}

func NewServer(a *app.App, opts Options) *Server {
	if opts.AdCountdown <= 0 {
		opts.AdCountdown = watchflow.DefaultAdCountdown
	}
	s := &Server{
		app:    a,
		opts:   opts,
		logger: klog.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The bridge only listens for the local web view.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestContext)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.RatePerMinute > 0 {
			r.Use(rateLimit(s.opts.RatePerMinute, time.Minute))
		}

		r.Post("/launch", s.handleLaunch)
		r.Post("/auth/retry", s.handleAuthRetry)
		r.Get("/session", s.handleSession)

		r.Route("/watch", func(r chi.Router) {
			r.Get("/state", s.handleWatchState)
			r.Get("/events", s.handleWatchEvents)
			r.Post("/params", s.handleWatchParams)
			r.Post("/resolve", s.handleWatchResolve)
			r.Post("/start", s.handleWatchStart)
			r.Post("/ad/start", s.handleAdStart)
			r.Post("/ad/complete", s.handleAdComplete)
			r.Post("/ad/skip", s.handleAdSkip)
			r.Post("/ad/leave", s.handleAdLeave)
			r.Post("/reset", s.handleWatchReset)
		})

		r.Get("/episodes/{adjacent}", s.handleAdjacentEpisode)
		r.Get("/favorites", s.handleFavorites)
		r.Post("/favorites/toggle", s.handleFavoriteToggle)
		r.Get("/subscriptions", s.handleSubscriptions)
		r.Post("/subscriptions/toggle", s.handleSubscriptionToggle)
		r.Get("/title/{id}", s.handleTitle)
		r.Get("/title/{id}/episodes", s.handleTitleEpisodes)
		r.Get("/catalog/top", s.handleCatalogTop)
		r.Get("/catalog/search", s.handleCatalogSearch)
		r.Get("/referral", s.handleReferral)
	})

	if s.opts.StaticDir != "" {
		r.Handle("/*", Static(s.opts.StaticDir))
	}
	return r
}

// requestContext forwards the chi request id into the log context so the
// outbound backend call carries the same X-Request-Id.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = klog.ContextWithRequestID(ctx, id)
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger := klog.WithContext(ctx, s.logger)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int(klog.FieldStatus, ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeProblem(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.", nil)
		}),
	)
}

// detached keeps request values but survives the view disconnecting.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
