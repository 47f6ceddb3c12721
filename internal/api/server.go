// Package api exposes the registry and its change events to dashboard
// consumers.
package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/pvdash/internal/errors"
	"codeberg.org/mutker/pvdash/internal/logger"
	"codeberg.org/mutker/pvdash/internal/notify"
	"codeberg.org/mutker/pvdash/internal/plant"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	defaultStaleAfter = time.Minute
)

type Deps struct {
	Registry *plant.Registry
	Hub      *notify.Hub
	// Gatherer backs /metrics. The endpoint is not mounted when nil.
	Gatherer prometheus.Gatherer
	Log      logger.Logger
	// StaleAfter is the gauge age past which a plant is reported as
	// gaugeStale. Defaults to one minute.
	StaleAfter time.Duration
}

type Server struct {
	deps     Deps
	router   *mux.Router
	upgrader websocket.Upgrader
}

func New(deps Deps) *Server {
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = defaultStaleAfter
	}
	s := &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.UseEncodedPath()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	plants := r.PathPrefix("/api/plants").Subrouter()
	plants.HandleFunc("", s.listPlants).Methods(http.MethodGet)
	plants.HandleFunc("", s.createPlant).Methods(http.MethodPost)
	plants.HandleFunc("/{key}", s.getPlant).Methods(http.MethodGet)
	plants.HandleFunc("/{key}", s.deletePlant).Methods(http.MethodDelete)

	r.HandleFunc("/api/ws", s.events).Methods(http.MethodGet)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

// Handler returns the router wrapped with panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.deps.Log}),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CustomLoggingHandler(io.Discard, recovery(s.router), s.logRequest)
}

// Run serves on addr until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errFactory := errors.New()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.Info().Str("addr", addr).Msg("Dashboard API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errFactory.Wrap(ErrServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.deps.Log.Debug().
		Str("method", p.Request.Method).
		Str("path", p.URL.Path).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Str("remote", p.Request.RemoteAddr).
		Msg("Request served")
}

type recoveryLogger struct {
	log logger.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error().Msg(fmt.Sprint(v...))
}
