// Package httpapi serves the REST endpoints for uploads, downloads and
// transfer records, plus the websocket relay endpoint.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/registry"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/dmitrijs2005/filerelay/internal/server/storage"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Uploader is the write side of the storage manager.
type Uploader interface {
	Store(ctx context.Context, r io.Reader, meta storage.Metadata) (*storage.EncryptedObject, error)
	MaxSize() int64
}

// Options configures a Server.
type Options struct {
	Address        string
	Secret         []byte
	AllowedOrigins []string
	// MaxMessageSize bounds one inbound websocket message.
	MaxMessageSize int64
	// RateLimitRequests per RateLimitWindow for each client IP on /api and
	// /ws. Zero disables the limit.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type Server struct {
	address        string
	secret         []byte
	allowedOrigins []string
	maxMessageSize int64
	rateRequests   int
	rateWindow     time.Duration

	logger    logging.Logger
	uploads   Uploader
	transfers *transfers.Service
	registry  *registry.Registry
	machine   *relay.Machine
}

func NewServer(opts Options, l logging.Logger, up Uploader, ts *transfers.Service, reg *registry.Registry, m *relay.Machine) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4 * common.MiB
	}
	return &Server{
		address:        opts.Address,
		secret:         opts.Secret,
		allowedOrigins: opts.AllowedOrigins,
		maxMessageSize: opts.MaxMessageSize,
		rateRequests:   opts.RateLimitRequests,
		rateWindow:     opts.RateLimitWindow,
		logger:         l.With("module", "http_server"),
		uploads:        up,
		transfers:      ts,
		registry:       reg,
		machine:        m,
	}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.RequireAuth)

		r.Get("/ws", s.serveWS)

		r.Route("/api", func(r chi.Router) {
			r.Post("/files/upload", s.upload)
			r.Post("/files/transfers", s.recordTransfer)
			r.Get("/files/transfers", s.listTransfers)
			r.Get("/files/transfers/{id}", s.getTransfer)
			r.Get("/files/transfers/{id}/download", s.download)
			r.Delete("/files/transfers/{id}", s.deleteTransfer)
			r.Get("/users/online", s.onlineUsers)
		})
	})

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *Server) serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		// hijacked websocket connections are not tracked by Shutdown
		s.registry.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
