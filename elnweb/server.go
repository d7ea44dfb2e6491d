// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package elnweb binds the HTTP surface: token validation, tenant
// resolution, permission checks and dispatch into the domain packages. No
// business logic lives here.
package elnweb

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arclab/eln/tenantconfig"
)

// Error is the default elnweb error class.
var Error = errs.Class("elnweb")

var mon = monkit.Package()

// Config holds the server options.
type Config struct {
	Address   string
	ConfigDir string
	Debug     bool
}

// Server is the tenant-aware HTTP server.
type Server struct {
	log      *zap.Logger
	config   Config
	resolver *tenantconfig.Resolver
	router   *mux.Router
	server   *http.Server

	debug bool

	mu      sync.Mutex
	tenants map[string]*Tenant

	runCtx context.Context
	group  *errgroup.Group
}

// NewServer creates a server; Run starts serving.
func NewServer(log *zap.Logger, config Config) *Server {
	server := &Server{
		log:      log,
		config:   config,
		resolver: tenantconfig.NewResolver(log.Named("config"), config.ConfigDir),
		tenants:  map[string]*Tenant{},
		debug:    config.Debug,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/config/runtime", server.handleRuntimeConfig).Methods(http.MethodGet)
	router.HandleFunc("/api/config/private", server.authorized(server.handlePrivateConfig)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sops/list", server.authorized(server.handleSOPList)).Methods(http.MethodGet)
	api.HandleFunc("/sops/{sop_id}", server.authorized(server.handleSOPGet)).Methods(http.MethodGet)
	api.HandleFunc("/drafts/", server.authorized(server.handleDraftSave)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/", server.authorized(server.handleDraftList)).Methods(http.MethodGet)
	api.HandleFunc("/drafts/{draft_id}", server.authorized(server.handleDraftGet)).Methods(http.MethodGet)
	api.HandleFunc("/drafts/{draft_id}", server.authorized(server.handleDraftDelete)).Methods(http.MethodDelete)
	api.HandleFunc("/files/upload", server.authorized(server.handleFileUpload)).Methods(http.MethodPost)
	api.HandleFunc("/files/{temp_id}", server.authorized(server.handleFileDelete)).Methods(http.MethodDelete)
	api.HandleFunc("/files/attach-to-eln", server.authorized(server.handleAttach)).Methods(http.MethodPost)
	api.HandleFunc("/elns/submit", server.authorized(server.handleSubmit)).Methods(http.MethodPost)

	server.router = router
	server.server = &http.Server{
		Handler:           server.corsHandler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server
}

// Handler exposes the full middleware chain, for tests.
func (server *Server) Handler() http.Handler { return server.server.Handler }

// Run serves until ctx is canceled, then drains.
func (server *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", server.config.Address)
	if err != nil {
		return Error.Wrap(err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	server.mu.Lock()
	server.runCtx = groupCtx
	server.group = group
	for _, bundle := range server.tenants {
		server.launchSweeper(bundle)
	}
	server.mu.Unlock()

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return Error.Wrap(server.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		server.log.Info("server started", zap.String("address", listener.Addr().String()))
		err := server.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})

	err = group.Wait()

	server.mu.Lock()
	for _, bundle := range server.tenants {
		bundle.Retrier.Close()
	}
	server.mu.Unlock()
	return err
}

// startSweeper launches the tenant's sweeper when the server is running.
// Bundles built before Run are picked up by Run itself. Callers hold
// server.mu.
func (server *Server) startSweeper(bundle *Tenant) {
	if server.group == nil {
		return
	}
	server.launchSweeper(bundle)
}

func (server *Server) launchSweeper(bundle *Tenant) {
	runCtx := server.runCtx
	sweeper := bundle.Sweeper
	server.group.Go(func() error {
		err := sweeper.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// corsHandler applies the per-tenant origin allow list. The tenant is known
// only from the request host, so the decision runs per request.
func (server *Server) corsHandler(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			tenant, err := server.resolver.TenantForHost(r.Host)
			if err != nil {
				return false
			}
			config, err := server.resolver.Resolve(tenant)
			if err != nil {
				return false
			}
			for _, allowed := range config.CORS.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(next)
}
