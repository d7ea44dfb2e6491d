// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package elnweb

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/arclab/eln/auth"
	"github.com/arclab/eln/draft"
	"github.com/arclab/eln/filestage"
	"github.com/arclab/eln/sop"
	"github.com/arclab/eln/storage"
	"github.com/arclab/eln/storage/filestore"
	"github.com/arclab/eln/storage/s3store"
	"github.com/arclab/eln/storage/storelogger"
	"github.com/arclab/eln/submission"
	"github.com/arclab/eln/tenantconfig"
)

// Tenant bundles the per-tenant services. Bundles are built lazily on first
// request and cached for the process lifetime; a config change requires a
// restart, matching the resolver's negative caching.
type Tenant struct {
	Name      string
	Config    *tenantconfig.Config
	Store     storage.Store
	Validator auth.Validator
	SOPs      *sop.Store
	Drafts    *draft.Store
	Stager    *filestage.Stager
	Engine    *submission.Engine
	Retrier   *submission.Retrier
	Sweeper   *draft.Sweeper
}

func (server *Server) tenant(ctx context.Context, name string) (_ *Tenant, err error) {
	defer mon.Task()(&ctx)(&err)

	server.mu.Lock()
	defer server.mu.Unlock()

	if bundle, ok := server.tenants[name]; ok {
		return bundle, nil
	}

	config, err := server.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}

	log := server.log.With(zap.String("tenant", name))

	// clients and key caches outlive the triggering request
	baseCtx := server.runCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	backing, err := server.openStore(baseCtx, log, config)
	if err != nil {
		return nil, err
	}
	validator, err := server.openValidator(baseCtx, log, config)
	if err != nil {
		return nil, err
	}

	retrier := submission.NewRetrier(log.Named("retry"), backing,
		time.Second, time.Minute, 15*time.Minute)
	drafts := draft.NewStore(log.Named("drafts"), backing, name)

	interval := config.Drafts.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	sweeper := draft.NewSweeper(log.Named("sweeper"), drafts, config.Retention(), interval)

	bundle := &Tenant{
		Name:      name,
		Config:    config,
		Store:     backing,
		Validator: validator,
		SOPs:      sop.NewStore(log.Named("sops"), backing),
		Drafts:    drafts,
		Stager:    filestage.NewStager(log.Named("stager"), backing, drafts, config.Files),
		Engine:    submission.NewEngine(log.Named("engine"), backing, name, retrier),
		Retrier:   retrier,
		Sweeper:   sweeper,
	}
	server.tenants[name] = bundle
	server.startSweeper(bundle)
	return bundle, nil
}

func (server *Server) openStore(ctx context.Context, log *zap.Logger, config *tenantconfig.Config) (storage.Store, error) {
	var backing storage.Store
	var err error
	switch config.Storage.Backend {
	case "s3":
		prefix := config.Storage.Prefix
		if prefix == "" {
			prefix = config.Tenant
		} else {
			prefix = prefix + "/" + config.Tenant
		}
		backing, err = s3store.Open(ctx, log.Named("s3"), config.Storage.Region, config.Storage.Root, prefix)
	default:
		backing, err = filestore.New(filepath.Join(config.Storage.Root, config.Tenant))
	}
	if err != nil {
		return nil, err
	}
	if server.debug {
		backing = storelogger.New(log.Named("store"), backing)
	}
	return backing, nil
}

func (server *Server) openValidator(ctx context.Context, log *zap.Logger, config *tenantconfig.Config) (auth.Validator, error) {
	if config.Auth.Provider == "mock" {
		return auth.NewMockValidator(config.Auth.MockUsers), nil
	}
	return auth.NewJWKSValidator(ctx, log.Named("jwks"), auth.JWKSConfig{
		IssuerURL:   config.Auth.IssuerURL,
		JWKSURL:     config.Auth.JWKSURL,
		ClientID:    config.Auth.ClientID,
		GroupsClaim: config.Auth.GroupsClaim,
	})
}
