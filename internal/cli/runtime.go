package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophvault/internal/audit"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/remote"
	"github.com/dmitrijs2005/gophvault/internal/remote/boltremote"
	"github.com/dmitrijs2005/gophvault/internal/remote/grpcremote"
	"github.com/dmitrijs2005/gophvault/internal/remote/pgremote"
	"github.com/dmitrijs2005/gophvault/internal/remote/s3remote"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"github.com/dmitrijs2005/gophvault/internal/session"
	"github.com/dmitrijs2005/gophvault/internal/store"
	"github.com/dmitrijs2005/gophvault/internal/syncer"
)

// ErrSyncDisabled is returned by sync commands when the cloud mode is none.
var ErrSyncDisabled = errors.New("sync is disabled in cloud mode none")

// Runtime is one process's wired vault.
type Runtime struct {
	Config   *config.Config
	Store    *store.Store
	Sessions *session.Manager
	Audit    *audit.Log
	Vault    *services.Vault
	// Engine and Backend are nil when sync is disabled.
	Engine  *syncer.Engine
	Backend remote.Backend
	Logger  logging.Logger
}

// Open wires a Runtime for cfg. Logs go to logw as text.
func Open(ctx context.Context, cfg *config.Config, logw io.Writer) (*Runtime, error) {
	l := logging.New(logw, "text", cfg.LogLevel)

	s, err := store.Open(ctx, cfg.StorePath, l)
	if err != nil {
		return nil, err
	}

	device, err := s.DeviceID(ctx, cfg.DeviceID)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	alg, _ := cryptox.ParseAlgorithm(cfg.Algorithm)

	sm := session.NewManager(session.StoreDirectory(s), session.Options{
		Timeout:     cfg.SessionTimeout,
		MaxLifetime: cfg.SessionMaxLifetime,
	}, l)
	al := audit.New(s, l)
	v := services.NewVault(s, sm, al, services.Options{
		Algorithm:     alg,
		KDF:           cfg.KDF(),
		Collaborative: cfg.Collaborative(),
		DeviceID:      device,
	}, l)

	rt := &Runtime{Config: cfg, Store: s, Sessions: sm, Audit: al, Vault: v, Logger: l}
	if !cfg.SyncEnabled() {
		return rt, nil
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	rt.Backend = b
	rt.Engine = syncer.New(v, s, al, b, cfg.SyncOptions(), l)
	return rt, nil
}

func openBackend(ctx context.Context, c *config.Config) (remote.Backend, error) {
	switch c.Backend {
	case config.BackendMemory:
		return remote.NewMemory(), nil
	case config.BackendBolt:
		return boltremote.Open(c.BoltPath)
	case config.BackendPostgres:
		return pgremote.Open(ctx, c.DatabaseDSN)
	case config.BackendS3:
		return s3remote.Open(ctx, s3remote.Config{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
		})
	case config.BackendGRPC:
		return grpcremote.Dial(c.ServerAddr, c.ServerToken)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", common.ErrInvalidInput, c.Backend)
}

// Close releases the backend, the session manager and the store.
func (r *Runtime) Close() {
	if r.Backend != nil {
		if err := r.Backend.Close(); err != nil {
			r.Logger.Warn(context.Background(), "backend close failed", "error", err)
		}
	}
	r.Sessions.Close()
	if err := r.Store.Close(); err != nil {
		r.Logger.Warn(context.Background(), "store close failed", "error", err)
	}
}
