package store

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/pkg/config"
	"github.com/heysubinoy/filekv/pkg/kv"
)

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// New opens the backend named by cfg.Backend.
func New(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (kv.Store, error) {
	var (
		s   kv.Store
		err error
	)
	switch cfg.Backend {
	case BackendFile:
		s, err = NewFileStore(cfg.DataDir)
	case BackendBolt:
		s, err = NewBoltStore(cfg.DataDir)
	case BackendRedis:
		s, err = NewRedisStore(ctx, &cfg.Redis)
	case BackendMemory:
		s = NewMemStore()
	default:
		return nil, errors.Newf("invalid store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.Backend)
	}
	if logger != nil {
		logger.Info("store opened", "backend", cfg.Backend, "data_dir", cfg.DataDir)
	}
	return s, nil
}
