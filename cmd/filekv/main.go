package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/heysubinoy/filekv/internal/api"
	"github.com/heysubinoy/filekv/internal/protocol"
	"github.com/heysubinoy/filekv/internal/server"
	"github.com/heysubinoy/filekv/internal/store"
	"github.com/heysubinoy/filekv/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("invalid log configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("filekv stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.New(ctx, &cfg.Store, logger)
	if err != nil {
		return err
	}
	instrumented := store.NewInstrumentedStore(backend)
	kvStore := store.NewKeyLockStore(instrumented)
	defer func() {
		if err := kvStore.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}()

	policy, err := protocol.ParseValuePolicy(cfg.Server.ValuePolicy)
	if err != nil {
		return err
	}
	srv := server.New(kvStore, logger,
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithConnLifetime(cfg.Server.ConnLifetime),
		server.WithMaxConns(cfg.Server.MaxConns),
		server.WithValuePolicy(policy),
	)

	// Bind everything before serving, so a bad address fails startup.
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return &server.SetupError{Addr: cfg.Addr(), Err: err}
	}

	var grpcSrv *api.GRPCServer
	if cfg.Admin.GRPCAddr != "" {
		grpcLn, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
		if err != nil {
			ln.Close()
			return &server.SetupError{Addr: cfg.Admin.GRPCAddr, Err: err}
		}
		grpcSrv = api.NewGRPCServer()
		go func() {
			logger.Info("gRPC health listening", "addr", cfg.Admin.GRPCAddr)
			if err := grpcSrv.Serve(grpcLn); err != nil {
				logger.Error("gRPC server failed", "error", err)
			}
		}()
	}

	var httpSrv *http.Server
	if cfg.Admin.HTTPAddr != "" {
		httpLn, err := net.Listen("tcp", cfg.Admin.HTTPAddr)
		if err != nil {
			ln.Close()
			if grpcSrv != nil {
				grpcSrv.Stop()
			}
			return &server.SetupError{Addr: cfg.Admin.HTTPAddr, Err: err}
		}
		mux := http.NewServeMux()
		api.NewServer(kvStore, logger).RegisterRoutes(mux)
		mux.Handle("/metrics", api.MetricsHandler(instrumented, srv.Stats))
		httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("admin HTTP listening", "addr", cfg.Admin.HTTPAddr)
			if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin HTTP server failed", "error", err)
			}
		}()
	}

	if grpcSrv != nil {
		grpcSrv.SetServing(true)
	}

	serveErr := srv.Serve(ctx, ln)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin HTTP shutdown", "error", err)
		}
	}
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	return serveErr
}
