package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"fleetdesk.org/internal/audit"
	"fleetdesk.org/internal/auth"
	"fleetdesk.org/internal/config"
	"fleetdesk.org/internal/httpapi"
	"fleetdesk.org/internal/obs"
	"fleetdesk.org/internal/store/pg"
	"fleetdesk.org/internal/sweeper"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to the default here.
		obs.NewLogger("info").Fatal("invalid configuration", zap.Error(err))
	}
	logger := obs.NewLogger(cfg.LogLevel)
	defer obs.SetLogger(logger)()
	defer func() { _ = logger.Sync() }()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fleetdesk-api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	store, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(store, store, tokens, auth.WithLogger(logger))
	if err != nil {
		return err
	}
	perms, err := auth.NewPermissionService(store, store, auth.WithProtectedRole(cfg.ProtectedRoleCode))
	if err != nil {
		return err
	}
	users, err := auth.NewUserService(store, store, auth.WithUserProtectedRole(cfg.ProtectedRoleCode))
	if err != nil {
		return err
	}
	policy, err := auth.LoadRoutePolicy(cfg.RoutePolicyFile)
	if err != nil {
		return err
	}

	writer := audit.NewWriter(store,
		audit.WithQueueSize(cfg.AuditQueueSize),
		audit.WithWorkers(cfg.AuditWorkers),
		audit.WithWriterLogger(logger),
	)

	sweep, err := sweeper.New(store, cfg.SessionSweepSchedule, sweeper.WithLogger(logger))
	if err != nil {
		return err
	}
	sweep.Start()

	readiness := httpapi.ReadyProbe{DB: store}
	api, err := httpapi.New(httpapi.Options{
		Authenticator:  authn,
		Permissions:    perms,
		Users:          users,
		AuditStore:     store,
		AuditSink:      writer,
		Policy:         policy,
		Readiness:      readiness,
		Version:        version,
		Production:     cfg.Production(),
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
		RateBurst:      cfg.AuthRateBurst,
		RatePerSec:     cfg.AuthRatePerSec,

		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv := grpc.NewServer()
	health := httpapi.NewHealthServer(readiness, 10*time.Second)
	health.Register(grpcSrv)
	go health.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	errc := make(chan error, 2)
	go func() {
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- err
		}
	}()
	go func() {
		logger.Info("fleetdesk-api listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("version", version),
			zap.String("env", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errc:
		logger.Error("server failed", zap.Error(serveErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Warn("audit writer drain", zap.Error(err))
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		logger.Warn("sweeper stop", zap.Error(err))
	}
	logger.Info("stopped")
	return serveErr
}
