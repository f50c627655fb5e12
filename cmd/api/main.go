package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"covera.io/internal/auth"
	"covera.io/internal/cache"
	"covera.io/internal/config"
	"covera.io/internal/httpapi"
	"covera.io/internal/obs"
	"covera.io/internal/store/memory"
	"covera.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "covera-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := obs.InitLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, probe, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []auth.ServiceOption{
		auth.WithTokenSecret(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	}
	capCache, rdb, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		probe.Redis = rdb
	}
	if capCache != nil {
		opts = append(opts, auth.WithCapabilityCache(capCache))
	}

	svc, err := auth.NewService(store, opts...)
	if err != nil {
		return err
	}

	api := httpapi.New(svc, probe, version,
		httpapi.WithLoginRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthService(probe)
	go health.Run(ctx, 5*time.Second)

	var grpcSrv *grpc.Server
	errCh := make(chan error, 2)
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = httpapi.NewGRPCServer(health)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
		shutdown(srv, grpcSrv, cfg.HTTP.ShutdownTimeout)
		return err
	}
	shutdown(srv, grpcSrv, cfg.HTTP.ShutdownTimeout)
	logger.Info("stopped")
	return nil
}

func shutdown(srv *http.Server, grpcSrv *grpc.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
}

// openStore uses PostgreSQL when a DSN is configured and a seeded in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.Store, httpapi.ReadyProbe, func(), error) {
	if cfg.Database.DSN != "" {
		st, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			logger.Warn("database not reachable yet", zap.Error(err))
		}
		return st, httpapi.ReadyProbe{DB: st.DB()}, func() { _ = st.Close() }, nil
	}

	logger.Warn("no database configured, using in-memory store")
	st := memory.New()
	if cfg.Bootstrap.AdminEmail != "" {
		if err := bootstrapAdmin(st, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		logger.Info("bootstrap admin created", zap.String("email", cfg.Bootstrap.AdminEmail))
	}
	return st, httpapi.ReadyProbe{}, func() {}, nil
}

func bootstrapAdmin(st *memory.Store, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin, err := st.AddIdentity(auth.Identity{
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		SystemAdmin:  true,
	})
	if err != nil {
		return err
	}
	role := st.AddRole(auth.Role{Name: "Administrator", Scope: auth.ScopeWeb})
	for _, p := range auth.BuiltinPermissions {
		perm := st.AddPermission(p)
		if err := st.AttachPermission(role.ID, perm.ID); err != nil {
			return err
		}
	}
	return st.BindRole(admin.ID, role.ID)
}

// openCache prefers Redis, falls back to a process-local cache, and disables caching when the TTL is zero.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.CapabilityCache, *redis.Client, error) {
	if cfg.Redis.Addr == "" {
		if cfg.Cache.TTL <= 0 {
			return nil, nil, nil
		}
		return memory.NewCache(cfg.Cache.TTL), nil, nil
	}
	client, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("capability cache on redis", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedis(client, cache.WithTTL(cfg.Cache.TTL)), client, nil
}
