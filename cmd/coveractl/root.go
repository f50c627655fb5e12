package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"covera.io/internal/auth"
	"covera.io/internal/cache"
	"covera.io/internal/config"
	"covera.io/internal/obs"
	"covera.io/internal/store/pg"
)

type rootOptions struct {
	configPath string
	dsn        string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "coveractl",
		Short:         "Administer the covera auth database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides config and COVERA_DATABASE_DSN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newIdentityCmd(opts),
		newModuleCmd(opts),
	)
	return cmd
}

func (o *rootOptions) config() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dsn != "" {
		cfg.Database.DSN = o.dsn
	}
	if cfg.Database.DSN == "" {
		return nil, errors.New("missing DSN: provide --dsn or COVERA_DATABASE_DSN")
	}
	if _, err := obs.InitLogger(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, o.timeout)
}

func (o *rootOptions) openStore() (*config.Config, *pg.Store, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	st, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// openService builds the auth service so CLI changes take the same path as API changes, audit included.
// With redis.addr set it shares the API's capability cache, so invalidations reach running servers.
func (o *rootOptions) openService(ctx context.Context) (*auth.Service, func(), error) {
	cfg, st, err := o.openStore()
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{st.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	opts := []auth.ServiceOption{
		auth.WithTokenSecret(cfg.Auth.Secret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	}
	if cfg.Redis.Addr != "" {
		client, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, client.Close)
		opts = append(opts, auth.WithCapabilityCache(cache.NewRedis(client, cache.WithTTL(cfg.Cache.TTL))))
	} else {
		obs.Logger().Debug("no redis configured, API processes keep cached capabilities until cache.ttl")
	}

	svc, err := auth.NewService(st, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	obs.Logger().Debug("connected", zap.String("issuer", cfg.Auth.Issuer))
	return svc, cleanup, nil
}
