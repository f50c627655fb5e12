// Package cache backs auth.CapabilityCache with Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"covera.io/internal/auth"
)

const (
	defaultPrefix = "covera:caps:"
	defaultTTL    = 5 * time.Minute
)

// Redis stores resolved role and permission sets as JSON under one key per identity.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ auth.CapabilityCache = (*Redis)(nil)

// Option configures the Redis cache.
type Option func(*Redis)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithPrefix namespaces keys.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis wraps client.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

type entry struct {
	Roles       map[auth.Scope][]string `json:"roles"`
	Permissions map[auth.Scope][]string `json:"permissions"`
}

func (r *Redis) Get(ctx context.Context, userID string) (auth.Capabilities, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.Capabilities{}, false, nil
	}
	if err != nil {
		return auth.Capabilities{}, false, fmt.Errorf("read capabilities: %w", err)
	}
	caps, err := decode(raw)
	if err != nil {
		return auth.Capabilities{}, false, err
	}
	return caps, true, nil
}

func (r *Redis) Set(ctx context.Context, userID string, caps auth.Capabilities) error {
	raw, err := encode(caps)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("write capabilities: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate capabilities: %w", err)
	}
	return nil
}

func (r *Redis) key(userID string) string {
	return r.prefix + userID
}

// encode drops module codes; those are always read live from grants.
func encode(caps auth.Capabilities) ([]byte, error) {
	raw, err := json.Marshal(entry{Roles: caps.RolesByScope, Permissions: caps.PermissionsByScope})
	if err != nil {
		return nil, fmt.Errorf("encode capabilities: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (auth.Capabilities, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return auth.Capabilities{}, fmt.Errorf("decode capabilities: %w", err)
	}
	return auth.Capabilities{RolesByScope: e.Roles, PermissionsByScope: e.Permissions}, nil
}
