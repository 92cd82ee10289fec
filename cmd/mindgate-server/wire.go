package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/credstore"
	"github.com/MrEthical07/mindgate/internal/config"
	"github.com/MrEthical07/mindgate/internal/database"
)

// openRedis dials cfg.Addr, or starts miniredis when cfg.Dev is set.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if cfg.Dev {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		logger.Warn("using in-process redis; sessions are lost on restart", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, cleanup, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildEngine(cfg *config.Config, rdb redis.UniversalClient, db *database.DB, logger *slog.Logger) (*mindgate.Engine, error) {
	ec := mindgate.DefaultConfig()
	ec.JWT.AccessTTL = cfg.Auth.AccessTTL
	ec.Session.Lifetime = cfg.Auth.SessionLifetime
	ec.Verification.RequireForSignIn = cfg.Auth.RequireVerified
	ec.Audit.Enabled = cfg.Auth.AuditEnabled
	ec.Metrics.EnableLatencyHistograms = cfg.Auth.LatencyHistogram

	if cfg.Auth.JWTSecret != "" {
		ec.JWT.SigningMethod = "hs256"
		ec.JWT.PrivateKey = []byte(cfg.Auth.JWTSecret)
	} else {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		ec.JWT.SigningMethod = "ed25519"
		ec.JWT.PrivateKey = priv
		ec.JWT.PublicKey = pub
		logger.Warn("auth.jwt_secret not set; using an ephemeral signing key")
	}

	engine, err := mindgate.New().
		WithConfig(ec).
		WithRedis(rdb).
		WithUserProvider(database.NewUsers(db)).
		WithAuditSink(mindgate.NewSlogSink(logger)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, nil
}

// probeCredentials picks the durable, scoped or in-memory credential
// backend, in that order of preference.
func probeCredentials(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, logger *slog.Logger) *credstore.Adapter {
	var candidates []credstore.Backend
	if !cfg.Credentials.DisableDurable {
		candidates = append(candidates, credstore.NewRedisBackend(rdb, cfg.Credentials.RedisPrefix))
	}
	if dir := strings.TrimSpace(cfg.Credentials.ScopedDir); dir != "" {
		scoped, err := credstore.NewScopedBackend(ctx, dir)
		if err != nil {
			logger.Warn("scoped credential backend unavailable", "error", err)
		} else {
			candidates = append(candidates, scoped)
		}
	}
	return credstore.Probe(ctx, logger, candidates...)
}
