package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	chatsync "github.com/tarzan-1984/odyssea-chat-go"
)

// getClient creates a backend client from the stored configuration.
func getClient() (*chatsync.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.APIToken == "" {
		fmt.Fprintln(os.Stderr, "No API token. Run 'odyssea-chat init <api-token>' first.")
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'odyssea-chat config set default.base_url <url>' first.")
		os.Exit(1)
	}

	return chatsync.NewClient(cfg.Default.BaseURL, chatsync.WithToken(cfg.Default.APIToken)), cfg
}

// newCache builds the cache backend selected by [cache].backend. An empty
// or "memory" backend needs no external state.
func newCache(ctx context.Context, cfg *Config) (chatsync.CacheStore, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		return chatsync.NewMemoryCache(), nil
	case "sqlite":
		path := cfg.Cache.Path
		if path == "" {
			dir, err := configDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "cache.db")
		}
		return chatsync.NewSQLiteCache(path)
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return nil, fmt.Errorf("cache.redis_url is required for the redis backend")
		}
		return chatsync.NewRedisCache(ctx, cfg.Cache.RedisURL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q (valid: memory, sqlite, redis)", cfg.Cache.Backend)
	}
}

// newEngine wires client, store, cache and coordinator together.
func newEngine(ctx context.Context) (*chatsync.Coordinator, *chatsync.Store, *Config) {
	client, cfg := getClient()

	cache, err := newCache(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		os.Exit(1)
	}

	store := chatsync.NewStore(cache, nil)
	coord := chatsync.NewCoordinator(client, store, cache,
		chatsync.WithSession(cfg.Default.UserID, func() bool { return cfg.Default.APIToken != "" }),
	)
	return coord, store, cfg
}

// cmdContext returns a context with the standard request timeout.
func cmdContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
