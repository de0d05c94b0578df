// Package kvstore provides the small string-keyed persistence used for
// credentials, the rotation cursor and the local identity label.
package kvstore

import (
	"context"
	"fmt"
)

// Keys shared by the client state
const (
	KeyEmail       = "batch_email"
	KeyCredentials = "batch_gemini_keys"
	KeyCursor      = "batch_gemini_key_index"
)

// Store is a string-keyed store that survives restarts (except Memory)
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Backend       string // memory, file, redis, sqlite
	Path          string // file backend
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the backend named in cfg
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
