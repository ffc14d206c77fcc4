package state

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// Backend names accepted by NewThreadStore.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StoreOptions selects and configures a thread store backend.
type StoreOptions struct {
	Backend string
	// Path is the database file for sqlite and the directory for file.
	Path     string
	MaxTurns int
	TTL      time.Duration
	Redis    RedisOptions
}

// NewThreadStore creates the configured backend.
func NewThreadStore(ctx context.Context, opts StoreOptions) (core.ThreadStore, error) {
	storeOpts := []Option{WithMaxTurns(opts.MaxTurns), WithTTL(opts.TTL)}

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemoryStore(storeOpts...), nil
	case BackendFile:
		return NewJSONThreadStore(opts.Path, storeOpts...)
	case "", BackendSQLite:
		path := opts.Path
		// Ensure path has .db extension for SQLite
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteThreadStore(path, storeOpts...)
	case BackendRedis:
		return NewRedisThreadStore(ctx, opts.Redis, storeOpts...)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown thread backend %q", opts.Backend))
	}
}

// Purger is implemented by stores that can drop expired threads in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// PurgeExpired drops expired threads when the store supports it.
func PurgeExpired(ctx context.Context, store core.ThreadStore) (int, error) {
	if p, ok := store.(Purger); ok {
		return p.PurgeExpired(ctx)
	}
	return 0, nil
}
