package prefs

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string // file, sqlite, badger
	Device  string // mongo document scope, redis key prefix

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string
}

// Open builds the Store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return OpenFile(opts.Path)
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendBadger:
		return OpenBadger(opts.Path)
	case BackendRedis:
		prefix := "webapp:"
		if opts.Device != "" {
			prefix = "webapp:" + opts.Device + ":"
		}
		return NewRedis(ctx, RedisConfig{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: prefix,
		})
	case BackendMongo:
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.Device)
	default:
		return nil, fmt.Errorf("prefs: unknown storage backend %q (supported: memory, file, sqlite, badger, redis, mongo)", opts.Backend)
	}
}
