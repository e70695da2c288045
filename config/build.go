package config

import (
	"context"
	"fmt"
	stdslog "log/slog"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/datacache"
	"github.com/unkn0wn-root/datacache/cache"
	"github.com/unkn0wn-root/datacache/cache/ristretto"
	"github.com/unkn0wn-root/datacache/cache/sturdyc"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/executor"
	logruslog "github.com/unkn0wn-root/datacache/log/logrus"
	slogl "github.com/unkn0wn-root/datacache/log/slog"
	zaplog "github.com/unkn0wn-root/datacache/log/zap"
	"github.com/unkn0wn-root/datacache/provider"
	"github.com/unkn0wn-root/datacache/provider/bigcache"
	"github.com/unkn0wn-root/datacache/provider/memory"
	"github.com/unkn0wn-root/datacache/provider/redis"
	"github.com/unkn0wn-root/datacache/table"
	"github.com/unkn0wn-root/datacache/table/bolt"
	"github.com/unkn0wn-root/datacache/table/dynamo"
	"github.com/unkn0wn-root/datacache/table/kv"
	memtable "github.com/unkn0wn-root/datacache/table/memory"
	"github.com/unkn0wn-root/datacache/table/mongo"
	sqltable "github.com/unkn0wn-root/datacache/table/sql"
)

func BuildPool(c Executor, log datacache.Logger) *executor.Pool {
	return executor.New(executor.Options{
		Workers: c.Workers,
		Queue:   c.Queue,
		OnPanic: func(v any) { log.Error("task panicked", datacache.Fields{"panic": v}) },
	})
}

func BuildLogger(c Log) (datacache.Logger, error) {
	switch c.Kind {
	case "", "nop":
		return datacache.NopLogger{}, nil
	case "logrus":
		l := logrus.New()
		lvl, err := logrus.ParseLevel(coalesce(c.Level, "info"))
		if err != nil {
			return nil, err
		}
		l.SetLevel(lvl)
		return logruslog.New(l), nil
	case "zap":
		lvl, err := zapcore.ParseLevel(coalesce(c.Level, "info"))
		if err != nil {
			return nil, err
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		l, err := zc.Build()
		if err != nil {
			return nil, err
		}
		return zaplog.Logger{L: l.Named("datacache")}, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(coalesce(c.Level, "info"))); err != nil {
			return nil, err
		}
		h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return slogl.Logger{L: stdslog.New(h)}, nil
	}
	return nil, fmt.Errorf("config: unknown log kind %q", c.Kind)
}

// BuildManager builds the logger and executor shared by every datastore
// opened through the returned manager.
func BuildManager(c Config) (*datacache.Manager, error) {
	log, err := BuildLogger(c.Log)
	if err != nil {
		return nil, err
	}
	return datacache.NewManager(datacache.ManagerOptions{
		Pool:   BuildPool(c.Executor, log),
		Logger: log,
	}), nil
}

// BuildCache returns the item cache selected by c. Bounded caches drop items
// under pressure; a dropped item is re-created on the next reference.
func BuildCache[K comparable, V comparable](c Cache) (cache.Cache[K, V], error) {
	switch c.Kind {
	case "", "ordered":
		return cache.NewOrdered[K, V](), nil
	case "ristretto":
		rc, err := ristretto.New[K, V](ristretto.Config[K, V]{
			NumCounters: coalesce(c.NumCounters, c.MaxCost*10),
			MaxCost:     c.MaxCost,
			BufferItems: coalesce(c.BufferItems, int64(64)),
		})
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "sturdyc":
		sc, err := sturdyc.New[K, V](sturdyc.Config{
			Capacity:           c.Capacity,
			NumShards:          c.Shards,
			TTL:                c.TTL,
			EvictionPercentage: coalesce(c.EvictionPercent, 10),
		})
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
	return nil, fmt.Errorf("config: unknown cache kind %q", c.Kind)
}

func BuildProvider(c Provider) (provider.Provider, error) {
	switch c.Kind {
	case "memory":
		return memory.New(), nil
	case "bigcache":
		p, err := bigcache.New(bigcache.Config{
			LifeWindow:         c.LifeWindow,
			MaxEntrySize:       c.MaxEntrySize,
			HardMaxCacheSizeMB: c.HardMaxMB,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "redis":
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    strings.Split(c.Addr, ","),
			Password: c.Password,
			DB:       c.DB,
		})
		p, err := redis.New(redis.Config{Client: client, CloseClient: true})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("config: unknown provider kind %q", c.Kind)
}

// OpenTable opens the table described by c. The caller owns the result.
func OpenTable(ctx context.Context, c Table) (table.DataTable, error) {
	ser, err := doc.SerializerByName(c.Serializer)
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case "memory":
		return memtable.New(c.Name), nil
	case "bolt":
		t, err := bolt.Open(c.Path, c.Name, bolt.Options{Serializer: ser})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "kv":
		p, err := BuildProvider(c.Provider)
		if err != nil {
			return nil, err
		}
		t, err := kv.New(c.Name, kv.Options{
			Provider:      p,
			Serializer:    ser,
			TTL:           c.Provider.TTL,
			MaxKeyLen:     c.Provider.MaxKeyLen,
			CloseProvider: true,
		})
		if err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
		return t, nil
	case "sql":
		if c.Serializer == "" {
			ser = nil
		}
		t, err := sqltable.Open(ctx, c.Driver, c.DSN, c.Name, sqltable.Options{Serializer: ser})
		if err != nil {
			return nil, err
		}
		return t, nil
	case "mongo":
		t, err := mongo.Connect(ctx, c.URI, c.Database, c.Name)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "dynamo":
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		t, err := dynamo.New(client, c.Name, c.KeyAttr)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("config: unknown table kind %q", c.Kind)
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
