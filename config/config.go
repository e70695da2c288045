// Package config loads datastore settings from YAML, .env files and
// DATACACHE_* environment variables, and builds the executor, logger, cache
// and table they describe.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Executor Executor `yaml:"executor"`
	Cache    Cache    `yaml:"cache"`
	Table    Table    `yaml:"table"`
	Log      Log      `yaml:"log"`
}

type Executor struct {
	Workers int `yaml:"workers"` // 0 => GOMAXPROCS
	Queue   int `yaml:"queue"`   // 0 => 1024
}

// Cache selects the item cache. Kind is one of ordered (default), ristretto
// or sturdyc.
type Cache struct {
	Kind string `yaml:"kind"`

	// sturdyc
	Capacity        int           `yaml:"capacity"`
	Shards          int           `yaml:"shards"`
	TTL             time.Duration `yaml:"ttl"`
	EvictionPercent int           `yaml:"eviction_percent"`

	// ristretto
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

// Table selects the backing table. Kind is one of memory, bolt, kv, sql,
// mongo or dynamo.
type Table struct {
	Kind       string `yaml:"kind"`
	Name       string `yaml:"name"`
	Serializer string `yaml:"serializer"`

	Path     string `yaml:"path"`     // bolt
	Driver   string `yaml:"driver"`   // sql: sqlite3 | postgres
	DSN      string `yaml:"dsn"`      // sql
	URI      string `yaml:"uri"`      // mongo
	Database string `yaml:"database"` // mongo

	// dynamo
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	KeyAttr   string `yaml:"key_attr"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	Provider Provider `yaml:"provider"` // kv
}

// Provider is the byte store under a kv table: memory, bigcache or redis.
type Provider struct {
	Kind      string        `yaml:"kind"`
	TTL       time.Duration `yaml:"ttl"`
	MaxKeyLen int           `yaml:"max_key_len"`

	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	LifeWindow   time.Duration `yaml:"life_window"`
	HardMaxMB    int           `yaml:"hard_max_mb"`
	MaxEntrySize int           `yaml:"max_entry_size"`
}

type Log struct {
	Kind  string `yaml:"kind"`  // nop (default) | logrus | zap | slog
	Level string `yaml:"level"` // debug | info (default) | warn | error
}

func Default() Config {
	return Config{
		Table: Table{Kind: "memory", Name: "records"},
		Log:   Log{Kind: "nop", Level: "info"},
	}
}

// Load reads path (skipped when empty), loads envFiles that exist without
// overriding variables already set, applies DATACACHE_* overrides and
// validates the result.
func Load(path string, envFiles ...string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return c, fmt.Errorf("config: env file %s: %w", f, err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return c, err
	}
	return c, c.Validate()
}

type override struct {
	name string
	set  func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// ApplyEnv overrides fields from DATACACHE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	overrides := []override{
		{"DATACACHE_WORKERS", integer(&c.Executor.Workers)},
		{"DATACACHE_QUEUE", integer(&c.Executor.Queue)},
		{"DATACACHE_CACHE_KIND", str(&c.Cache.Kind)},
		{"DATACACHE_CACHE_CAPACITY", integer(&c.Cache.Capacity)},
		{"DATACACHE_CACHE_TTL", duration(&c.Cache.TTL)},
		{"DATACACHE_TABLE_KIND", str(&c.Table.Kind)},
		{"DATACACHE_TABLE_NAME", str(&c.Table.Name)},
		{"DATACACHE_TABLE_SERIALIZER", str(&c.Table.Serializer)},
		{"DATACACHE_TABLE_PATH", str(&c.Table.Path)},
		{"DATACACHE_SQL_DRIVER", str(&c.Table.Driver)},
		{"DATACACHE_SQL_DSN", str(&c.Table.DSN)},
		{"DATACACHE_MONGO_URI", str(&c.Table.URI)},
		{"DATACACHE_MONGO_DATABASE", str(&c.Table.Database)},
		{"DATACACHE_DYNAMO_REGION", str(&c.Table.Region)},
		{"DATACACHE_DYNAMO_ENDPOINT", str(&c.Table.Endpoint)},
		{"DATACACHE_DYNAMO_KEY_ATTR", str(&c.Table.KeyAttr)},
		{"DATACACHE_AWS_ACCESS_KEY", str(&c.Table.AccessKey)},
		{"DATACACHE_AWS_SECRET_KEY", str(&c.Table.SecretKey)},
		{"DATACACHE_PROVIDER_KIND", str(&c.Table.Provider.Kind)},
		{"DATACACHE_REDIS_ADDR", str(&c.Table.Provider.Addr)},
		{"DATACACHE_REDIS_PASSWORD", str(&c.Table.Provider.Password)},
		{"DATACACHE_REDIS_DB", integer(&c.Table.Provider.DB)},
		{"DATACACHE_LOG_KIND", str(&c.Log.Kind)},
		{"DATACACHE_LOG_LEVEL", str(&c.Log.Level)},
	}
	for _, o := range overrides {
		v, ok := lookup(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(v); err != nil {
			return fmt.Errorf("config: %s: %w", o.name, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Executor),
		validation.Field(&c.Cache),
		validation.Field(&c.Table),
		validation.Field(&c.Log),
	)
}

func (e Executor) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Workers, validation.Min(0)),
		validation.Field(&e.Queue, validation.Min(0)),
	)
}

func (c Cache) Validate() error {
	sturdy := c.Kind == "sturdyc"
	rist := c.Kind == "ristretto"
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.In("", "ordered", "ristretto", "sturdyc")),
		validation.Field(&c.Capacity, validation.When(sturdy, validation.Required, validation.Min(1))),
		validation.Field(&c.Shards, validation.When(sturdy, validation.Required, validation.Min(1))),
		validation.Field(&c.EvictionPercent, validation.Min(0), validation.Max(100)), // zero means 10
		validation.Field(&c.MaxCost, validation.When(rist, validation.Required, validation.Min(int64(1)))),
	)
}

func (t Table) Validate() error {
	// the provider only matters for kv tables
	providerRules := []validation.Rule{validation.Skip}
	if t.Kind == "kv" {
		providerRules = nil
	}
	return validation.ValidateStruct(&t,
		validation.Field(&t.Kind, validation.Required,
			validation.In("memory", "bolt", "kv", "sql", "mongo", "dynamo")),
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Serializer, validation.In("", "msgpack", "json", "cbor", "protobuf", "proto")),
		validation.Field(&t.Path, validation.When(t.Kind == "bolt", validation.Required)),
		validation.Field(&t.Driver, validation.When(t.Kind == "sql",
			validation.Required, validation.In("sqlite3", "postgres"))),
		validation.Field(&t.DSN, validation.When(t.Kind == "sql", validation.Required)),
		validation.Field(&t.URI, validation.When(t.Kind == "mongo", validation.Required)),
		validation.Field(&t.Database, validation.When(t.Kind == "mongo", validation.Required)),
		validation.Field(&t.Region, validation.When(t.Kind == "dynamo", validation.Required)),
		validation.Field(&t.KeyAttr, validation.When(t.Kind == "dynamo", validation.Required)),
		validation.Field(&t.Provider, providerRules...),
	)
}

func (p Provider) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Kind, validation.Required, validation.In("memory", "bigcache", "redis")),
		validation.Field(&p.Addr, validation.When(p.Kind == "redis", validation.Required)),
		validation.Field(&p.MaxKeyLen, validation.Min(0)),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Kind, validation.In("", "nop", "logrus", "zap", "slog")),
		validation.Field(&l.Level, validation.In("", "debug", "info", "warn", "error")),
	)
}
