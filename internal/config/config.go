package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
)

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

type PostgresConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DB           string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type Config struct {
	Addr     string
	Postgres PostgresConfig
	Redis    RedisConfig

	Categories domain.Categories
	// MaxTablesCreated bounds how many shortfall tables one repair run may create. 0 means no bound.
	MaxTablesCreated int
	ReconcileWorkers int
	// ReconcileCron schedules the bulk sweep inside the server. Empty disables it.
	ReconcileCron string
	LockBackend   string
	RepairLockTTL time.Duration

	// Args holds the positional arguments left after flag parsing.
	Args []string
}

// Load reads the configuration from the environment. Flags in args override
// the database connection settings.
func Load(name string, args []string) (Config, error) {
	cfg := Config{
		Addr: Env("ADDR", "0.0.0.0:8080"),
		Postgres: PostgresConfig{
			SSLMode:      Env("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns: EnvInt("PG_MAX_OPEN_CONNS", 50),
			MaxIdleConns: EnvInt("PG_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Host:     Env("REDIS_HOST", "localhost"),
			Port:     Env("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       EnvInt("REDIS_DB", 0),
		},
		ReconcileWorkers: EnvInt("RECONCILE_WORKERS", 4),
		ReconcileCron:    os.Getenv("RECONCILE_CRON"),
		LockBackend:      Env("REPAIR_LOCK_BACKEND", LockBackendPostgres),
		RepairLockTTL:    10 * time.Minute,
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Postgres.Host, "db-host", os.Getenv("POSTGRES_HOST"), "Database host")
	fs.StringVar(&cfg.Postgres.Port, "db-port", Env("POSTGRES_PORT", "5432"), "Database port")
	fs.StringVar(&cfg.Postgres.User, "db-user", os.Getenv("POSTGRES_USER"), "Database user")
	fs.StringVar(&cfg.Postgres.Password, "db-pass", os.Getenv("POSTGRES_PASSWORD"), "Database password")
	fs.StringVar(&cfg.Postgres.DB, "db-name", os.Getenv("POSTGRES_DB"), "Database name")
	fs.IntVar(&cfg.MaxTablesCreated, "max-creates", EnvInt("MESA_REPAIR_MAX_CREATES", 0), "Max tables a repair run may create (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Args = fs.Args()

	if cfg.Postgres.Host == "" {
		return Config{}, errors.New("database host required (use -db-host or POSTGRES_HOST env)")
	}
	if cfg.MaxTablesCreated < 0 {
		return Config{}, errors.New("max tables created must not be negative")
	}

	cfg.Categories = domain.DefaultCategories
	if raw := os.Getenv("VOTE_CATEGORIES"); raw != "" {
		categories, err := domain.ParseCategories(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VOTE_CATEGORIES: %w", err)
		}
		cfg.Categories = categories
	}

	if v := os.Getenv("REPAIR_LOCK_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REPAIR_LOCK_TTL: %w", err)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("REPAIR_LOCK_TTL must be positive, got %s", ttl)
		}
		cfg.RepairLockTTL = ttl
	}

	switch cfg.LockBackend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return Config{}, fmt.Errorf("unknown REPAIR_LOCK_BACKEND %q", cfg.LockBackend)
	}

	return cfg, nil
}

func Env(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
