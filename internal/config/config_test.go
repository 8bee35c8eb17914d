package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
logging:
  level: debug
store:
  provider: memory
  bucket: catalog-images
lock:
  backend: redis
  redisAddr: localhost:6379
  ttlSeconds: 300
source:
  canonicalHosts:
    shop.example.de: shop.example.com
run:
  concurrency: 4
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Fatalf("level not merged: %s", cfg.Logging.Level)
	}
	if cfg.Store.Provider != "memory" || cfg.Store.Bucket != "catalog-images" {
		t.Fatalf("store not merged: %+v", cfg.Store)
	}
	if cfg.Lock.Backend != "redis" || cfg.Lock.TTL().Seconds() != 300 {
		t.Fatalf("lock not merged: %+v", cfg.Lock)
	}
	if cfg.Source.CanonicalHosts["shop.example.de"] != "shop.example.com" {
		t.Fatalf("canonical hosts not merged: %+v", cfg.Source.CanonicalHosts)
	}

	// Untouched fields keep their defaults.
	if cfg.Source.MaxAttempts != 3 {
		t.Fatalf("default lost: %d", cfg.Source.MaxAttempts)
	}
	if cfg.Store.Prefix != "products" {
		t.Fatalf("default prefix lost: %s", cfg.Store.Prefix)
	}
}

func TestRenewCanBeDisabledFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
lock:
  renew: false
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Lock.RenewEnabled() {
		t.Fatal("explicit renew: false did not disable renewal")
	}

	if !defaultConfig().Lock.RenewEnabled() {
		t.Fatal("renewal must default to enabled")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://env-user@db/catalog")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg := Load()

	if cfg.Database.DSN != "postgres://env-user@db/catalog" {
		t.Fatalf("dsn override lost: %s", cfg.Database.DSN)
	}
	if cfg.Lock.RedisAddr != "redis.internal:6379" {
		t.Fatalf("redis override lost: %s", cfg.Lock.RedisAddr)
	}
}
