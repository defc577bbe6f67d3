package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	for _, key := range []string{"POOL_SIZE", "POOL_LEASES_PER_INSTANCE", "POOL_ACQUIRE_TIMEOUT", "DISPATCH_CONCURRENCY", "DISPATCH_MAX_ATTEMPTS", "DEDUP_WINDOW_MINUTES", "STORAGE_DRIVER", "MARKUP_PROVIDER", "RENDER_ENV", "RENDER_TIMEOUT", "STALE_PROCESSING_AFTER"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PoolSize != 2 || cfg.PoolLeasesPerInst != 4 {
		t.Fatalf("pool defaults mismatch: size=%d leases=%d", cfg.PoolSize, cfg.PoolLeasesPerInst)
	}
	if cfg.PoolAcquireTimeout != 30*time.Second || cfg.PoolPollInterval != 100*time.Millisecond {
		t.Fatalf("pool wait defaults mismatch: %s / %s", cfg.PoolAcquireTimeout, cfg.PoolPollInterval)
	}
	if cfg.DispatchConcurrency != 3 || cfg.DispatchMaxAttempts != 3 {
		t.Fatalf("dispatch defaults mismatch: %+v", cfg)
	}
	if cfg.StaleAfter != 15*time.Minute {
		t.Fatalf("StaleAfter = %s, want 15m", cfg.StaleAfter)
	}
	if cfg.DedupWindow != 5*time.Minute {
		t.Fatalf("DedupWindow = %s, want 5m", cfg.DedupWindow)
	}
	if cfg.StorageDriver != "filesystem" || cfg.MarkupProvider != "static" || cfg.RenderEnv != "local" {
		t.Fatalf("driver defaults mismatch: %q %q %q", cfg.StorageDriver, cfg.MarkupProvider, cfg.RenderEnv)
	}
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("POOL_SIZE", "1")
	t.Setenv("POOL_LEASES_PER_INSTANCE", "1")
	t.Setenv("POOL_ACQUIRE_TIMEOUT", "1500")
	t.Setenv("PAGE_IDLE_TIMEOUT", "45s")
	t.Setenv("DEDUP_WINDOW_MINUTES", "10")
	t.Setenv("STORAGE_DRIVER", "MinIO")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PoolSize != 1 || cfg.PoolLeasesPerInst != 1 {
		t.Fatalf("pool overrides ignored: %d/%d", cfg.PoolSize, cfg.PoolLeasesPerInst)
	}
	if cfg.PoolAcquireTimeout != 1500*time.Millisecond {
		t.Fatalf("bare integer duration not treated as ms: %s", cfg.PoolAcquireTimeout)
	}
	if cfg.PageIdleTimeout != 45*time.Second {
		t.Fatalf("PageIdleTimeout = %s", cfg.PageIdleTimeout)
	}
	if cfg.DedupWindow != 10*time.Minute {
		t.Fatalf("DedupWindow = %s", cfg.DedupWindow)
	}
	if cfg.StorageDriver != "minio" || !cfg.MinioUseSSL {
		t.Fatalf("minio settings mismatch: %q ssl=%t", cfg.StorageDriver, cfg.MinioUseSSL)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero_pool", key: "POOL_SIZE", val: "0"},
		{name: "zero_cap", key: "POOL_LEASES_PER_INSTANCE", val: "0"},
		{name: "zero_attempts", key: "DISPATCH_MAX_ATTEMPTS", val: "0"},
		{name: "unknown_storage", key: "STORAGE_DRIVER", val: "ftp"},
		{name: "minio_without_endpoint", key: "STORAGE_DRIVER", val: "minio"},
		{name: "unknown_markup", key: "MARKUP_PROVIDER", val: "gemini"},
		{name: "stale_cutoff_below_render_budget", key: "STALE_PROCESSING_AFTER", val: "45s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://example")
			t.Setenv("MINIO_ENDPOINT", "")
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.val)
			}
		})
	}
}
