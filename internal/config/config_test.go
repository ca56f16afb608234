package config

import (
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	def := cache.DefaultConfig()
	if cfg.Cache.GCTime != def.GCTime {
		t.Errorf("expected GCTime %v, got %v", def.GCTime, cfg.Cache.GCTime)
	}
	if cfg.Cache.Retry.MaxRetries != def.Retry.MaxRetries {
		t.Errorf("expected MaxRetries %d, got %d", def.Retry.MaxRetries, cfg.Cache.Retry.MaxRetries)
	}
	if cfg.Shared.Enabled {
		t.Error("expected shared memo to be disabled by default")
	}
	if cfg.Shared.Memo.Capacity != 10000 {
		t.Errorf("expected memo capacity 10000, got %d", cfg.Shared.Memo.Capacity)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := testsupport.WriteTempFile(t, "querycache.yaml", []byte(`
cache:
  stale_time: 30s
  gc_time: 10m
  refetch_on_mount: always
  retry:
    max_retries: 5
    base_delay: 200ms
shared:
  enabled: true
  memo:
    capacity: 500
    ttl: 1m
log:
  level: debug
  format: console
`))

	t.Setenv(PathEnvVar, "")
	t.Setenv("QUERYCACHE_CACHE__GC_TIME", "1h")
	t.Setenv("QUERYCACHE_SHARED__MEMO__NUM_SHARDS", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"stale time from file", cfg.Cache.StaleTime, 30 * time.Second},
		{"gc time from env", cfg.Cache.GCTime, time.Hour},
		{"mount policy", cfg.Cache.RefetchOnMount, cache.MountAlways},
		{"max retries", cfg.Cache.Retry.MaxRetries, 5},
		{"base delay", cfg.Cache.Retry.BaseDelay, 200 * time.Millisecond},
		{"max delay default", cfg.Cache.Retry.MaxDelay, cache.DefaultRetryConfig().MaxDelay},
		{"shared enabled", cfg.Shared.Enabled, true},
		{"memo capacity", cfg.Shared.Memo.Capacity, 500},
		{"memo ttl", cfg.Shared.Memo.TTL, time.Minute},
		{"memo shards from env", cfg.Shared.Memo.NumShards, 8},
		{"log level", cfg.Log.Level, "debug"},
		{"log format", cfg.Log.Format, "console"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := testsupport.WriteTempFile(t, "querycache.yaml", []byte("cache:\n  stale_time: 2m\n"))
	t.Setenv(PathEnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Cache.StaleTime != 2*time.Minute {
		t.Errorf("expected stale time 2m, got %v", cfg.Cache.StaleTime)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(PathEnvVar, "")

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid jitter", "cache:\n  retry:\n    jitter: 2\n", "validation"},
		{"invalid log format", "log:\n  format: xml\n", "validation"},
		{"invalid memo when enabled", "shared:\n  enabled: true\n  memo:\n    eviction_percentage: 200\n", "memo"},
		{"unknown mount policy", "cache:\n  refetch_on_mount: sometimes\n", "unmarshal"},
		{"malformed yaml", "cache: [\n", "config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testsupport.WriteTempFile(t, "querycache.yaml", []byte(tt.content))
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got %q", tt.want, err.Error())
			}
		})
	}

	if _, err := Load("/nonexistent/querycache.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSharedConfig_ValidateOnlyWhenEnabled(t *testing.T) {
	s := SharedConfig{}
	if err := s.Validate(); err != nil {
		t.Errorf("expected disabled memo to skip validation, got %v", err)
	}
	s.Enabled = true
	if err := s.Validate(); err == nil {
		t.Error("expected zero memo config to fail when enabled")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"QUERYCACHE_CACHE__STALE_TIME", "cache.stale_time"},
		{"QUERYCACHE_CACHE__RETRY__MAX_RETRIES", "cache.retry.max_retries"},
		{"QUERYCACHE_LOG__LEVEL", "log.level"},
		{PathEnvVar, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransformFunc(tt.in); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
