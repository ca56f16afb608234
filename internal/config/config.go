// Package config loads client configuration from defaults, an optional YAML
// file and QUERYCACHE_ environment variables, in increasing priority.
//
// Nested keys are separated by a double underscore in environment variables:
//
//	QUERYCACHE_CACHE__STALE_TIME=30s        -> cache.stale_time
//	QUERYCACHE_CACHE__RETRY__MAX_RETRIES=5  -> cache.retry.max_retries
//	QUERYCACHE_SHARED__ENABLED=true         -> shared.enabled
package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/fetchers"
	zlog "github.com/goliatone/go-query-cache/log/zerolog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks the environment variables read by Load.
	EnvPrefix = "QUERYCACHE_"

	// PathEnvVar names a config file used when Load gets an empty path.
	PathEnvVar = EnvPrefix + "CONFIG"
)

// Config is the file layout understood by Load.
type Config struct {
	Cache  cache.Config `koanf:"cache"`
	Shared SharedConfig `koanf:"shared"`
	Log    zlog.Config  `koanf:"log"`
}

// SharedConfig toggles the response memo shared between clients.
type SharedConfig struct {
	Enabled bool                  `koanf:"enabled"`
	Memo    fetchers.SharedConfig `koanf:"memo"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Cache:  cache.DefaultConfig(),
		Shared: SharedConfig{Memo: fetchers.DefaultSharedConfig()},
		Log:    zlog.Config{Level: "info", Format: "json"},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Cache),
		validation.Field(&c.Shared),
		validation.Field(&c.Log, validation.By(validateLog)),
	)
}

func validateLog(value interface{}) error {
	l, _ := value.(zlog.Config)
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

// Validate implements validation.Validatable. The memo is only checked when
// enabled.
func (s SharedConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	return errors.Wrap(s.Memo.Validate(), "memo")
}

// Load layers defaults, the YAML file at path and the environment. An empty
// path falls back to $QUERYCACHE_CONFIG; no file is read when both are empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	cfg.Cache = cfg.Cache.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// envTransformFunc maps QUERYCACHE_CACHE__STALE_TIME to cache.stale_time.
// The config path variable itself is skipped.
func envTransformFunc(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
