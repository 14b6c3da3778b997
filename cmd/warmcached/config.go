package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/warmcache"
	"github.com/dmitrymomot/warmcache/pkg/db"
	"github.com/dmitrymomot/warmcache/pkg/logger"
	"github.com/dmitrymomot/warmcache/pkg/persist"
	"github.com/dmitrymomot/warmcache/pkg/redis"
)

// Persistent tier names accepted in Config.Tier.
const (
	tierMemory   = "memory"
	tierRedis    = "redis"
	tierPostgres = "postgres"
	tierS3       = "s3"
)

var errInvalidConfig = errors.New("warmcached: invalid config")

type originConfig struct {
	URL     string        `env:"ORIGIN_URL" yaml:"url"`
	Timeout time.Duration `env:"ORIGIN_TIMEOUT" envDefault:"10s" yaml:"timeout"`
}

type hintsConfig struct {
	Enabled  bool     `env:"HINTS_ENABLED" yaml:"enabled"`
	Schedule string   `env:"HINTS_SCHEDULE" envDefault:"*/5 * * * *" yaml:"schedule"`
	Targets  []string `env:"HINTS_TARGETS" envSeparator:"," yaml:"targets"`
}

type config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080" yaml:"addr"`
	Tier            string        `env:"CACHE_TIER" envDefault:"memory" yaml:"tier"`
	IdleSchedule    string        `env:"IDLE_SCHEDULE" yaml:"idle_schedule"`
	IdleTargets     []string      `env:"IDLE_TARGETS" envSeparator:"," yaml:"idle_targets"`
	MetricsInterval time.Duration `env:"METRICS_LOG_INTERVAL" yaml:"metrics_log_interval"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`

	Origin originConfig     `yaml:"origin"`
	Cache  warmcache.Config `yaml:"cache"`
	Log    logger.Config    `yaml:"log"`
	Redis  redis.Config     `yaml:"redis"`
	DB     db.Config        `yaml:"db"`
	S3     persist.S3Config `yaml:"s3"`
	Hints  hintsConfig      `yaml:"hints"`
}

// loadConfig reads defaults and environment variables, then applies the
// YAML file at path on top when path is not empty.
func loadConfig(path string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(errInvalidConfig, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("warmcached: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Join(errInvalidConfig, err)
		}
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.Origin.URL == "" {
		errs = append(errs, errors.New("origin url is required"))
	}
	switch c.Tier {
	case tierMemory, tierRedis, tierPostgres, tierS3:
	default:
		errs = append(errs, fmt.Errorf("unknown cache tier %q", c.Tier))
	}
	if c.Hints.Enabled && c.DB.ConnectionString == "" {
		errs = append(errs, errors.New("hints require a database connection"))
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{errInvalidConfig}, errs...)...)
	}
	return nil
}
