// Package config loads credentials and repository coordinates from the
// environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded when Load is called without files.
const DefaultEnvFile = ".env"

// GitHub holds the GitHub coordinates.
type GitHub struct {
	Token        string `env:"TOKEN"`
	Organization string `env:"ORGANIZATION"`
	Repo         string `env:"REPO"`
}

// Bitbucket holds the Bitbucket Cloud coordinates.
type Bitbucket struct {
	Workspace   string `env:"WORKSPACE"`
	Repo        string `env:"REPO"`
	Username    string `env:"USERNAME"`
	AppPassword string `env:"APP_PASSWORD"`
}

// Sentry identifies the organization and environment whose deploys count as
// production deployments.
type Sentry struct {
	Organization string `env:"ORGANIZATION_SLUG"`
	Environment  string `env:"PRODUCTION_ENVIRONMENT_SLUG"`
	Token        string `env:"AUTH_TOKEN"`
}

// Cache selects where enriched pull requests are kept.
type Cache struct {
	Backend string `env:"CACHE_BACKEND" env-default:"memory"`
	Project string `env:"DATASTORE_PROJECT"`
}

// Config is the complete environment configuration.
type Config struct {
	GitHub    GitHub    `env-prefix:"GITHUB_"`
	Bitbucket Bitbucket `env-prefix:"BITBUCKET_"`
	Sentry    Sentry    `env-prefix:"SENTRY_"`
	Cache     Cache
	// TimeZone names the zone of the working hours calendar; empty means local time.
	TimeZone string `env:"WORKING_HOURS_TZ"`
}

// Load reads the env files (DefaultEnvFile when none are given) and then the
// environment. Missing files are skipped; variables already set in the
// environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("Env file not found, using environment variables", "file", file)
				continue
			}
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &cfg, nil
}

// Location returns the working hours time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("WORKING_HOURS_TZ: %w", err)
	}
	return loc, nil
}
