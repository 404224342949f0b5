// Package config reads the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // timezone names resolve without system zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/kass/go-facility-map/pkg/facility"
	"github.com/kass/go-facility-map/pkg/locator"
	"github.com/kass/go-facility-map/pkg/models"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "FACILITY_MAP_CONFIG"

// DefaultPath is read when neither the flag nor EnvPath is set.
const DefaultPath = "config.yaml"

// Config structure for YAML configuration
type Config struct {
	Data struct {
		Dir     string   `yaml:"dir"`
		Regions []string `yaml:"regions"`
	} `yaml:"data"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Search struct {
		DefaultRadiusKm float64         `yaml:"default_radius_km"`
		Center          models.Location `yaml:"center"`
	} `yaml:"search"`
	Timezone string `yaml:"timezone"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	PostGIS struct {
		Host              string `yaml:"host"`
		Port              int    `yaml:"port"`
		User              string `yaml:"user"`
		Password          string `yaml:"password"`
		Database          string `yaml:"database"`
		MaxConnections    int    `yaml:"max_connections"`
		ConnectionTimeout int    `yaml:"connection_timeout"`
	} `yaml:"postgis"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.Data.Dir = "data"
	c.Data.Regions = append([]string(nil), facility.DefaultRegions...)
	c.Store.Path = "facilities.db"
	c.Search.DefaultRadiusKm = locator.DefaultRadiusKm
	c.Search.Center = models.Location{Lat: 36.5, Lon: 140.5}
	c.Timezone = "Local"
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.PostGIS.Host = "localhost"
	c.PostGIS.Port = 5432
	c.PostGIS.User = "postgres"
	c.PostGIS.Database = "facilities"
	c.PostGIS.MaxConnections = 25
	c.PostGIS.ConnectionTimeout = 5
	return c
}

// ResolvePath picks the config path: the flag value, then EnvPath, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks values the defaults cannot repair.
func (c *Config) Validate() error {
	if c.Search.DefaultRadiusKm < 0 {
		return fmt.Errorf("search.default_radius_km must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Location resolves the timezone setting.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// PostGISDSN builds the lib/pq connection string.
func (c *Config) PostGISDSN() string {
	p := c.PostGIS
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable connect_timeout=%d",
		p.Host, p.Port, p.User, p.Database, p.ConnectionTimeout)
	if p.Password != "" {
		dsn += " password=" + p.Password
	}
	return dsn
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
