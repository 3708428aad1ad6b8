package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// DashboardConfig drives the live and history dashboard sessions.
type DashboardConfig struct {
	Port                  int               `yaml:"port"`
	UpstreamURL           string            `yaml:"upstream_url"`
	HTTPProxy             string            `yaml:"http_proxy"`
	Timezone              string            `yaml:"timezone"`
	Machines              []string          `yaml:"machines"`
	Labels                map[string]string `yaml:"labels"`
	PollIntervalSeconds   int               `yaml:"poll_interval_seconds"`
	PollInterval          time.Duration     `yaml:"-"`
	StaleAfterSeconds     int               `yaml:"stale_after_seconds"`
	StaleAfter            time.Duration     `yaml:"-"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration     `yaml:"-"`
	HistoryCacheMinutes   int               `yaml:"history_cache_minutes"`
	HistoryCacheTTL       time.Duration     `yaml:"-"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether push notifications can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the condition server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // sqlite or postgres
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MaintenanceConfig controls the daily reset and event retention.
type MaintenanceConfig struct {
	ResetHour     int `yaml:"reset_hour"`
	RetentionDays int `yaml:"retention_days"`
}

// DefaultMachines is used when no machines are configured.
var DefaultMachines = []string{"GRS_14", "GRS_17", "GRS_19"}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset value with its default.
func (cfg *Config) ApplyDefaults() {
	d := &cfg.Dashboard
	if d.Port <= 0 {
		d.Port = 8080
	}
	if d.UpstreamURL == "" {
		d.UpstreamURL = "http://localhost:5000"
	}
	if d.Timezone == "" {
		d.Timezone = "Asia/Tokyo"
	}
	if len(d.Machines) == 0 {
		d.Machines = append([]string(nil), DefaultMachines...)
	}
	if d.PollIntervalSeconds <= 0 {
		d.PollIntervalSeconds = 5
	}
	d.PollInterval = time.Duration(d.PollIntervalSeconds) * time.Second
	if d.StaleAfterSeconds <= 0 {
		d.StaleAfterSeconds = 10
	}
	d.StaleAfter = time.Duration(d.StaleAfterSeconds) * time.Second
	if d.RequestTimeoutSeconds <= 0 {
		d.RequestTimeoutSeconds = 10
	}
	d.RequestTimeout = time.Duration(d.RequestTimeoutSeconds) * time.Second
	if d.HistoryCacheMinutes <= 0 {
		d.HistoryCacheMinutes = 30
	}
	d.HistoryCacheTTL = time.Duration(d.HistoryCacheMinutes) * time.Minute

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "machine_monitoring.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Maintenance.ResetHour <= 0 || cfg.Maintenance.ResetHour > 23 {
		cfg.Maintenance.ResetHour = 6
	}
	if cfg.Maintenance.RetentionDays <= 0 {
		cfg.Maintenance.RetentionDays = 30
	}
}

// Location resolves the configured dashboard time zone, falling back to the
// local zone when it cannot be loaded.
func (d DashboardConfig) Location() *time.Location {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		log.Printf("Warning: could not load timezone %q: %v. Using local time.", d.Timezone, err)
		return time.Local
	}
	return loc
}
