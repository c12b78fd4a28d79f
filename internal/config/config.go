package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	defaultConfigPath = "configs/config.yaml"
)

type Config struct {
	App struct {
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	HTTP struct {
		Port             int      `yaml:"port"`
		PublicTimeslots  bool     `yaml:"public_timeslots"`
		CORSOrigins      []string `yaml:"cors_origins"`
		LoginRatePerMin  int      `yaml:"login_rate_per_minute"`
		AdminRatePerMin  int      `yaml:"admin_rate_per_minute"`
		TrustProxy       bool     `yaml:"trust_proxy_headers"`
		ShutdownSeconds  int      `yaml:"shutdown_seconds"`
		ReadTimeoutSecs  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSecs int      `yaml:"write_timeout_seconds"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Retention struct {
		KeepDays int `yaml:"keep_days"`
	} `yaml:"retention"`

	Redis struct {
		Address           string `yaml:"address"`
		Password          string `yaml:"password"`
		DB                int    `yaml:"db"`
		DayViewTTLSeconds int    `yaml:"day_view_ttl_seconds"`
	} `yaml:"redis"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		TTLHours   int    `yaml:"ttl_hours"`
	} `yaml:"session"`

	Allowlist struct {
		Path               string `yaml:"path"`
		DefaultEntry       string `yaml:"default_entry"`
		ReloadIntervalSecs int    `yaml:"reload_interval_seconds"`
	} `yaml:"allowlist"`

	Admin struct {
		Password string `yaml:"password"`
	} `yaml:"admin"`

	Booking struct {
		MaxPerDay       int      `yaml:"max_per_day"`
		RejectPastDates bool     `yaml:"reject_past_dates"`
		Order           string   `yaml:"order"`
		DateLayout      string   `yaml:"date_layout"`
		BookedBy        string   `yaml:"booked_by"`
		StartTime       string   `yaml:"start_time"`
		SlotCount       int      `yaml:"slot_count"`
		SlotMinutes     int      `yaml:"slot_minutes"`
		Machines        []string `yaml:"machines"`
		TimeZone        string   `yaml:"time_zone"`
	} `yaml:"booking"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// Load reads the YAML config at path (optional), then applies environment
// overrides and defaults. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv("WASHBOOK_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg := &Config{}
	cfg.Booking.RejectPastDates = true

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// config file is optional; env and defaults apply
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err = cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.App.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ALLOWLIST_PATH"); v != "" {
		c.Allowlist.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TRUST_PROXY_HEADERS"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_PROXY_HEADERS: invalid boolean %q", v)
		}
		c.HTTP.TrustProxy = trust
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"PORT", &c.HTTP.Port},
		{"MAX_RESERVATIONS_PER_DAY", &c.Booking.MaxPerDay},
		{"METRICS_PORT", &c.Monitoring.PrometheusPort},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", i.env, v)
		}
		*i.dst = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = EnvDevelopment
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5000
	}
	if c.HTTP.LoginRatePerMin == 0 {
		c.HTTP.LoginRatePerMin = 20
	}
	if c.HTTP.AdminRatePerMin == 0 {
		c.HTTP.AdminRatePerMin = 60
	}
	if c.HTTP.ShutdownSeconds <= 0 {
		c.HTTP.ShutdownSeconds = 5
	}
	if c.HTTP.ReadTimeoutSecs <= 0 {
		c.HTTP.ReadTimeoutSecs = 10
	}
	if c.HTTP.WriteTimeoutSecs <= 0 {
		c.HTTP.WriteTimeoutSecs = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/washbook.db"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "washbook_session"
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24 * 7
	}
	if c.Allowlist.Path == "" {
		c.Allowlist.Path = "allowed_emails.txt"
	}
	if c.Allowlist.DefaultEntry == "" {
		c.Allowlist.DefaultEntry = "admin@example.com"
	}
	if c.Allowlist.ReloadIntervalSecs == 0 {
		c.Allowlist.ReloadIntervalSecs = 30
	}
	if c.Booking.MaxPerDay == 0 {
		c.Booking.MaxPerDay = 2
	}
	if c.Booking.Order == "" {
		c.Booking.Order = "asc"
	}
	if c.Booking.DateLayout == "" {
		c.Booking.DateLayout = "2006-01-02"
	}
	if c.Booking.BookedBy == "" {
		c.Booking.BookedBy = "room"
	}
	if c.Booking.StartTime == "" {
		c.Booking.StartTime = "08:00"
	}
	if c.Booking.SlotCount == 0 {
		c.Booking.SlotCount = 15
	}
	if c.Booking.SlotMinutes == 0 {
		c.Booking.SlotMinutes = 60
	}
	if len(c.Booking.Machines) == 0 {
		c.Booking.Machines = []string{"M1", "M2", "M3", "M4"}
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Booking.MaxPerDay < 1 {
		return fmt.Errorf("booking.max_per_day must be positive, got %d", c.Booking.MaxPerDay)
	}
	switch strings.ToLower(c.Booking.Order) {
	case "asc", "desc":
	default:
		return fmt.Errorf("booking.order must be asc or desc, got %q", c.Booking.Order)
	}
	switch c.Booking.BookedBy {
	case "room", "local_part":
	default:
		return fmt.Errorf("booking.booked_by must be room or local_part, got %q", c.Booking.BookedBy)
	}
	switch c.Booking.DateLayout {
	case "2006-01-02", "02-01-2006":
	default:
		return fmt.Errorf("booking.date_layout must be 2006-01-02 or 02-01-2006, got %q", c.Booking.DateLayout)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, EnvProduction)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

func (c *Config) DayViewTTL() time.Duration {
	return time.Duration(c.Redis.DayViewTTLSeconds) * time.Second
}

func (c *Config) AllowlistReloadInterval() time.Duration {
	return time.Duration(c.Allowlist.ReloadIntervalSecs) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.HTTP.ShutdownSeconds) * time.Second
}

// Location is the zone used to decide which day is "today". Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Booking.TimeZone)
}

func (c *Config) Descending() bool {
	return strings.EqualFold(c.Booking.Order, "desc")
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
