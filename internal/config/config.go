package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string
	DBPath               string
	CORSOrigins          []string
	MigrationsDir        string
	OwnerID              string
	Location             *time.Location
	WeekStart            time.Weekday
	TickInterval         time.Duration
	StoreTimeout         time.Duration
	RetryAttempts        int
	RetryInitialInterval time.Duration
	HourlyRate           *float64
	DefaultBillable      bool
	LayoutPath           string
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	location, err := parseLocation(v.GetString("timezone"))
	if err != nil {
		return Config{}, err
	}
	weekStart, err := parseWeekday(v.GetString("week_start"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:                 v.GetString("port"),
		DBPath:               v.GetString("db_path"),
		CORSOrigins:          splitList(v.GetString("cors_origins")),
		MigrationsDir:        v.GetString("migrations_dir"),
		OwnerID:              strings.TrimSpace(v.GetString("owner_id")),
		Location:             location,
		WeekStart:            weekStart,
		TickInterval:         v.GetDuration("tick_interval"),
		StoreTimeout:         v.GetDuration("store_timeout"),
		RetryAttempts:        v.GetInt("store_retry_attempts"),
		RetryInitialInterval: v.GetDuration("store_retry_interval"),
		DefaultBillable:      v.GetBool("default_billable"),
		LayoutPath:           v.GetString("layout_path"),
	}
	if rate := v.GetFloat64("hourly_rate"); rate > 0 {
		cfg.HourlyRate = &rate
	}

	if cfg.OwnerID == "" {
		return Config{}, fmt.Errorf("owner_id must not be empty")
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick_interval must be positive")
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "./data/timer.db")
	v.SetDefault("cors_origins", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("migrations_dir", "")
	v.SetDefault("owner_id", "local")
	v.SetDefault("timezone", "Local")
	v.SetDefault("week_start", "sunday")
	v.SetDefault("tick_interval", "1s")
	v.SetDefault("store_timeout", "5s")
	v.SetDefault("store_retry_attempts", 3)
	v.SetDefault("store_retry_interval", "200ms")
	v.SetDefault("hourly_rate", 0)
	v.SetDefault("default_billable", true)
	v.SetDefault("layout_path", "./data/layout.toml")
}

func parseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return location, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.ToLower(day.String()) == name {
			return day, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid week_start %q", name)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
