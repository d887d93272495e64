// Package config provides Viper-based configuration loading for the service.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/TomasB/classify/internal/classify"
	"github.com/TomasB/classify/internal/proxy"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrMissingGeoIPPath is returned when no dataset path is configured.
var ErrMissingGeoIPPath = errors.New("GEOIP_DB_PATH is required")

// Config is the complete service configuration.
type Config struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	GRPCPort int    `mapstructure:"grpc_port" validate:"min=0,max=65535"`

	GeoIPDBPath    string `mapstructure:"geoip_db_path"`
	GeoIPWatch     bool   `mapstructure:"geoip_watch"`
	GeoIPCacheSize int    `mapstructure:"geoip_cache_size" validate:"min=0"`

	MetricsTarget     string `mapstructure:"metrics_target"`
	MetricsQueueSize  int    `mapstructure:"metrics_queue_size" validate:"min=1"`
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled"`

	TrustedProxyList []string `mapstructure:"trusted_proxy_list"`
	TimeZoneMode     string   `mapstructure:"time_zone_mode" validate:"oneof=none offset local"`

	VersionFile string `mapstructure:"version_file"`
	Debug       bool   `mapstructure:"debug"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	HumanLogs   bool   `mapstructure:"human_logs"`
}

// keys lists every setting so AutomaticEnv can resolve them during Unmarshal.
var keys = []string{
	"host", "port", "grpc_port",
	"geoip_db_path", "geoip_watch", "geoip_cache_size",
	"metrics_target", "metrics_queue_size", "prometheus_enabled",
	"trusted_proxy_list", "time_zone_mode",
	"version_file", "debug", "log_level", "human_logs",
}

// Load reads configuration from an optional file (CONFIG_FILE) and the
// environment. Environment variables use the upper-cased key names, e.g.
// GEOIP_DB_PATH.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if cfgFile := v.GetString("config_file"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.TrustedProxyList = splitList(cfg.TrustedProxyList)
	cfg.TimeZoneMode = strings.ToLower(strings.TrimSpace(cfg.TimeZoneMode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("grpc_port", 0)
	v.SetDefault("geoip_watch", false)
	v.SetDefault("geoip_cache_size", 4096)
	v.SetDefault("metrics_target", "127.0.0.1:8125")
	v.SetDefault("metrics_queue_size", 1024)
	v.SetDefault("prometheus_enabled", false)
	v.SetDefault("trusted_proxy_list", []string{})
	v.SetDefault("time_zone_mode", string(classify.TimeZoneNone))
	v.SetDefault("version_file", "version.json")
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("human_logs", false)
}

// Validate checks field constraints and cross-field semantics.
func (c *Config) Validate() error {
	if c.GeoIPDBPath == "" {
		return ErrMissingGeoIPPath
	}
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.Port {
		return fmt.Errorf("grpc_port %d collides with port", c.GRPCPort)
	}
	if _, err := proxy.ParseTrustedSet(c.TrustedProxyList); err != nil {
		return err
	}
	return nil
}

// TrustedProxies parses the trusted proxy list.
func (c *Config) TrustedProxies() (proxy.TrustedSet, error) {
	return proxy.ParseTrustedSet(c.TrustedProxyList)
}

// Mode returns the parsed time zone mode.
func (c *Config) Mode() classify.TimeZoneMode {
	mode, err := classify.ParseTimeZoneMode(c.TimeZoneMode)
	if err != nil {
		return classify.TimeZoneNone
	}
	return mode
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// GRPCAddr is the gRPC listen address; empty when gRPC is disabled.
func (c *Config) GRPCAddr() string {
	if c.GRPCPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(c.GRPCPort))
}

// SlogLevel converts the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// splitList flattens comma-separated entries, as environment variables
// arrive as a single string.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for part := range strings.SplitSeq(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
