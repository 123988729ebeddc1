package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RegistryConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type CameraConfig struct {
	StreamURL string `mapstructure:"stream_url"`
	Model     string `mapstructure:"model"`
}

type ScanConfig struct {
	DefaultMode             string `mapstructure:"default_mode"`
	DefaultPreset           string `mapstructure:"default_preset"`
	SessionRetentionMinutes int    `mapstructure:"session_retention_minutes"`
	EventRetentionDays      int    `mapstructure:"event_retention_days"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Registry RegistryConfig `mapstructure:"registry"`
	Camera   CameraConfig   `mapstructure:"camera"`
	Scan     ScanConfig     `mapstructure:"scan"`
}

// Load reads configuration from an optional YAML file plus VINSCAN_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("database.dsn", "host=localhost user=vinscan password=vinscan dbname=vinscan port=5432 sslmode=disable")
	v.SetDefault("registry.base_url", "https://vpic.nhtsa.dot.gov/api/vehicles")
	v.SetDefault("scan.default_mode", "text")
	v.SetDefault("scan.default_preset", "default")
	v.SetDefault("scan.session_retention_minutes", 5)
	v.SetDefault("scan.event_retention_days", 90)

	v.SetEnvPrefix("VINSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}
