package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultServerConfig
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.tenants", []string{})
	v.SetDefault("server.max_turns", 10)
	v.SetDefault("rules.backend", "file")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("script.timeout", "300s")
	v.SetDefault("script.grace", "10s")

	// Bind environment variables with SB_ prefix
	v.SetEnvPrefix("SB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &ServerConfig{
		Host:     v.GetString("server.host"),
		Port:     v.GetInt("server.port"),
		DataDir:  v.GetString("server.data_dir"),
		Tenants:  v.GetStringSlice("server.tenants"),
		MaxTurns: v.GetInt("server.max_turns"),
		Rules: RulesConfig{
			Backend: v.GetString("rules.backend"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Script: ScriptConfig{
			Timeout: v.GetDuration("script.timeout"),
			Grace:   v.GetDuration("script.grace"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range, positive durations, and a known rules
// backend.
func validateConfig(cfg *ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if cfg.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", cfg.MaxTurns)
	}
	if cfg.Script.Timeout <= 0 {
		return fmt.Errorf("script timeout must be positive, got %v", cfg.Script.Timeout)
	}
	if cfg.Script.Grace <= 0 {
		return fmt.Errorf("script grace must be positive, got %v", cfg.Script.Grace)
	}
	switch cfg.Rules.Backend {
	case "file", "db":
	default:
		return fmt.Errorf("rules backend must be file or db, got %q", cfg.Rules.Backend)
	}
	return nil
}
