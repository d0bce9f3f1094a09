// Package config provides configuration management for the Switchboard
// service.
package config

import "time"

// RulesConfig selects where tenant rules are persisted.
// Backend "file" stores rules.json under each tenant directory; "db"
// stores them in the rules table.
type RulesConfig struct {
	Backend string
}

// RedisConfig enables the optional Redis bridge that mirrors the event
// and match feeds onto pub/sub channels. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ScriptConfig bounds workflow entry-action scripts.
type ScriptConfig struct {
	Timeout time.Duration
	Grace   time.Duration
}

// ServerConfig holds configuration for the Switchboard service.
type ServerConfig struct {
	Host    string
	Port    int
	DataDir string
	Tenants []string

	// MaxTurns caps agentic prompt completions when an action does not
	// set its own limit.
	MaxTurns int

	Rules  RulesConfig
	Redis  RedisConfig
	Script ScriptConfig
}

// DefaultServerConfig returns configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:     "0.0.0.0",
		Port:     8484,
		DataDir:  "./data",
		MaxTurns: 10,
		Rules:    RulesConfig{Backend: "file"},
		Script: ScriptConfig{
			Timeout: 300 * time.Second,
			Grace:   10 * time.Second,
		},
	}
}
