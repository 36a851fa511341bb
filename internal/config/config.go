// Package config loads the engine configuration from a JSON5 file with
// environment overlays. Secrets (Postgres DSN, platform tokens) come from the
// environment only and are never written to the config file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the agentrelay engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Engine    EngineConfig    `json:"engine"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Platforms PlatformsConfig `json:"platforms,omitempty"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig configures Postgres. The DSN is read from env
// AGENTRELAY_POSTGRES_DSN only, never from the config file.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// EngineConfig holds routing-engine tunables.
type EngineConfig struct {
	DedupRetentionDays   int    `json:"dedup_retention_days"`
	DiscoveryTTLMinutes  int    `json:"discovery_ttl_minutes"`
	ExecutorURL          string `json:"executor_url"`
	ExecutorToken        string `json:"-"` // env AGENTRELAY_EXECUTOR_TOKEN only
	SweepIntervalMinutes int    `json:"sweep_interval_minutes"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // host:port
	Protocol string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure bool   `json:"insecure,omitempty"`
}

// PlatformsConfig carries per-platform settings. Credentials arrive via env
// and are seeded into the durable config store on first boot; after that the
// store copy wins (see SeedFromEnv).
type PlatformsConfig struct {
	Slack   SlackConfig   `json:"slack,omitempty"`
	Discord DiscordConfig `json:"discord,omitempty"`
}

// SlackConfig holds Slack credentials and delivery mode.
type SlackConfig struct {
	BotToken      string `json:"-"` // env AGENTRELAY_SLACK_BOT_TOKEN
	AppToken      string `json:"-"` // env AGENTRELAY_SLACK_APP_TOKEN (socket mode)
	SigningSecret string `json:"-"` // env AGENTRELAY_SLACK_SIGNING_SECRET
	SocketMode    bool   `json:"socket_mode,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// DiscordConfig holds Discord credentials.
type DiscordConfig struct {
	BotToken       string `json:"-"` // env AGENTRELAY_DISCORD_BOT_TOKEN
	GuildID        string `json:"guild_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18990,
		},
		Engine: EngineConfig{
			DedupRetentionDays:   7,
			DiscoveryTTLMinutes:  15,
			SweepIntervalMinutes: 60,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("AGENTRELAY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AGENTRELAY_EXECUTOR_URL", &c.Engine.ExecutorURL)
	envStr("AGENTRELAY_EXECUTOR_TOKEN", &c.Engine.ExecutorToken)
	envInt("AGENTRELAY_PORT", &c.Server.Port)

	envStr("AGENTRELAY_SLACK_BOT_TOKEN", &c.Platforms.Slack.BotToken)
	envStr("AGENTRELAY_SLACK_APP_TOKEN", &c.Platforms.Slack.AppToken)
	envStr("AGENTRELAY_SLACK_SIGNING_SECRET", &c.Platforms.Slack.SigningSecret)
	envBool("AGENTRELAY_SLACK_SOCKET_MODE", &c.Platforms.Slack.SocketMode)
	envStr("AGENTRELAY_SLACK_ORG_ID", &c.Platforms.Slack.OrganizationID)

	envStr("AGENTRELAY_DISCORD_BOT_TOKEN", &c.Platforms.Discord.BotToken)
	envStr("AGENTRELAY_DISCORD_GUILD_ID", &c.Platforms.Discord.GuildID)
	envStr("AGENTRELAY_DISCORD_ORG_ID", &c.Platforms.Discord.OrganizationID)

	envStr("AGENTRELAY_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}
