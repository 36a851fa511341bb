package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/beaconworks/agentrelay/internal/store"
)

// SlackCredentials is the credential shape stored for the Slack platform.
type SlackCredentials struct {
	BotToken      string `json:"bot_token"`
	AppToken      string `json:"app_token,omitempty"`
	SigningSecret string `json:"signing_secret,omitempty"`
}

// DiscordCredentials is the credential shape stored for the Discord platform.
type DiscordCredentials struct {
	BotToken string `json:"bot_token"`
	GuildID  string `json:"guild_id,omitempty"`
}

// SeedFromEnv writes platform credentials from the environment into the
// durable config store, once per platform. An existing row is left untouched
// unless force is set, so credential rotation via environment alone has no
// effect after first boot. Operators rotate with `agentrelay config seed --force`.
func SeedFromEnv(ctx context.Context, cfg *Config, configs store.ConfigStore, force bool) error {
	if cfg.Platforms.Slack.BotToken != "" {
		if err := seedPlatform(ctx, configs, "slack", cfg.Platforms.Slack.OrganizationID,
			cfg.Platforms.Slack.SocketMode, SlackCredentials{
				BotToken:      cfg.Platforms.Slack.BotToken,
				AppToken:      cfg.Platforms.Slack.AppToken,
				SigningSecret: cfg.Platforms.Slack.SigningSecret,
			}, force); err != nil {
			return err
		}
	}
	if cfg.Platforms.Discord.BotToken != "" {
		if err := seedPlatform(ctx, configs, "discord", cfg.Platforms.Discord.OrganizationID,
			false, DiscordCredentials{
				BotToken: cfg.Platforms.Discord.BotToken,
				GuildID:  cfg.Platforms.Discord.GuildID,
			}, force); err != nil {
			return err
		}
	}
	return nil
}

func seedPlatform(ctx context.Context, configs store.ConfigStore, platform, orgID string, socketMode bool, creds any, force bool) error {
	existing, err := configs.Get(ctx, platform)
	if err != nil {
		return fmt.Errorf("read %s config: %w", platform, err)
	}
	if existing != nil && !force {
		slog.Debug("platform config already seeded", "platform", platform)
		return nil
	}

	org, err := uuid.Parse(orgID)
	if err != nil {
		return fmt.Errorf("invalid organization id for %s: %w", platform, err)
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal %s credentials: %w", platform, err)
	}

	if err := configs.Save(ctx, &store.PlatformConfig{
		Platform:       platform,
		OrganizationID: org,
		Credentials:    raw,
		SocketMode:     socketMode,
	}); err != nil {
		return fmt.Errorf("save %s config: %w", platform, err)
	}
	slog.Info("seeded platform config", "platform", platform, "forced", force)
	return nil
}
