package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconworks/agentrelay/internal/agents"
	"github.com/beaconworks/agentrelay/internal/config"
	"github.com/beaconworks/agentrelay/internal/gateway"
	"github.com/beaconworks/agentrelay/internal/platform"
	discordadapter "github.com/beaconworks/agentrelay/internal/platform/discord"
	slackadapter "github.com/beaconworks/agentrelay/internal/platform/slack"
	"github.com/beaconworks/agentrelay/internal/router"
	"github.com/beaconworks/agentrelay/internal/store"
	"github.com/beaconworks/agentrelay/internal/store/pg"
	"github.com/beaconworks/agentrelay/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing engine and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		slog.Error("AGENTRELAY_POSTGRES_DSN environment variable is not set")
		os.Exit(1)
	}
	if cfg.Engine.ExecutorURL == "" {
		slog.Error("no executor URL configured (engine.executor_url or AGENTRELAY_EXECUTOR_URL)")
		os.Exit(1)
	}

	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.SeedFromEnv(ctx, cfg, stores.Config, false); err != nil {
		slog.Error("failed to seed platform config", "error", err)
		os.Exit(1)
	}

	tracingShutdown, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	registry := platform.NewRegistry()
	executor := agents.NewHTTPExecutor(cfg.Engine.ExecutorURL, cfg.Engine.ExecutorToken)
	engine := router.New(stores, registry, executor, router.Options{
		DiscoveryTTL:   time.Duration(cfg.Engine.DiscoveryTTLMinutes) * time.Minute,
		DedupRetention: time.Duration(cfg.Engine.DedupRetentionDays) * 24 * time.Hour,
		SweepInterval:  time.Duration(cfg.Engine.SweepIntervalMinutes) * time.Minute,
	})

	// Adapters are built from the durable config rows, not the environment,
	// so one seeded deployment keeps its credentials across restarts.
	buildAdapters(ctx, stores, registry, engine)

	if err := registry.Initialize(ctx); err != nil {
		slog.Error("failed to initialize platforms", "error", err)
		os.Exit(1)
	}
	defer registry.Cleanup(context.Background())

	engine.StartupDiscovery(ctx)
	go engine.RunRetentionSweep(ctx)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := gateway.New(addr, engine, registry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown failed", "error", err)
		}
		cancel()
	}()

	slog.Info("agentrelay starting",
		"version", Version,
		"addr", addr,
		"platforms", len(registry.All()))

	if err := server.Start(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

// buildAdapters constructs an adapter per durable platform config row and
// registers it under the row's organization.
func buildAdapters(ctx context.Context, stores *store.Stores, registry *platform.Registry, engine *router.Engine) {
	if row := loadPlatformConfig(ctx, stores, "slack"); row != nil {
		var creds config.SlackCredentials
		if err := json.Unmarshal(row.Credentials, &creds); err != nil {
			slog.Error("bad slack credentials", "error", err)
		} else {
			adapter := slackadapter.New(slackadapter.Config{
				BotToken:      creds.BotToken,
				AppToken:      creds.AppToken,
				SigningSecret: creds.SigningSecret,
				SocketMode:    row.SocketMode,
			})
			adapter.SetHandler(engine)
			registry.Register(adapter, row.OrganizationID)
		}
	}
	if row := loadPlatformConfig(ctx, stores, "discord"); row != nil {
		var creds config.DiscordCredentials
		if err := json.Unmarshal(row.Credentials, &creds); err != nil {
			slog.Error("bad discord credentials", "error", err)
		} else {
			adapter := discordadapter.New(discordadapter.Config{
				BotToken: creds.BotToken,
				GuildID:  creds.GuildID,
			})
			adapter.SetHandler(engine)
			registry.Register(adapter, row.OrganizationID)
		}
	}
}

func loadPlatformConfig(ctx context.Context, stores *store.Stores, name string) *store.PlatformConfig {
	row, err := stores.Config.Get(ctx, name)
	if err != nil {
		slog.Error("failed to read platform config", "platform", name, "error", err)
		return nil
	}
	return row
}
