package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/bot"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels/discord"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels/whatsapp"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/config"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/gateway"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/reporter"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/stats"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// newServeCmd creates the `replyclaw serve` command that starts the
// auto-reply daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auto-reply daemon",
		Long: `Start ReplyClaw as a daemon: connect the configured chat channel,
answer incoming direct messages from templates and serve the HTTP
management API.

Examples:
  replyclaw serve
  replyclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w (run `replyclaw setup` to create one)", err)
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := buildLogger(cfg.Logging, verbose)

	// ── Open store ──
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// ── Build the pipeline ──
	matcher := bot.NewMatcher(st, cfg.Bot.FallbackReply)
	agg := stats.New(st, cfg.Stats)

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		return err
	}
	session := bot.NewSession(channel, matcher, st, cfg.Bot, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Start gateway ──
	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(st, agg, cfg.Gateway, logger)
		if err := gw.Start(ctx); err != nil {
			logger.Error("failed to start gateway", "error", err)
			gw = nil
		}
	}

	// ── Start reporter ──
	rep := reporter.New(agg, cfg.Reporter, logger)
	if err := rep.Start(ctx); err != nil {
		logger.Error("failed to start reporter", "error", err)
	}

	// ── Run the session ──
	sessErr := make(chan error, 1)
	go func() { sessErr <- session.Run(ctx) }()

	logger.Info("ReplyClaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"channel", cfg.Channel,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-sessErr:
		// Session ended on its own: connect failure is fatal, a closed
		// channel means the platform shut us down.
		rep.Stop()
		if gw != nil {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			c()
		}
		if err != nil {
			return fmt.Errorf("session terminated: %w", err)
		}
		return nil

	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping...", "signal", sig.String())
	}

	// Graceful shutdown: stop intake, let the in-flight message finish,
	// release the connection, then close the auxiliary services.
	cancel()

	done := make(chan struct{})
	go func() {
		if err := <-sessErr; err != nil {
			logger.Warn("session shutdown reported error", "error", err)
		}
		rep.Stop()
		if gw != nil {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			_ = gw.Stop(shutdownCtx)
			c()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(cfg.Bot.ShutdownGrace + 10*time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	return nil
}

// buildChannel constructs the configured chat channel.
func buildChannel(cfg *config.Config, logger *slog.Logger) (channels.Channel, error) {
	switch cfg.Channel {
	case "whatsapp":
		return whatsapp.New(cfg.Channels.WhatsApp, logger), nil
	case "discord":
		config.ResolveDiscordToken(cfg, logger)
		if cfg.Channels.Discord.Token == "" {
			return nil, fmt.Errorf("discord channel selected but no token configured")
		}
		return discord.New(cfg.Channels.Discord, logger), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}

// buildLogger creates the slog logger from config.
func buildLogger(cfg config.LoggingConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// resolveConfig loads config from the --config flag or discovery.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		return config.LoadFromFile(configPath)
	}

	if found := config.FindConfigFile(); found != "" {
		return config.LoadFromFile(found)
	}

	return nil, fmt.Errorf("no configuration file found")
}
