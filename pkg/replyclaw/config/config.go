// Package config defines and loads the ReplyClaw configuration.
package config

import (
	"fmt"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/bot"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels/discord"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels/whatsapp"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/gateway"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/reporter"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/stats"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// Config holds all service configuration.
type Config struct {
	// Name is the service name used in logs.
	Name string `yaml:"name"`

	// Channel selects the chat platform: "whatsapp" or "discord".
	// One session per process.
	Channel string `yaml:"channel"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Database configures the SQLite store.
	Database store.Config `yaml:"database"`

	// Bot configures reply behaviour and shutdown.
	Bot bot.Config `yaml:"bot"`

	// Channels configures the available platforms.
	Channels ChannelsConfig `yaml:"channels"`

	// Gateway configures the HTTP management API.
	Gateway gateway.Config `yaml:"gateway"`

	// Stats configures the aggregator.
	Stats stats.Config `yaml:"stats"`

	// Reporter configures the periodic activity summary.
	Reporter reporter.Config `yaml:"reporter"`
}

// ChannelsConfig holds the per-platform configuration.
type ChannelsConfig struct {
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Discord  discord.Config  `yaml:"discord"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Name:    "replyclaw",
		Channel: "whatsapp",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: store.DefaultConfig(),
		Bot:      bot.DefaultConfig(),
		Channels: ChannelsConfig{
			WhatsApp: whatsapp.DefaultConfig(),
			Discord:  discord.DefaultConfig(),
		},
		Gateway:  gateway.DefaultConfig(),
		Stats:    stats.DefaultConfig(),
		Reporter: reporter.DefaultConfig(),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Channel {
	case "whatsapp", "discord":
	default:
		return fmt.Errorf("unknown channel %q (expected whatsapp or discord)", c.Channel)
	}
	return nil
}
