package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/config"
)

// newSetupCmd creates the `replyclaw setup` command: an interactive form
// that writes config.yaml.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration",
		Long: `Walks through the minimal configuration and writes config.yaml.
For Discord, the bot token is stored in the OS keyring when available
instead of being written to disk.`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "config file to write")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("%s already exists, remove it first or choose another --output", output)
	}

	cfg := config.Default()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Service name").
				Value(&cfg.Name),
			huh.NewSelect[string]().
				Title("Chat channel").
				Options(
					huh.NewOption("WhatsApp", "whatsapp"),
					huh.NewOption("Discord", "discord"),
				).
				Value(&cfg.Channel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("WhatsApp phone number (blank for QR login)").
				Description("Digits only, with country code. Only used for the whatsapp channel.").
				Value(&cfg.Channels.WhatsApp.PhoneNumber),
			huh.NewInput().
				Title("Database path").
				Value(&cfg.Database.Path),
			huh.NewInput().
				Title("HTTP API listen address").
				Value(&cfg.Gateway.Address),
			huh.NewInput().
				Title("Fallback reply").
				Description("Sent when no template matches an incoming message.").
				Value(&cfg.Bot.FallbackReply),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	if cfg.Channel == "discord" {
		if err := collectDiscordToken(cfg); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(output, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Printf("Configuration written to %s\n", output)
	fmt.Println("Start the service with: replyclaw serve")
	return nil
}

// collectDiscordToken prompts for the bot token and prefers the OS
// keyring over plaintext config.
func collectDiscordToken(cfg *config.Config) error {
	token, err := config.PromptSecret("Discord bot token")
	if err != nil {
		return fmt.Errorf("reading discord token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("discord channel requires a bot token")
	}

	if config.KeyringAvailable() {
		if err := config.StoreDiscordToken(token); err == nil {
			fmt.Println("Token stored in the OS keyring.")
			return nil
		}
	}

	// No keyring — fall back to the config file.
	cfg.Channels.Discord.Token = token
	fmt.Println("Warning: OS keyring unavailable, token will be written to the config file.")
	return nil
}
