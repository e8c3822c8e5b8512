// Package config – secrets.go resolves the Discord bot token using the
// operating system's native keyring (Linux: Secret Service, macOS:
// Keychain, Windows: Credential Manager), with environment variable and
// config file fallbacks.
//
// Priority: OS keyring → REPLYCLAW_DISCORD_TOKEN → config.yaml value.
// The WhatsApp channel needs no stored secret; its credential is the
// pairing handshake and the disposable local session file.
package config

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"log/slog"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "replyclaw"

	// keyringDiscordToken is the key name for the Discord bot token.
	keyringDiscordToken = "discord_token"

	// envDiscordToken is the environment variable fallback.
	envDiscordToken = "REPLYCLAW_DISCORD_TOKEN"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__replyclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// StoreDiscordToken saves the Discord bot token to the OS keyring.
func StoreDiscordToken(token string) error {
	return StoreKeyring(keyringDiscordToken, token)
}

// ResolveDiscordToken fills in the Discord token from the priority chain
// when the config value is empty. The resolved value is written back into
// the config in memory only.
func ResolveDiscordToken(cfg *Config, logger *slog.Logger) {
	if cfg.Channels.Discord.Token != "" {
		return
	}

	if token := GetKeyring(keyringDiscordToken); token != "" {
		cfg.Channels.Discord.Token = token
		logger.Debug("discord token resolved from OS keyring")
		return
	}

	if token := os.Getenv(envDiscordToken); token != "" {
		cfg.Channels.Discord.Token = strings.TrimSpace(token)
		logger.Debug("discord token resolved from environment")
	}
}

// PromptSecret reads a secret from the terminal without echo. Returns an
// error when stdin is not a terminal.
func PromptSecret(label string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
