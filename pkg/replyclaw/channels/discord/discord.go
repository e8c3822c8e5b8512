// Package discord implements the Discord channel for ReplyClaw using
// discordgo. Only direct messages are handled; guild chatter is ignored.
package discord

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token. Resolved from the OS keyring or
	// the REPLYCLAW_DISCORD_TOKEN environment variable when empty.
	Token string `yaml:"token"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements the channels.Channel interface.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// messagesClosed tracks if the messages channel has been closed.
	// closeMu serializes onMessageCreate against the close in Disconnect.
	messagesClosed atomic.Bool
	closeMu        sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("%w: discord bot token is required", channels.ErrConnectionFailed)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("%w: opening gateway: %v", channels.ErrConnectionFailed, err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection. Discord sessions hold
// no local credential artifact beyond the in-memory token.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)

	d.closeMu.Lock()
	if d.messagesClosed.CompareAndSwap(false, true) {
		close(d.messages)
	}
	d.closeMu.Unlock()

	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the given DM channel.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	msgSend := &discordgo.MessageSend{Content: message.Content}
	if message.ReplyTo != "" {
		msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
	}

	if _, err := d.session.ChannelMessageSendComplex(to, msgSend); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: sending message: %w", err)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the gateway connection is open.
func (d *Discord) IsConnected() bool {
	return d.connected.Load()
}

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	status := channels.HealthStatus{
		Connected:  d.connected.Load(),
		ErrorCount: int(d.errorCount.Load()),
		Details:    map[string]any{},
	}
	if d.session != nil && d.session.State != nil && d.session.State.User != nil {
		status.Details["bot_id"] = d.session.State.User.ID
	}
	if v := d.lastMsg.Load(); v != nil {
		status.LastMessageAt = v.(time.Time)
	}
	return status
}

// onMessageCreate handles incoming Discord messages. Guild messages and
// bot-authored messages (including our own) are dropped here.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.Author.Bot {
		return
	}
	// DMs have no guild id.
	if m.GuildID != "" {
		return
	}
	if m.Content == "" {
		return
	}

	msg := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   false,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if d.messagesClosed.Load() {
		return
	}
	select {
	case d.messages <- msg:
		d.lastMsg.Store(time.Now())
	default:
		d.logger.Warn("discord: message channel full, dropping message",
			"from", msg.From)
	}
}
