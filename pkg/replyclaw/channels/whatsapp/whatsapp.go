// Package whatsapp implements the WhatsApp channel for ReplyClaw using
// whatsmeow — a native Go WhatsApp Web API library.
//
// Features:
//   - QR code or phone pair-code login
//   - Session persistence in a local SQLite file, removable on shutdown
//   - Receive/send plain text messages (DMs only)
//   - Automatic reconnection with backoff
//   - Connection state management
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// SessionDir is the directory for session persistence (SQLite).
	SessionDir string `yaml:"session_dir"`

	// PhoneNumber enables pair-code login for the given account number
	// instead of QR scanning. Digits only, with country code.
	PhoneNumber string `yaml:"phone_number"`

	// EphemeralSession removes the local session database on clean
	// shutdown. The session artifact is treated as a disposable
	// credential, not a persisted secret.
	EphemeralSession bool `yaml:"ephemeral_session"`

	// ReconnectBackoff is the initial backoff duration for reconnection.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts is the maximum number of reconnection
	// attempts (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./sessions/whatsapp",
		EphemeralSession:     true,
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// WhatsApp implements the channels.Channel interface.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// messages is the channel for incoming messages.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// state tracks detailed connection state.
	state atomic.Value // ConnectionState

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// reconnectAttempts tracks reconnection tries.
	reconnectAttempts atomic.Int32

	// reconnectGuard prevents multiple concurrent reconnection attempts.
	reconnectGuard atomic.Bool

	// messagesClosed tracks if the messages channel has been closed.
	// closeMu serializes emitMessage against the close in Disconnect, so
	// an event handler can never send on the channel after it closed.
	messagesClosed atomic.Bool
	closeMu        sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new WhatsApp channel instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = "./sessions/whatsapp"
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}

	w := &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
	w.setState(StateDisconnected)
	return w
}

// ---------- State Management ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state (public API).
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

// getClientJID returns the current client JID if the session is linked.
func (w *WhatsApp) getClientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// sessionPath returns the path of the session database file.
func (w *WhatsApp) sessionPath() string {
	return w.cfg.SessionDir + "/whatsapp.db"
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection via whatsmeow. A missing
// session starts the pairing flow (pair code when PhoneNumber is set, QR
// otherwise); pairing failure is terminal and propagated to the caller.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateConnecting)
	w.logger.Info("whatsapp: initializing connection", "session_dir", w.cfg.SessionDir)

	if err := os.MkdirAll(w.cfg.SessionDir, 0700); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating session directory: %w", err)
	}

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.sessionPath()),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	store.SetOSInfo("ReplyClaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// First login — pairing required before the event loop can run.
		if err := w.login(w.ctx); err != nil {
			w.setState(StateDisconnected)
			return fmt.Errorf("%w: %v", channels.ErrConnectionFailed, err)
		}
		return nil
	}

	// Existing session — reconnect.
	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("connecting: %w", err)
	}

	w.connected.Store(true)
	w.logger.Info("whatsapp: connected (existing session)", "jid", w.getClientJID())
	return nil
}

// Disconnect gracefully closes the WhatsApp connection and, when
// EphemeralSession is set, removes the local session database.
func (w *WhatsApp) Disconnect() error {
	previous := w.getState()
	w.setState(StateLoggingOut)
	w.connected.Store(false)

	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}

	w.closeMu.Lock()
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}
	w.closeMu.Unlock()

	w.setState(StateDisconnected)
	w.logger.Info("whatsapp: disconnected", "previous_state", previous)

	if w.cfg.EphemeralSession {
		w.removeSession()
	}
	return nil
}

// removeSession deletes the local session database files. The session
// artifact only serves the connection it was created for. Every file is
// attempted even when an earlier one fails.
func (w *WhatsApp) removeSession() {
	base := w.sessionPath()
	failed := false
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Error("whatsapp: removing session file", "path", path, "error", err)
			failed = true
		}
	}
	if !failed {
		w.logger.Info("whatsapp: session files removed", "path", base)
	}
}

// Send sends a plain text message.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}

	waMsg := buildTextMessage(msg.Content, msg.ReplyTo, to)

	if _, err := w.client.SendMessage(ctx, jid, waMsg); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage {
	return w.messages
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// Health returns the channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	status := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details: map[string]any{
			"state": string(w.getState()),
			"jid":   w.getClientJID(),
		},
	}
	if v := w.lastMsg.Load(); v != nil {
		status.LastMessageAt = v.(time.Time)
	}
	return status
}

// ---------- Login ----------

// getDevice returns the first stored device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// login runs the pairing flow and blocks until the session is linked or
// pairing fails.
func (w *WhatsApp) login(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for pairing: %w", err)
	}

	w.setState(StateWaitingPair)

	if w.cfg.PhoneNumber != "" {
		code, err := w.client.PairPhone(ctx, w.cfg.PhoneNumber, true,
			whatsmeow.PairClientChrome, "Chrome (Linux)")
		if err != nil {
			return fmt.Errorf("requesting pair code: %w", err)
		}
		w.logger.Info("whatsapp: enter this code on your phone",
			"pair_code", code, "phone", w.cfg.PhoneNumber)
	} else {
		w.logger.Info("whatsapp: waiting for QR code scan")
	}

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}

			switch evt.Event {
			case "code":
				w.setState(StateWaitingPair)
				w.logger.Info("whatsapp: QR code ready", "code", evt.Code)

			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.setState(StateConnected)
				w.logger.Info("whatsapp: login successful", "jid", w.getClientJID())
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				w.logger.Warn("whatsapp: pairing code expired")
				return fmt.Errorf("pairing timeout")

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.logger.Error("whatsapp: pairing error", "error", evt.Error)
					return fmt.Errorf("pairing error: %v", evt.Error)
				}
			}
		}
	}
}

// ---------- Reconnection ----------

// attemptReconnect tries to re-establish a dropped connection with
// exponential backoff.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnectGuard.Store(false)

	backoff := w.cfg.ReconnectBackoff
	for {
		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && int(attempts) > w.cfg.MaxReconnectAttempts {
			w.logger.Error("whatsapp: reconnect attempts exhausted",
				"attempts", attempts-1)
			return
		}

		w.setState(StateReconnecting)
		w.logger.Info("whatsapp: reconnecting",
			"attempt", attempts, "backoff", backoff)

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := w.client.Connect(); err == nil {
			return
		} else if strings.Contains(err.Error(), "already connected") {
			return
		} else {
			w.logger.Warn("whatsapp: reconnect failed", "error", err)
		}

		if backoff < 5*time.Minute {
			backoff *= 2
		}
	}
}

// emitMessage sends a message to the incoming messages channel. The send
// never blocks, so holding closeMu across it is cheap.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()

	if w.messagesClosed.Load() {
		return
	}

	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	default:
		w.logger.Warn("whatsapp: message channel full, dropping message",
			"from", msg.From)
	}
}

// UpdateLastMsgTime records channel activity for health reporting.
func (w *WhatsApp) UpdateLastMsgTime() {
	w.lastMsg.Store(time.Now())
}
