package bot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// LogAppender is the exchange-log write the session needs.
type LogAppender interface {
	AppendLog(ctx context.Context, entry *store.LogEntry) error
}

// Config holds reply behaviour and lifecycle configuration.
type Config struct {
	// FallbackReply is sent when no active template matches.
	FallbackReply string `yaml:"fallback_reply"`

	// ErrorReply is the best-effort reply sent when the pipeline fails
	// before the exchange could be recorded.
	ErrorReply string `yaml:"error_reply"`

	// ShutdownGrace bounds how long Disconnect may take before the
	// session gives up and forces release.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FallbackReply: "Sorry, I couldn't find a suitable reply template for this message.",
		ErrorReply:    "Sorry, something went wrong while handling your message.",
		ShutdownGrace: 15 * time.Second,
	}
}

// Session owns the single long-lived chat connection and runs the
// per-message pipeline: match, record the exchange, send the reply.
// Messages are handled one at a time in arrival order, so log appends
// for the same connection never interleave.
type Session struct {
	channel channels.Channel
	matcher *Matcher
	logs    LogAppender
	cfg     Config
	logger  *slog.Logger

	// handled counts completed pipeline invocations.
	handled atomic.Int64
}

// NewSession creates a Session around a channel.
func NewSession(channel channels.Channel, matcher *Matcher, logs LogAppender, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultConfig().FallbackReply
	}
	if cfg.ErrorReply == "" {
		cfg.ErrorReply = DefaultConfig().ErrorReply
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultConfig().ShutdownGrace
	}
	return &Session{
		channel: channel,
		matcher: matcher,
		logs:    logs,
		cfg:     cfg,
		logger:  logger.With("component", "session"),
	}
}

// Handled returns the number of completed pipeline invocations.
func (s *Session) Handled() int64 {
	return s.handled.Load()
}

// Run connects the channel and processes inbound messages until ctx is
// cancelled or the channel closes. A connect failure (bad credentials,
// unreachable network) is terminal and returned to the caller.
func (s *Session) Run(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", s.channel.Name(), err)
	}
	s.logger.Info("session running", "channel", s.channel.Name())

	// In-flight pipeline work must finish even after the shutdown
	// signal cancels ctx, so the handler runs on a detached context.
	// The loop is serial: once ctx is done no new message is taken.
	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case msg, ok := <-s.channel.Receive():
			if !ok {
				return s.shutdown()
			}
			if msg == nil {
				continue
			}
			s.HandleInbound(handleCtx, msg)
		}
	}
}

// HandleInbound runs the pipeline for one inbound message:
//  1. resolve the response via the matcher
//  2. append the exchange to the message log
//  3. send the reply
//
// A persistence failure still produces a best-effort error reply to the
// user and never crashes the session. A send failure leaves the already
// recorded exchange in place and is not retried here.
func (s *Session) HandleInbound(ctx context.Context, msg *channels.IncomingMessage) {
	if msg.IsGroup || msg.Content == "" {
		return
	}

	res, err := s.matcher.Resolve(ctx, msg.Content)
	if err != nil {
		s.logger.Error("template lookup failed",
			"channel", msg.Channel, "user", msg.From, "error", err)
		s.sendBestEffort(ctx, msg, s.cfg.ErrorReply)
		return
	}

	entry := &store.LogEntry{
		UserID:          msg.From,
		IncomingMessage: clampRunes(msg.Content, store.MaxTriggerLen),
		ResponseMessage: res.Response,
		TemplateID:      res.TemplateID,
	}
	if err := s.logs.AppendLog(ctx, entry); err != nil {
		s.logger.Error("recording exchange failed",
			"channel", msg.Channel, "user", msg.From, "error", err)
		s.sendBestEffort(ctx, msg, s.cfg.ErrorReply)
		return
	}

	out := &channels.OutgoingMessage{Content: res.Response, ReplyTo: msg.ID}
	if err := s.channel.Send(ctx, msg.ChatID, out); err != nil {
		// The exchange is already durable; report, don't retry.
		s.logger.Error("sending reply failed",
			"channel", msg.Channel, "user", msg.From, "log_id", entry.ID, "error", err)
	}

	s.handled.Add(1)
}

// sendBestEffort tries to tell the user something went wrong. Failure to
// deliver it is logged and swallowed.
func (s *Session) sendBestEffort(ctx context.Context, msg *channels.IncomingMessage, text string) {
	out := &channels.OutgoingMessage{Content: text, ReplyTo: msg.ID}
	if err := s.channel.Send(ctx, msg.ChatID, out); err != nil {
		s.logger.Error("best-effort error reply failed",
			"channel", msg.Channel, "user", msg.From, "error", err)
	}
}

// shutdown releases the connection, bounded by the configured grace
// period. The serial receive loop guarantees no pipeline invocation is
// still running when this is called.
func (s *Session) shutdown() error {
	s.logger.Info("session stopping", "channel", s.channel.Name())

	done := make(chan error, 1)
	go func() { done <- s.channel.Disconnect() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("disconnecting %s: %w", s.channel.Name(), err)
		}
		s.logger.Info("session stopped", "handled", s.handled.Load())
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("disconnect timed out, forcing release",
			"grace", s.cfg.ShutdownGrace)
		return fmt.Errorf("disconnect timed out after %s", s.cfg.ShutdownGrace)
	}
}

// clampRunes truncates s to at most n runes.
func clampRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
