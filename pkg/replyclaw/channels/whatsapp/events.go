// Package whatsapp – events.go processes incoming whatsmeow events and
// converts private text messages into unified IncomingMessage values.
package whatsapp

import (
	"fmt"
	"strings"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingPair  ConnectionState = "waiting_pair"
	StateLoggingOut   ConnectionState = "logging_out"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.handleStreamReplaced(evt)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.KeepAliveTimeout:
		w.logger.Warn("whatsapp: keep-alive timeout",
			"error_count", evt.ErrorCount)
		w.errorCount.Add(1)

	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)

	case *events.ConnectFailure:
		w.logger.Error("whatsapp: connection failure",
			"reason", evt.Reason.String())
		w.errorCount.Add(1)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired", "jid", evt.ID.String())

	case *events.Receipt:
		// Delivery and read receipts carry no reply-worthy content.

	case *events.HistorySync:
		w.logger.Debug("whatsapp: history sync received")
	}
}

// handleMessageEvt converts an incoming message event into an
// IncomingMessage. Only private text messages from other accounts are
// emitted; everything else is dropped here so the reply pipeline never
// sees it.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	w.UpdateLastMsgTime()

	// Never answer the bot's own outgoing messages.
	if evt.Info.IsFromMe {
		return
	}

	// Skip status broadcasts and group chats — DMs only.
	if evt.Info.Chat.Server == "broadcast" || evt.Info.IsGroup {
		return
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      evt.Info.Sender.ToNonAD().String(),
		FromName:  evt.Info.PushName,
		ChatID:    evt.Info.Chat.String(),
		IsGroup:   false,
		Content:   text,
		Timestamp: evt.Info.Timestamp,
	}

	w.emitMessage(msg)
}

// handleConnected handles successful connection.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.setState(StateConnected)
	w.connected.Store(true)
	w.errorCount.Store(0)
	w.reconnectAttempts.Store(0)
	w.UpdateLastMsgTime()

	w.logger.Info("whatsapp: connected", "jid", w.getClientJID())
}

// handleDisconnected handles a dropped connection.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)

	w.logger.Warn("whatsapp: disconnected")

	// Reconnect unless the drop was part of an intentional shutdown.
	if previous == StateConnected && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleStreamReplaced handles another device taking over the stream.
func (w *WhatsApp) handleStreamReplaced(_ *events.StreamReplaced) {
	w.setState(StateDisconnected)
	w.connected.Store(false)
	w.logger.Error("whatsapp: stream replaced - another client connected with this session")
}

// handleLoggedOut handles session invalidation by the server.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	w.logger.Error("whatsapp: logged out, re-pairing required", "reason", reason)
}

// extractText returns the plain text of a message, or "" for non-text
// content (media, reactions, protocol messages).
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	return ""
}

// buildTextMessage builds the outgoing protobuf message. When replyTo is
// set the message quotes the original so the answer threads correctly in
// the user's chat.
func buildTextMessage(content, replyTo, chat string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(content),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:    proto.String(replyTo),
				Participant: proto.String(chat),
			},
		},
	}
}

// parseJID parses a recipient into a WhatsApp JID. Accepts full JIDs and
// bare phone numbers.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	// Already a full JID with server.
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	// Bare phone number — strip non-digits and add the default server.
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
