package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/channels"
	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// fakeChannel is an in-memory Channel for pipeline tests.
type fakeChannel struct {
	mu         sync.Mutex
	inbox      chan *channels.IncomingMessage
	sent       []*channels.OutgoingMessage
	sentTo     []string
	connectErr error
	sendErr    error
	connected  bool
	slowStop   time.Duration
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbox: make(chan *channels.IncomingMessage, 16)}
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Disconnect() error {
	if f.slowStop > 0 {
		time.Sleep(f.slowStop)
	}
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.sentTo = append(f.sentTo, to)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.inbox }

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: f.IsConnected()}
}

func (f *fakeChannel) sentMessages() []*channels.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*channels.OutgoingMessage(nil), f.sent...)
}

// fakeLog records appended entries and can be told to fail.
type fakeLog struct {
	mu      sync.Mutex
	entries []*store.LogEntry
	err     error
}

func (f *fakeLog) AppendLog(ctx context.Context, entry *store.LogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	entry.ID = int64(len(f.entries) + 1)
	entry.CreatedAt = time.Now().UTC()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
	return nil
}

func (f *fakeLog) all() []*store.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.LogEntry(nil), f.entries...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func inbound(id, text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      id,
		Channel: "fake",
		From:    "user-1",
		ChatID:  "chat-1",
		Content: text,
	}
}

func TestHandleInbound(t *testing.T) {
	ctx := context.Background()

	matcher := NewMatcher(&fakeFinder{templates: []*store.Template{
		{ID: 1, TriggerText: "hello", ResponseText: "hi there!", IsActive: true},
	}}, "fallback reply")

	t.Run("matched message records and replies", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{}, testLogger())

		s.HandleInbound(ctx, inbound("m1", "Hello"))

		entries := logs.all()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}
		if entries[0].TemplateID == nil || *entries[0].TemplateID != 1 {
			t.Errorf("expected template id 1, got %v", entries[0].TemplateID)
		}
		sent := ch.sentMessages()
		if len(sent) != 1 || sent[0].Content != "hi there!" {
			t.Fatalf("expected one reply 'hi there!', got %+v", sent)
		}
		if sent[0].ReplyTo != "m1" {
			t.Errorf("expected reply to m1, got %q", sent[0].ReplyTo)
		}
		if s.Handled() != 1 {
			t.Errorf("expected 1 handled, got %d", s.Handled())
		}
	})

	t.Run("unmatched message records fallback", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{}, testLogger())

		s.HandleInbound(ctx, inbound("m1", "nothing matches this"))

		entries := logs.all()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}
		if entries[0].TemplateID != nil {
			t.Errorf("expected nil template id, got %v", *entries[0].TemplateID)
		}
		sent := ch.sentMessages()
		if len(sent) != 1 || sent[0].Content != "fallback reply" {
			t.Fatalf("expected fallback reply, got %+v", sent)
		}
	})

	t.Run("group and empty messages are skipped", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{}, testLogger())

		group := inbound("m1", "hello")
		group.IsGroup = true
		s.HandleInbound(ctx, group)
		s.HandleInbound(ctx, inbound("m2", ""))

		if len(logs.all()) != 0 {
			t.Errorf("expected no log entries, got %d", len(logs.all()))
		}
		if len(ch.sentMessages()) != 0 {
			t.Errorf("expected no replies, got %d", len(ch.sentMessages()))
		}
	})

	t.Run("persistence failure sends error reply and records nothing", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{err: errors.New("database is locked")}
		s := NewSession(ch, matcher, logs, Config{ErrorReply: "oops"}, testLogger())

		s.HandleInbound(ctx, inbound("m1", "hello"))

		sent := ch.sentMessages()
		if len(sent) != 1 || sent[0].Content != "oops" {
			t.Fatalf("expected best-effort error reply, got %+v", sent)
		}
		if s.Handled() != 0 {
			t.Errorf("expected 0 handled, got %d", s.Handled())
		}
	})

	t.Run("lookup failure sends error reply without logging", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		broken := NewMatcher(&fakeFinder{err: errors.New("io error")}, "fallback")
		s := NewSession(ch, broken, logs, Config{ErrorReply: "oops"}, testLogger())

		s.HandleInbound(ctx, inbound("m1", "hello"))

		if len(logs.all()) != 0 {
			t.Errorf("expected no log entries, got %d", len(logs.all()))
		}
		sent := ch.sentMessages()
		if len(sent) != 1 || sent[0].Content != "oops" {
			t.Fatalf("expected best-effort error reply, got %+v", sent)
		}
	})

	t.Run("send failure keeps the recorded exchange", func(t *testing.T) {
		ch := newFakeChannel()
		ch.sendErr = channels.ErrSendFailed
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{}, testLogger())

		s.HandleInbound(ctx, inbound("m1", "hello"))

		if len(logs.all()) != 1 {
			t.Fatalf("expected the exchange to stay recorded, got %d entries", len(logs.all()))
		}
		if s.Handled() != 1 {
			t.Errorf("expected 1 handled, got %d", s.Handled())
		}
	})

	t.Run("oversize inbound text is clamped in the log", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{}, testLogger())

		s.HandleInbound(ctx, inbound("m1", strings.Repeat("x", store.MaxTriggerLen+50)))

		entries := logs.all()
		if len(entries) != 1 {
			t.Fatalf("expected 1 log entry, got %d", len(entries))
		}
		if got := len([]rune(entries[0].IncomingMessage)); got != store.MaxTriggerLen {
			t.Errorf("expected clamped to %d runes, got %d", store.MaxTriggerLen, got)
		}
	})
}

func TestSessionRun(t *testing.T) {
	matcher := NewMatcher(&fakeFinder{templates: []*store.Template{
		{ID: 1, TriggerText: "hello", ResponseText: "hi there!", IsActive: true},
	}}, "fallback")

	t.Run("processes messages in arrival order", func(t *testing.T) {
		ch := newFakeChannel()
		logs := &fakeLog{}
		s := NewSession(ch, matcher, logs, Config{ShutdownGrace: time.Second}, testLogger())

		for i := 0; i < 5; i++ {
			ch.inbox <- inbound(fmt.Sprintf("m%d", i), fmt.Sprintf("message %d", i))
		}
		close(ch.inbox)

		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entries := logs.all()
		if len(entries) != 5 {
			t.Fatalf("expected 5 log entries, got %d", len(entries))
		}
		for i, e := range entries {
			want := fmt.Sprintf("message %d", i)
			if e.IncomingMessage != want {
				t.Errorf("entry %d: expected %q, got %q", i, want, e.IncomingMessage)
			}
		}
	})

	t.Run("connect failure is terminal", func(t *testing.T) {
		ch := newFakeChannel()
		ch.connectErr = channels.ErrConnectionFailed
		s := NewSession(ch, matcher, &fakeLog{}, Config{}, testLogger())

		err := s.Run(context.Background())
		if !errors.Is(err, channels.ErrConnectionFailed) {
			t.Errorf("expected connection error, got %v", err)
		}
	})

	t.Run("cancel disconnects cleanly", func(t *testing.T) {
		ch := newFakeChannel()
		s := NewSession(ch, matcher, &fakeLog{}, Config{ShutdownGrace: time.Second}, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		// Let the session reach the receive loop before cancelling.
		deadline := time.After(2 * time.Second)
		for !ch.IsConnected() {
			select {
			case <-deadline:
				t.Fatal("session never connected")
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("session did not stop")
		}
		if ch.IsConnected() {
			t.Error("expected channel disconnected")
		}
	})

	t.Run("slow disconnect is bounded by the grace period", func(t *testing.T) {
		ch := newFakeChannel()
		ch.slowStop = time.Second
		s := NewSession(ch, matcher, &fakeLog{}, Config{ShutdownGrace: 50 * time.Millisecond}, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := s.Run(ctx)
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("shutdown took %s, expected it bounded by the grace period", elapsed)
		}
	})
}
