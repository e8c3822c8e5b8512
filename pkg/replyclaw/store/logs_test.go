package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAppendLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("fills id and created_at", func(t *testing.T) {
		entry := &LogEntry{
			UserID:          "user-1",
			IncomingMessage: "hello",
			ResponseMessage: "hi there!",
		}
		if err := st.AppendLog(ctx, entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected assigned id")
		}
		if entry.CreatedAt.IsZero() {
			t.Error("expected created_at to be set")
		}
	})

	t.Run("records template reference", func(t *testing.T) {
		tmpl, err := st.CreateTemplate(ctx, "ping", "pong", true)
		if err != nil {
			t.Fatalf("creating template: %v", err)
		}
		entry := &LogEntry{
			UserID:          "user-1",
			IncomingMessage: "ping",
			ResponseMessage: "pong",
			TemplateID:      &tmpl.ID,
		}
		if err := st.AppendLog(ctx, entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		logs, err := st.RecentLogs(ctx, 1)
		if err != nil {
			t.Fatalf("listing logs: %v", err)
		}
		if len(logs) != 1 || logs[0].TemplateID == nil || *logs[0].TemplateID != tmpl.ID {
			t.Errorf("expected template_id %d on newest entry, got %+v", tmpl.ID, logs)
		}
	})

	t.Run("rejects empty user id", func(t *testing.T) {
		err := st.AppendLog(ctx, &LogEntry{IncomingMessage: "x", ResponseMessage: "y"})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestListLogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := &LogEntry{
			UserID:          "user-1",
			IncomingMessage: fmt.Sprintf("message %d", i),
			ResponseMessage: "reply",
		}
		if err := st.AppendLog(ctx, entry); err != nil {
			t.Fatalf("appending log: %v", err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		logs, err := st.ListLogs(ctx, 1, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 5 {
			t.Fatalf("expected 5 entries, got %d", len(logs))
		}
		if logs[0].IncomingMessage != "message 4" {
			t.Errorf("expected newest entry first, got %q", logs[0].IncomingMessage)
		}
	})

	t.Run("paginates", func(t *testing.T) {
		first, err := st.ListLogs(ctx, 1, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := st.ListLogs(ctx, 2, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(first) != 2 || len(second) != 2 {
			t.Fatalf("expected 2 entries per page, got %d and %d", len(first), len(second))
		}
		if first[1].ID == second[0].ID {
			t.Error("pages overlap")
		}
	})

	t.Run("normalizes out-of-range parameters", func(t *testing.T) {
		logs, err := st.ListLogs(ctx, 0, -1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 5 {
			t.Errorf("expected defaults to cover all 5 entries, got %d", len(logs))
		}
	})

	t.Run("empty page past the end", func(t *testing.T) {
		logs, err := st.ListLogs(ctx, 10, 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("expected empty page, got %d entries", len(logs))
		}
	})
}

func TestLogCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tmpl, err := st.CreateTemplate(ctx, "hi", "hello", true)
	if err != nil {
		t.Fatalf("creating template: %v", err)
	}

	matched := &LogEntry{
		UserID:          "user-1",
		IncomingMessage: "hi",
		ResponseMessage: "hello",
		TemplateID:      &tmpl.ID,
	}
	fallback := &LogEntry{
		UserID:          "user-2",
		IncomingMessage: "unknown",
		ResponseMessage: "sorry",
	}
	for _, e := range []*LogEntry{matched, fallback} {
		if err := st.AppendLog(ctx, e); err != nil {
			t.Fatalf("appending log: %v", err)
		}
	}

	total, err := st.CountLogs(ctx)
	if err != nil {
		t.Fatalf("counting logs: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 logs, got %d", total)
	}

	responded, err := st.CountRespondedLogs(ctx)
	if err != nil {
		t.Fatalf("counting responded logs: %v", err)
	}
	if responded != 1 {
		t.Errorf("expected 1 responded log, got %d", responded)
	}
}

func TestRecentLogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &LogEntry{
			UserID:          "user-1",
			IncomingMessage: fmt.Sprintf("m%d", i),
			ResponseMessage: "r",
		}
		if err := st.AppendLog(ctx, entry); err != nil {
			t.Fatalf("appending log: %v", err)
		}
	}

	t.Run("limits and orders", func(t *testing.T) {
		logs, err := st.RecentLogs(ctx, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(logs))
		}
		if logs[0].IncomingMessage != "m2" {
			t.Errorf("expected newest entry first, got %q", logs[0].IncomingMessage)
		}
	})

	t.Run("since filters by time", func(t *testing.T) {
		logs, err := st.RecentLogsSince(ctx, time.Now().UTC().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 3 {
			t.Errorf("expected 3 entries inside the window, got %d", len(logs))
		}

		logs, err = st.RecentLogsSince(ctx, time.Now().UTC().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("expected 0 entries for a future window, got %d", len(logs))
		}
	})
}
