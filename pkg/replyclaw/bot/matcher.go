// Package bot implements the auto-reply pipeline: the matcher that
// resolves inbound text to a response, and the session that owns the
// long-lived chat connection and drives the per-message pipeline.
package bot

import (
	"context"
	"fmt"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// TemplateFinder is the template-store query the matcher needs.
type TemplateFinder interface {
	FindActiveMatch(ctx context.Context, text string) (*store.Template, error)
}

// Resolution is the outcome of matching one inbound message.
type Resolution struct {
	// Response is the text to send back.
	Response string

	// TemplateID references the matched template, or nil when the
	// fallback response was used.
	TemplateID *int64
}

// Matcher resolves inbound text against the active template set. It
// performs no mutation: the result is a pure function of the text and
// the committed template state at lookup time. Case-insensitive exact
// equality only; when duplicate active triggers exist the store returns
// the lowest id.
type Matcher struct {
	templates TemplateFinder
	fallback  string
}

// NewMatcher creates a Matcher with the given fallback response text.
func NewMatcher(templates TemplateFinder, fallback string) *Matcher {
	return &Matcher{
		templates: templates,
		fallback:  fallback,
	}
}

// Resolve returns the response for the given inbound text: the matched
// template's response, or the fallback with a nil template reference.
func (m *Matcher) Resolve(ctx context.Context, text string) (*Resolution, error) {
	t, err := m.templates.FindActiveMatch(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", text, err)
	}
	if t == nil {
		return &Resolution{Response: m.fallback}, nil
	}
	id := t.ID
	return &Resolution{Response: t.ResponseText, TemplateID: &id}, nil
}
