package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

const defaultWrap = 100

// Renderer turns markdown into terminal output.
type Renderer interface {
	Render(string) (string, error)
}

// Plain returns text unchanged. It is used when stdout is not a terminal.
type Plain struct{}

func (Plain) Render(s string) (string, error) { return s, nil }

// NewMarkdown returns a glamour renderer that picks its style from the
// terminal background.
func NewMarkdown(width int) (Renderer, error) {
	if width <= 0 {
		width = defaultWrap
	}
	return glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
}

// ResponseParts renders reasoning and reply separately. A failed render
// falls back to the raw text.
func ResponseParts(content string, r Renderer) (think, reply string, hasThink bool) {
	rawThink, rawReply, hasThink := SplitThink(content)
	if hasThink && rawThink != "" {
		think = renderOrRaw(r, rawThink)
	}
	return think, renderOrRaw(r, rawReply), hasThink
}

// Response formats a full assistant reply for display. Reasoning is dimmed
// and shown above the reply only when showThink is set.
func Response(content string, r Renderer, showThink bool) string {
	think, reply, _ := ResponseParts(content, r)
	var sb strings.Builder
	if showThink && think != "" {
		sb.WriteString(thinkStyle.Render(strings.TrimSpace(think)))
		sb.WriteString("\n\n")
	}
	sb.WriteString(strings.TrimRight(reply, "\n"))
	return sb.String()
}

func renderOrRaw(r Renderer, s string) string {
	if r == nil {
		return s
	}
	out, err := r.Render(s)
	if err != nil {
		return s
	}
	return out
}
