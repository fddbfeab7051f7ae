package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/session"
)

const (
	compactThresholdPercent = 75
	compactKeepMessages     = 10
	summaryPrefix           = "Summary of the earlier conversation:\n"
)

const summarizePrompt = `Summarize the conversation above for your own later use. Keep file paths, decisions, tool results that still matter and open tasks. Be brief.`

// estimateTokens approximates the prompt size as len/4 plus a fixed
// per-message overhead.
func estimateTokens(messages []*schema.Message) int {
	total := 0
	for _, m := range messages {
		n := len(m.Content)
		for _, tc := range m.ToolCalls {
			n += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
		total += n/4 + 10
	}
	return total
}

// compactIfNeeded replaces all but the system prompt and the most recent
// messages with a model-written summary once the estimate crosses the
// threshold. A failed summary leaves the history untouched.
func (l *Loop) compactIfNeeded(ctx context.Context) error {
	if l.contextLimit <= 0 || len(l.messages) <= compactKeepMessages+1 {
		return nil
	}
	estimate := estimateTokens(l.messages)
	if estimate*100 < l.contextLimit*compactThresholdPercent {
		return nil
	}

	cut := len(l.messages) - compactKeepMessages
	// Keep tool results attached to the assistant turn that requested them.
	for cut > 1 && l.messages[cut].Role == schema.Tool {
		cut--
	}
	if cut <= 1 {
		return nil
	}

	old := l.messages[1:cut]
	request := append(append([]*schema.Message(nil), l.messages[0]), old...)
	request = append(request, &schema.Message{Role: schema.User, Content: summarizePrompt})
	resp, err := l.model.Generate(ctx, request)
	if err != nil {
		if provider.Unavailable(err) {
			return fmt.Errorf("%w: %v", provider.ErrBackendUnavailable, err)
		}
		slog.Warn("conversation compaction failed", "session", l.session.ID, "error", err)
		return nil
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}

	marker := &schema.Message{Role: schema.System, Content: summaryPrefix + summary}
	kept := append([]*schema.Message(nil), l.messages[cut:]...)
	compacted := make([]*schema.Message, 0, len(kept)+2)
	compacted = append(compacted, l.messages[0], marker)
	compacted = append(compacted, kept...)
	l.messages = compacted

	slog.Info("conversation compacted",
		"session", l.session.ID,
		"estimate", estimate,
		"limit", l.contextLimit,
		"dropped", len(old),
		"kept", len(kept),
	)

	if l.store != nil && l.session.ID != "" {
		rec := toSession(marker)
		rec.Compaction = true
		out := []session.Message{rec}
		for _, m := range kept {
			out = append(out, toSession(m))
		}
		if err := l.store.Append(context.WithoutCancel(ctx), l.session.ID, out...); err != nil {
			slog.Warn("persist compaction failed", "session", l.session.ID, "error", err)
		}
	}
	return nil
}
