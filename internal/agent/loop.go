package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/provider"
	"github.com/vorkdev/vork/internal/session"
	"github.com/vorkdev/vork/internal/tools"
)

const defaultMaxIterations = 20

// ToolHandler runs the tool calls of one model turn.
type ToolHandler interface {
	HandleBatch(ctx context.Context, calls []gatekeeper.Call) []gatekeeper.Result
}

// LoopConfig wires a Loop.
type LoopConfig struct {
	Model   model.BaseChatModel
	Tools   *tools.Registry
	Gate    ToolHandler
	Context *ContextBuilder

	// Store persists the conversation. Nil keeps it in memory only.
	Store   session.Store
	Session session.Info
	History []session.Message

	MaxIterations int
	// ContextLimit is the token budget compaction works against. Zero
	// disables compaction.
	ContextLimit int
}

// Loop is the conversation loop for one session.
type Loop struct {
	model         model.BaseChatModel
	tools         *tools.Registry
	gate          ToolHandler
	context       *ContextBuilder
	store         session.Store
	session       session.Info
	messages      []*schema.Message
	maxIterations int
	contextLimit  int
	now           func() time.Time

	OnToolStart  func(call gatekeeper.Call)
	OnToolFinish func(call gatekeeper.Call, result gatekeeper.Result)
}

// NewLoop binds the registry's tools to the model and restores history.
func NewLoop(ctx context.Context, cfg LoopConfig) (*Loop, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("no model configured")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("no tool gatekeeper configured")
	}
	if cfg.Context == nil {
		return nil, fmt.Errorf("no context builder configured")
	}
	l := &Loop{
		model:         cfg.Model,
		tools:         cfg.Tools,
		gate:          cfg.Gate,
		context:       cfg.Context,
		store:         cfg.Store,
		session:       cfg.Session,
		maxIterations: cfg.MaxIterations,
		contextLimit:  cfg.ContextLimit,
		now:           time.Now,
	}
	if l.maxIterations <= 0 {
		l.maxIterations = defaultMaxIterations
	}
	if err := l.bindTools(ctx); err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	l.messages = l.context.BuildMessages(cfg.History)
	return l, nil
}

func (l *Loop) bindTools(ctx context.Context) error {
	if l.tools == nil {
		return nil
	}
	toolInfos, err := l.tools.ToolInfos(ctx)
	if err != nil {
		return err
	}
	if caller, ok := l.model.(model.ToolCallingChatModel); ok {
		bound, err := caller.WithTools(toolInfos)
		if err != nil {
			return err
		}
		l.model = bound
		return nil
	}
	if binder, ok := l.model.(interface {
		BindTools([]*schema.ToolInfo) error
	}); ok {
		return binder.BindTools(toolInfos)
	}
	return nil
}

// SessionID returns the id of the session being extended.
func (l *Loop) SessionID() string {
	return l.session.ID
}

// Messages returns the live conversation including the system prompt.
func (l *Loop) Messages() []*schema.Message {
	return append([]*schema.Message(nil), l.messages...)
}

// Process runs one user turn to completion and returns the final reply.
func (l *Loop) Process(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty input")
	}
	if err := l.compactIfNeeded(ctx); err != nil {
		return "", err
	}
	l.append(ctx, &schema.Message{Role: schema.User, Content: input})

	var finalContent string
	for i := 0; i < l.maxIterations; i++ {
		resp, err := l.model.Generate(ctx, l.messages)
		if err != nil {
			if provider.Unavailable(err) {
				return "", fmt.Errorf("%w: %v", provider.ErrBackendUnavailable, err)
			}
			return "", fmt.Errorf("generate: %w", err)
		}
		if resp == nil {
			return "", errors.New("generate: empty response")
		}
		resp.Role = schema.Assistant
		for j := range resp.ToolCalls {
			if resp.ToolCalls[j].ID == "" {
				resp.ToolCalls[j].ID = "call_" + uuid.NewString()
			}
		}
		l.append(ctx, resp)
		if resp.Content != "" {
			finalContent = resp.Content
		}
		if len(resp.ToolCalls) == 0 {
			if finalContent == "" {
				finalContent = "Processing complete."
			}
			return finalContent, nil
		}

		calls := make([]gatekeeper.Call, len(resp.ToolCalls))
		for j, tc := range resp.ToolCalls {
			calls[j] = gatekeeper.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			if l.OnToolStart != nil {
				l.OnToolStart(calls[j])
			}
		}
		results := l.gate.HandleBatch(ctx, calls)
		for j, res := range results {
			if l.OnToolFinish != nil {
				l.OnToolFinish(calls[j], res)
			}
			l.append(ctx, &schema.Message{Role: schema.Tool, Content: res.Content(), ToolCallID: calls[j].ID})
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	slog.Warn("tool iteration limit reached", "session", l.session.ID, "limit", l.maxIterations)
	if finalContent == "" {
		finalContent = fmt.Sprintf("Stopped after %d tool iterations without a final answer.", l.maxIterations)
	}
	return finalContent, nil
}

// append adds messages to the live history and the session log. Store
// failures are logged; the conversation continues in memory.
func (l *Loop) append(ctx context.Context, msgs ...*schema.Message) {
	l.messages = append(l.messages, msgs...)
	l.persist(ctx, msgs...)
}

func (l *Loop) persist(ctx context.Context, msgs ...*schema.Message) {
	if l.store == nil || l.session.ID == "" || len(msgs) == 0 {
		return
	}
	out := make([]session.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toSession(m))
	}
	if err := l.store.Append(context.WithoutCancel(ctx), l.session.ID, out...); err != nil {
		slog.Warn("persist session failed", "session", l.session.ID, "error", err)
	}
}
