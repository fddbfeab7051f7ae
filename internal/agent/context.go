package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/vorkdev/vork/internal/policy"
	"github.com/vorkdev/vork/internal/session"
)

// instructionFiles are read from the workspace root into the system prompt.
var instructionFiles = []string{"AGENTS.md", "VORK.md"}

// ContextBuilder builds LLM context
type ContextBuilder struct {
	workspacePath string
	policy        policy.ApprovalPolicy
	mode          policy.SandboxMode
	toolNames     []string
}

// NewContextBuilder creates a context builder
func NewContextBuilder(workspacePath string, p policy.ApprovalPolicy, m policy.SandboxMode, toolNames []string) *ContextBuilder {
	return &ContextBuilder{workspacePath: workspacePath, policy: p, mode: m, toolNames: toolNames}
}

// BuildSystemPrompt assembles the system prompt
func (c *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{c.coreIdentity()}
	for _, name := range instructionFiles {
		if content := c.readWorkspaceFile(name); content != "" {
			parts = append(parts, "## "+strings.TrimSuffix(name, ".md")+"\n"+content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (c *ContextBuilder) coreIdentity() string {
	var sb strings.Builder
	sb.WriteString("You are vork, a coding assistant working in a local repository.\n")
	fmt.Fprintf(&sb, "Workspace: %s\n", c.workspacePath)
	fmt.Fprintf(&sb, "Approval policy: %s. Sandbox: %s.\n", c.policy, c.mode)
	if len(c.toolNames) > 0 {
		fmt.Fprintf(&sb, "Tools: %s.\n", strings.Join(c.toolNames, ", "))
	}
	sb.WriteString("Use paths relative to the workspace. A denied tool call is final for this turn; explain what you wanted to do instead of retrying it.")
	return sb.String()
}

func (c *ContextBuilder) readWorkspaceFile(name string) string {
	data, err := os.ReadFile(filepath.Join(c.workspacePath, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// BuildMessages prepends the system prompt to a restored history.
func (c *ContextBuilder) BuildMessages(history []session.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, &schema.Message{Role: schema.System, Content: c.BuildSystemPrompt()})
	for _, h := range history {
		messages = append(messages, fromSession(h))
	}
	return messages
}

func fromSession(m session.Message) *schema.Message {
	msg := &schema.Message{
		Role:       schema.RoleType(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return msg
}

func toSession(m *schema.Message) session.Message {
	out := session.Message{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}
