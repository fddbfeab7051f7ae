package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vorkdev/vork/internal/policy"
)

// ErrMalformedArguments marks tool calls whose arguments cannot be decoded
// or lack a required field. They never reach the engine.
var ErrMalformedArguments = errors.New("malformed tool arguments")

// Status is the outcome of one tool call as reported to the model.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

// Call is a tool invocation emitted by the model. It is consumed once.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result is the tool output handed back to the conversation.
type Result struct {
	CallID   string `json:"call_id"`
	Status   Status `json:"status"`
	Output   string `json:"output"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Content renders the result as the JSON tool message body.
func (r Result) Content() string {
	data, err := json.Marshal(r)
	if err != nil {
		return r.Output
	}
	return string(data)
}

// Prompt is what an operator sees when a call needs confirmation.
type Prompt struct {
	CallID      string
	Tool        string
	Op          policy.OpKind
	Target      string
	Risk        policy.RiskClass
	Reason      string
	Description string
}

// Operator answers confirmation prompts. Confirm must return promptly once
// ctx is done.
type Operator interface {
	Confirm(ctx context.Context, prompt Prompt) (approved bool, note string, err error)
}

// OperatorFunc adapts a function to Operator.
type OperatorFunc func(ctx context.Context, prompt Prompt) (bool, string, error)

func (f OperatorFunc) Confirm(ctx context.Context, prompt Prompt) (bool, string, error) {
	return f(ctx, prompt)
}

// Executor runs a tool adapter with raw JSON arguments.
type Executor interface {
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}
