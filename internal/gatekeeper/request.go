package gatekeeper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vorkdev/vork/internal/policy"
)

type toolSpec struct {
	op        policy.OpKind
	field     string
	required  bool
	defaultTo string
	timed     bool
}

var toolSpecs = map[string]toolSpec{
	"read_file":    {op: policy.OpRead, field: "path", required: true},
	"list_files":   {op: policy.OpRead, field: "path", defaultTo: "."},
	"search_files": {op: policy.OpRead, field: "path", defaultTo: ".", timed: true},
	"write_file":   {op: policy.OpWrite, field: "path", required: true},
	"edit_file":    {op: policy.OpWrite, field: "path", required: true},
	"bash_exec":    {op: policy.OpExecute, field: "command", required: true, timed: true},
}

// KnownTool reports whether name has an operation mapping.
func KnownTool(name string) bool {
	_, ok := toolSpecs[name]
	return ok
}

// RequestFor maps a tool call onto an engine request.
func RequestFor(call Call) (policy.Request, error) {
	spec, ok := toolSpecs[call.Name]
	if !ok {
		return policy.Request{}, fmt.Errorf("unknown tool: %s", call.Name)
	}

	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return policy.Request{}, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}

	value := spec.defaultTo
	if v, present := args[spec.field]; present {
		s, isString := v.(string)
		if !isString {
			return policy.Request{}, fmt.Errorf("%w: %s must be a string", ErrMalformedArguments, spec.field)
		}
		if strings.TrimSpace(s) != "" {
			value = s
		}
	}
	if spec.required && strings.TrimSpace(value) == "" {
		return policy.Request{}, fmt.Errorf("%w: %s is required", ErrMalformedArguments, spec.field)
	}

	req := policy.Request{ToolName: call.Name, Op: spec.op}
	if spec.field == "command" {
		req.Command = value
	} else {
		req.Path = value
	}
	return req, nil
}

func describe(req policy.Request) string {
	switch req.Op {
	case policy.OpExecute:
		return "Execute command: " + req.Command
	case policy.OpWrite:
		return "Write file: " + req.Path
	default:
		return fmt.Sprintf("%s: %s", req.ToolName, req.Path)
	}
}
