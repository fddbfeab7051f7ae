package policy

import (
	"fmt"
	"strings"
)

// ApprovalPolicy controls how much operator confirmation a tool call needs.
type ApprovalPolicy string

const (
	PolicyNever     ApprovalPolicy = "never"
	PolicyAuto      ApprovalPolicy = "auto"
	PolicyAlwaysAsk ApprovalPolicy = "always-ask"
	PolicyReadOnly  ApprovalPolicy = "read-only"
)

// SandboxMode is the ceiling on what operations are possible at all.
type SandboxMode string

const (
	SandboxReadOnly         SandboxMode = "read-only"
	SandboxWorkspaceWrite   SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// OpKind is the kind of side effect a tool call has.
type OpKind string

const (
	OpRead    OpKind = "read"
	OpWrite   OpKind = "write"
	OpExecute OpKind = "execute"
	OpNetwork OpKind = "network"
)

// Mutates reports whether the operation can change state outside the process.
func (o OpKind) Mutates() bool {
	return o == OpWrite || o == OpExecute || o == OpNetwork
}

// RiskClass orders classifications from least to most restrictive.
type RiskClass int

const (
	RiskSafe RiskClass = iota
	RiskRequiresApproval
	RiskAlwaysBlocked
)

func (r RiskClass) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskRequiresApproval:
		return "requires-approval"
	case RiskAlwaysBlocked:
		return "always-blocked"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRiskClass accepts the names produced by RiskClass.String.
func ParseRiskClass(s string) (RiskClass, error) {
	switch normalizeEnum(s) {
	case "safe":
		return RiskSafe, nil
	case "requires-approval", "approval":
		return RiskRequiresApproval, nil
	case "always-blocked", "blocked":
		return RiskAlwaysBlocked, nil
	default:
		return RiskSafe, fmt.Errorf("unknown risk class %q", s)
	}
}

// Action is the engine decision for a tool call.
type Action string

const (
	ActionAllow       Action = "allow"
	ActionDeny        Action = "deny"
	ActionAskOperator Action = "ask_operator"
)

// Request is the minimum evaluation context for one tool call.
type Request struct {
	ToolName string
	Op       OpKind
	Command  string
	Path     string
}

// Decision is the deterministic engine result.
type Decision struct {
	Action Action
	Reason string
	Risk   RiskClass
	Op     OpKind
	// Target is the canonical path or the command string the decision is about.
	Target string
	Rule   string
}

// Prompt describes the operation for an operator confirmation.
func (d Decision) Prompt() string {
	var verb string
	switch d.Op {
	case OpRead:
		verb = "Read"
	case OpWrite:
		verb = "Write file"
	case OpExecute:
		verb = "Execute command"
	case OpNetwork:
		verb = "Network command"
	default:
		verb = string(d.Op)
	}
	if d.Reason == "" {
		return fmt.Sprintf("%s: %s", verb, d.Target)
	}
	return fmt.Sprintf("%s: %s (%s)", verb, d.Target, d.Reason)
}

// ParseApprovalPolicy normalizes a configured policy name. Empty means auto.
func ParseApprovalPolicy(s string) (ApprovalPolicy, error) {
	switch normalizeEnum(s) {
	case "", "auto":
		return PolicyAuto, nil
	case "never":
		return PolicyNever, nil
	case "always-ask", "alwaysask":
		return PolicyAlwaysAsk, nil
	case "read-only", "readonly":
		return PolicyReadOnly, nil
	default:
		return "", fmt.Errorf("unknown approval policy %q (want never, auto, always-ask, read-only)", s)
	}
}

// ParseSandboxMode normalizes a configured sandbox mode. Empty means workspace-write.
func ParseSandboxMode(s string) (SandboxMode, error) {
	switch normalizeEnum(s) {
	case "", "workspace-write", "workspacewrite":
		return SandboxWorkspaceWrite, nil
	case "read-only", "readonly":
		return SandboxReadOnly, nil
	case "danger-full-access", "dangerfullaccess":
		return SandboxDangerFullAccess, nil
	default:
		return "", fmt.Errorf("unknown sandbox mode %q (want read-only, workspace-write, danger-full-access)", s)
	}
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", "-")
}
