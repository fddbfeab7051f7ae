package policy

import (
	"fmt"
	"strings"
)

// EngineConfig fixes the inputs of an Engine for the process lifetime.
type EngineConfig struct {
	Policy     ApprovalPolicy
	Mode       SandboxMode
	Boundary   *Boundary
	Classifier *Classifier
}

// Engine combines classification, the sandbox boundary and the approval
// policy. Decide has no hidden state.
type Engine struct {
	policy     ApprovalPolicy
	mode       SandboxMode
	boundary   *Boundary
	classifier *Classifier
}

// NewEngine builds an engine. A nil classifier uses the default rules.
func NewEngine(cfg EngineConfig) Engine {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return Engine{
		policy:     cfg.Policy,
		mode:       cfg.Mode,
		boundary:   cfg.Boundary,
		classifier: classifier,
	}
}

func (e Engine) Policy() ApprovalPolicy { return e.policy }
func (e Engine) Mode() SandboxMode      { return e.mode }

// Decide returns the decision for req. Blocked operations and boundary
// violations are denied before the approval policy is consulted.
func (e Engine) Decide(req Request) Decision {
	if e.boundary == nil {
		return Decision{Action: ActionDeny, Reason: "no workspace root configured", Op: req.Op}
	}

	d := Decision{Op: req.Op}
	var cls Classification

	switch req.Op {
	case OpExecute:
		d.Target = strings.TrimSpace(req.Command)
		cls = e.classifier.ClassifyCommand(d.Target)
		if cls.Network {
			d.Op = OpNetwork
		}
	case OpRead, OpWrite:
		resolved, err := e.boundary.Resolve(req.Path)
		if err != nil {
			d.Action = ActionDeny
			d.Reason = "invalid path: " + err.Error()
			d.Target = req.Path
			return d
		}
		d.Target = resolved
		rel, inside := e.boundary.Rel(resolved)
		cls = e.classifier.ClassifyPath(req.Op, resolved, rel, inside)
	case OpNetwork:
		d.Target = strings.TrimSpace(req.Command)
		cls = Classification{Risk: RiskRequiresApproval, Network: true, Reason: "outbound network access"}
	default:
		d.Action = ActionDeny
		d.Reason = fmt.Sprintf("unknown operation %q", req.Op)
		return d
	}

	d.Risk = cls.Risk
	d.Rule = cls.Rule

	if cls.Risk == RiskAlwaysBlocked {
		d.Action = ActionDeny
		d.Reason = "blocked operation: " + cls.Reason
		return d
	}

	if ok, why := e.boundary.Permits(e.mode, d.Op, d.Target, cls.Risk); !ok {
		d.Action = ActionDeny
		d.Reason = "sandbox boundary: " + why
		return d
	}

	switch e.policy {
	case PolicyReadOnly:
		if d.Op.Mutates() {
			d.Action = ActionDeny
			d.Reason = fmt.Sprintf("approval policy read-only denies %s operations", d.Op)
			return d
		}
		d.Action = ActionAllow
	case PolicyNever:
		d.Action = ActionAllow
	case PolicyAuto:
		if cls.Risk == RiskSafe {
			d.Action = ActionAllow
			return d
		}
		d.Action = ActionAskOperator
		d.Reason = cls.Reason
	case PolicyAlwaysAsk:
		d.Action = ActionAskOperator
		d.Reason = cls.Reason
	default:
		d.Action = ActionDeny
		d.Reason = "unknown approval policy"
	}
	return d
}
