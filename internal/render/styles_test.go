package render

import (
	"strings"
	"testing"

	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/policy"
)

func TestToolResult(t *testing.T) {
	call := gatekeeper.Call{ID: "c1", Name: "bash_exec", Arguments: `{"command":"make"}`}
	code := 2

	tests := []struct {
		name string
		res  gatekeeper.Result
		want []string
	}{
		{name: "success", res: gatekeeper.Result{Status: gatekeeper.StatusSuccess}, want: []string{"bash_exec"}},
		{name: "denied", res: gatekeeper.Result{Status: gatekeeper.StatusDenied, Output: "Denied: blocked operation\nmore"}, want: []string{"denied", "blocked operation"}},
		{name: "error", res: gatekeeper.Result{Status: gatekeeper.StatusError, ExitCode: &code, Output: "make: *** no rule"}, want: []string{"exit 2", "no rule"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ToolResult(call, tt.res)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Fatalf("ToolResult() = %q, missing %q", out, w)
				}
			}
			if strings.Contains(out, "more") {
				t.Fatalf("only the first output line should be shown: %q", out)
			}
		})
	}
}

func TestOperatorPrompt(t *testing.T) {
	out := OperatorPrompt(gatekeeper.Prompt{
		Tool:   "bash_exec",
		Op:     policy.OpExecute,
		Target: "rm -rf build",
		Risk:   policy.RiskRequiresApproval,
		Reason: "recursive force delete",
	})
	for _, w := range []string{"Approval required", "bash_exec", "rm -rf build", "requires-approval", "recursive force delete"} {
		if !strings.Contains(out, w) {
			t.Fatalf("prompt missing %q:\n%s", w, out)
		}
	}
}

func TestDecision(t *testing.T) {
	out := Decision(policy.Decision{
		Action: policy.ActionDeny,
		Op:     policy.OpExecute,
		Target: "sudo ls",
		Risk:   policy.RiskAlwaysBlocked,
		Rule:   "privilege-escalation",
		Reason: "blocked operation: superuser elevation",
	})
	for _, w := range []string{"deny", "sudo ls", "privilege-escalation", "always-blocked"} {
		if !strings.Contains(out, w) {
			t.Fatalf("decision missing %q:\n%s", w, out)
		}
	}
}

func TestTable(t *testing.T) {
	out := Table([]string{"ID", "NAME"}, []int{4, 10}, [][]string{{"abcdefgh", "first"}, {"x"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator and two rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "a...") {
		t.Fatalf("long cell should be truncated: %q", lines[2])
	}
}
