package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var (
	allPolicies = []ApprovalPolicy{PolicyNever, PolicyAuto, PolicyAlwaysAsk, PolicyReadOnly}
	allModes    = []SandboxMode{SandboxReadOnly, SandboxWorkspaceWrite, SandboxDangerFullAccess}
)

func newTestEngine(t *testing.T, p ApprovalPolicy, m SandboxMode) (Engine, *Boundary) {
	t.Helper()
	b := newTestBoundary(t)
	return NewEngine(EngineConfig{Policy: p, Mode: m, Boundary: b}), b
}

func TestDecide_BlockedCommandsDeniedEverywhere(t *testing.T) {
	commands := []string{
		"sudo rm -rf /",
		"sudo reboot",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown now",
		"cat x > /dev/sda",
		":(){ :|:& };:",
	}
	for _, p := range allPolicies {
		for _, m := range allModes {
			e, _ := newTestEngine(t, p, m)
			for _, cmd := range commands {
				d := e.Decide(Request{ToolName: "bash_exec", Op: OpExecute, Command: cmd})
				require.Equal(t, ActionDeny, d.Action, "%s/%s %q", p, m, cmd)
				require.Equal(t, RiskAlwaysBlocked, d.Risk)
			}
		}
	}
}

func TestDecide_WriteOutsideWorkspaceDeniedInWorkspaceWrite(t *testing.T) {
	paths := []string{"/etc/hosts", "../outside.txt", "a/../../b.txt"}
	for _, p := range allPolicies {
		e, _ := newTestEngine(t, p, SandboxWorkspaceWrite)
		for _, path := range paths {
			d := e.Decide(Request{ToolName: "write_file", Op: OpWrite, Path: path})
			require.Equal(t, ActionDeny, d.Action, "%s %q", p, path)
		}
	}
}

func TestDecide_WriteThroughDanglingSymlinkIsDenied(t *testing.T) {
	outside := t.TempDir()
	for _, p := range allPolicies {
		e, b := newTestEngine(t, p, SandboxWorkspaceWrite)
		if err := os.Symlink(filepath.Join(outside, "escaped.txt"), filepath.Join(b.Root(), "link")); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
		d := e.Decide(Request{ToolName: "write_file", Op: OpWrite, Path: "link"})
		require.Equal(t, ActionDeny, d.Action, "policy %s", p)
		require.False(t, b.Contains(d.Target), "target %s", d.Target)
	}
}

func TestDecide_ReadOnlyPolicyNeverAllowsMutation(t *testing.T) {
	for _, m := range allModes {
		e, _ := newTestEngine(t, PolicyReadOnly, m)
		reqs := []Request{
			{ToolName: "write_file", Op: OpWrite, Path: "notes.md"},
			{ToolName: "write_file", Op: OpWrite, Path: "/tmp/x"},
			{ToolName: "bash_exec", Op: OpExecute, Command: "ls"},
			{ToolName: "bash_exec", Op: OpExecute, Command: "curl http://example.com"},
			{ToolName: "fetch", Op: OpNetwork, Command: "http://example.com"},
		}
		for _, req := range reqs {
			d := e.Decide(req)
			require.NotEqual(t, ActionAllow, d.Action, "%s %+v", m, req)
		}

		d := e.Decide(Request{ToolName: "read_file", Op: OpRead, Path: "notes.md"})
		require.Equal(t, ActionAllow, d.Action)
	}
}

func TestDecide_AlwaysAskAsksForSafeRequests(t *testing.T) {
	for _, m := range []SandboxMode{SandboxWorkspaceWrite, SandboxDangerFullAccess} {
		e, _ := newTestEngine(t, PolicyAlwaysAsk, m)
		for _, req := range []Request{
			{ToolName: "read_file", Op: OpRead, Path: "main.go"},
			{ToolName: "write_file", Op: OpWrite, Path: "notes.md"},
			{ToolName: "bash_exec", Op: OpExecute, Command: "ls"},
		} {
			d := e.Decide(req)
			require.Equal(t, RiskSafe, d.Risk)
			require.Equal(t, ActionAskOperator, d.Action, "%s %+v", m, req)
		}
	}
}

func TestDecide_Scenarios(t *testing.T) {
	type scenario struct {
		name   string
		policy ApprovalPolicy
		mode   SandboxMode
		req    Request
		want   Decision
	}

	ignore := cmpopts.IgnoreFields(Decision{}, "Reason", "Target", "Rule")

	tests := []scenario{
		{
			name: "auto write inside", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "write_file", Op: OpWrite, Path: "./notes.md"},
			want: Decision{Action: ActionAllow, Risk: RiskSafe, Op: OpWrite},
		},
		{
			name: "auto write etc hosts", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "write_file", Op: OpWrite, Path: "/etc/hosts"},
			want: Decision{Action: ActionDeny, Risk: RiskRequiresApproval, Op: OpWrite},
		},
		{
			name: "auto sudo reboot", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "sudo reboot"},
			want: Decision{Action: ActionDeny, Risk: RiskAlwaysBlocked, Op: OpExecute},
		},
		{
			name: "auto curl", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "curl http://example.com"},
			want: Decision{Action: ActionDeny, Risk: RiskRequiresApproval, Op: OpNetwork},
		},
		{
			name: "never full access rm build", policy: PolicyNever, mode: SandboxDangerFullAccess,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "rm -rf ./build"},
			want: Decision{Action: ActionAllow, Risk: RiskRequiresApproval, Op: OpExecute},
		},
		{
			name: "never full access sudo rm root", policy: PolicyNever, mode: SandboxDangerFullAccess,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "sudo rm -rf /"},
			want: Decision{Action: ActionDeny, Risk: RiskAlwaysBlocked, Op: OpExecute},
		},
		{
			name: "auto rm build asks", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "rm -rf ./build"},
			want: Decision{Action: ActionAskOperator, Risk: RiskRequiresApproval, Op: OpExecute},
		},
		{
			name: "auto full access curl asks", policy: PolicyAuto, mode: SandboxDangerFullAccess,
			req:  Request{ToolName: "bash_exec", Op: OpExecute, Command: "curl http://example.com"},
			want: Decision{Action: ActionAskOperator, Risk: RiskRequiresApproval, Op: OpNetwork},
		},
		{
			name: "auto read outside", policy: PolicyAuto, mode: SandboxWorkspaceWrite,
			req:  Request{ToolName: "read_file", Op: OpRead, Path: "/etc/hosts"},
			want: Decision{Action: ActionAllow, Risk: RiskSafe, Op: OpRead},
		},
		{
			name: "empty path", policy: PolicyNever, mode: SandboxDangerFullAccess,
			req:  Request{ToolName: "write_file", Op: OpWrite, Path: ""},
			want: Decision{Action: ActionDeny, Op: OpWrite},
		},
		{
			name: "unknown op", policy: PolicyNever, mode: SandboxDangerFullAccess,
			req:  Request{ToolName: "teleport", Op: OpKind("teleport")},
			want: Decision{Action: ActionDeny, Op: OpKind("teleport")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, tt.policy, tt.mode)
			got := e.Decide(tt.req)
			if diff := cmp.Diff(tt.want, got, ignore); diff != "" {
				t.Fatalf("decision mismatch (-want +got):\n%s", diff)
			}
			if got.Action == ActionDeny {
				require.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestDecide_TargetIsCanonicalPath(t *testing.T) {
	e, b := newTestEngine(t, PolicyAuto, SandboxWorkspaceWrite)
	d := e.Decide(Request{ToolName: "write_file", Op: OpWrite, Path: "dir/../notes.md"})
	require.Equal(t, filepath.Join(b.Root(), "notes.md"), d.Target)
}

func TestDecide_SensitivePathAsksUnderAuto(t *testing.T) {
	b := newTestBoundary(t)
	e := NewEngine(EngineConfig{
		Policy:     PolicyAuto,
		Mode:       SandboxWorkspaceWrite,
		Boundary:   b,
		Classifier: NewClassifier(DefaultRules(), []string{"**/.env"}),
	})
	d := e.Decide(Request{ToolName: "write_file", Op: OpWrite, Path: ".env"})
	require.Equal(t, ActionAskOperator, d.Action)
	require.Contains(t, d.Prompt(), ".env")
}

func TestDecide_IsReproducible(t *testing.T) {
	e, _ := newTestEngine(t, PolicyAuto, SandboxWorkspaceWrite)
	req := Request{ToolName: "bash_exec", Op: OpExecute, Command: "rm -rf ./build"}
	first := e.Decide(req)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, e.Decide(req))
	}
}

func TestDecide_NoBoundary(t *testing.T) {
	e := NewEngine(EngineConfig{Policy: PolicyNever, Mode: SandboxDangerFullAccess})
	d := e.Decide(Request{ToolName: "read_file", Op: OpRead, Path: "x"})
	require.Equal(t, ActionDeny, d.Action)
}

func TestParseApprovalPolicyAndSandboxMode(t *testing.T) {
	p, err := ParseApprovalPolicy("Always_Ask")
	require.NoError(t, err)
	require.Equal(t, PolicyAlwaysAsk, p)

	p, err = ParseApprovalPolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyAuto, p)

	_, err = ParseApprovalPolicy("sometimes")
	require.Error(t, err)

	m, err := ParseSandboxMode("DANGER_FULL_ACCESS")
	require.NoError(t, err)
	require.Equal(t, SandboxDangerFullAccess, m)

	_, err = ParseSandboxMode("chroot")
	require.Error(t, err)
}
