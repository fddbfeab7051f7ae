package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vorkdev/vork/internal/gatekeeper"
	"github.com/vorkdev/vork/internal/policy"
)

var (
	purple = lipgloss.Color("#8E4EC6")
	green  = lipgloss.Color("#2E8B57")
	red    = lipgloss.Color("#D0463B")
	amber  = lipgloss.Color("#D7A13B")
	gray   = lipgloss.Color("245")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(purple).
			Padding(0, 1)

	labelStyle  = lipgloss.NewStyle().Foreground(purple).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(gray)
	thinkStyle  = lipgloss.NewStyle().Foreground(gray).Italic(true)
	okStyle     = lipgloss.NewStyle().Foreground(green)
	errStyle    = lipgloss.NewStyle().Foreground(red)
	warnStyle   = lipgloss.NewStyle().Foreground(amber).Bold(true)
	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(amber).
			Padding(0, 1)
)

// Header renders a section title.
func Header(title string) string {
	return headerStyle.Render(title)
}

// Field renders a "label: value" line.
func Field(label string, value any) string {
	return labelStyle.Render(label+":") + " " + fmt.Sprint(value)
}

// Muted renders secondary text.
func Muted(s string) string {
	return mutedStyle.Render(s)
}

// Status renders ok/failed text in the matching color.
func Status(ok bool, text string) string {
	if ok {
		return okStyle.Render(text)
	}
	return errStyle.Render(text)
}

// ToolStart is the line shown when the model requests a tool.
func ToolStart(call gatekeeper.Call) string {
	args := call.Arguments
	if r := []rune(args); len(r) > 80 {
		args = string(r[:77]) + "..."
	}
	return mutedStyle.Render("→ "+call.Name) + " " + mutedStyle.Render(args)
}

// ToolResult is the line shown once a tool call has finished.
func ToolResult(call gatekeeper.Call, res gatekeeper.Result) string {
	switch res.Status {
	case gatekeeper.StatusSuccess:
		return okStyle.Render("✓ " + call.Name)
	case gatekeeper.StatusDenied:
		return warnStyle.Render("✗ "+call.Name+" denied") + " " + mutedStyle.Render(firstLine(res.Output))
	default:
		line := "! " + call.Name
		if res.ExitCode != nil {
			line += fmt.Sprintf(" (exit %d)", *res.ExitCode)
		}
		return errStyle.Render(line) + " " + mutedStyle.Render(firstLine(res.Output))
	}
}

// OperatorPrompt renders a confirmation box for a pending tool call.
func OperatorPrompt(p gatekeeper.Prompt) string {
	lines := []string{
		warnStyle.Render("Approval required"),
		Field("tool", p.Tool),
		Field(string(p.Op), p.Target),
		Field("risk", riskText(p.Risk)),
	}
	if p.Reason != "" {
		lines = append(lines, Field("reason", p.Reason))
	}
	return promptStyle.Render(strings.Join(lines, "\n"))
}

// Decision renders an engine decision for `policy check`.
func Decision(d policy.Decision) string {
	var action string
	switch d.Action {
	case policy.ActionAllow:
		action = okStyle.Render("allow")
	case policy.ActionDeny:
		action = errStyle.Render("deny")
	default:
		action = warnStyle.Render("ask operator")
	}
	lines := []string{
		Field("decision", action),
		Field("operation", d.Op),
		Field("target", d.Target),
		Field("risk", riskText(d.Risk)),
	}
	if d.Rule != "" {
		lines = append(lines, Field("rule", d.Rule))
	}
	if d.Reason != "" {
		lines = append(lines, Field("reason", d.Reason))
	}
	return strings.Join(lines, "\n")
}

// Table renders rows under a header line with fixed column widths.
func Table(headers []string, widths []int, rows [][]string) string {
	col := func(s string, w int) string {
		return lipgloss.NewStyle().Width(w).MarginRight(1).Render(truncate(s, w))
	}
	var sb strings.Builder
	var hs, seps []string
	for i, h := range headers {
		hs = append(hs, labelStyle.Width(widths[i]).MarginRight(1).Render(h))
		seps = append(seps, mutedStyle.MarginRight(1).Render(strings.Repeat("─", widths[i])))
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, hs...) + "\n")
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, seps...) + "\n")
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = col(v, widths[i])
		}
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...) + "\n")
	}
	return sb.String()
}

func riskText(r policy.RiskClass) string {
	switch r {
	case policy.RiskAlwaysBlocked:
		return errStyle.Render(r.String())
	case policy.RiskRequiresApproval:
		return warnStyle.Render(r.String())
	default:
		return okStyle.Render(r.String())
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 100)
}

func truncate(s string, w int) string {
	r := []rune(s)
	if w <= 0 || len(r) <= w {
		return s
	}
	if w <= 3 {
		return string(r[:w])
	}
	return string(r[:w-3]) + "..."
}
