package policy

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule maps a command pattern to a risk class.
type Rule struct {
	Name    string
	Class   RiskClass
	Network bool
	Reason  string

	re       *regexp.Regexp
	contains string
}

// Matches reports whether the rule applies to command.
func (r Rule) Matches(command string) bool {
	if r.re != nil {
		return r.re.MatchString(command)
	}
	if r.contains != "" {
		return strings.Contains(command, r.contains)
	}
	return false
}

// Classification is the classifier output for a single command or path.
type Classification struct {
	Risk    RiskClass
	Network bool
	Rule    string
	Reason  string
}

// Classifier assigns risk classes. It holds no mutable state after construction.
type Classifier struct {
	rules     []Rule
	sensitive []string
}

// NewClassifier builds a classifier from command rules and sensitive path globs.
func NewClassifier(rules []Rule, sensitivePaths []string) *Classifier {
	globs := make([]string, 0, len(sensitivePaths))
	for _, g := range sensitivePaths {
		g = strings.TrimSpace(filepath.ToSlash(g))
		if g == "" || !doublestar.ValidatePattern(g) {
			continue
		}
		globs = append(globs, strings.TrimPrefix(g, "/"))
	}
	return &Classifier{rules: append([]Rule(nil), rules...), sensitive: globs}
}

// DefaultClassifier uses the built-in rule set and no sensitive paths.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules(), nil)
}

// Rules returns a copy of the active rule set.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ClassifyCommand matches command against every rule. When several rules
// match, the most restrictive class wins; on equal class the first rule wins.
// Network is set when any matching rule is a network rule.
func (c *Classifier) ClassifyCommand(command string) Classification {
	out := Classification{Risk: RiskSafe}
	command = strings.TrimSpace(command)
	if command == "" {
		return out
	}
	matched := false
	for _, rule := range c.rules {
		if !rule.Matches(command) {
			continue
		}
		if rule.Network {
			out.Network = true
		}
		if !matched || rule.Class > out.Risk {
			out.Risk = rule.Class
			out.Rule = rule.Name
			out.Reason = rule.Reason
			matched = true
		}
	}
	return out
}

// ClassifyPath classifies a canonical path for op. rel is the path relative
// to the workspace root and is only meaningful when inside is true. A write
// outside the workspace is never safe.
func (c *Classifier) ClassifyPath(op OpKind, resolved, rel string, inside bool) Classification {
	if op != OpWrite {
		return Classification{Risk: RiskSafe}
	}
	if !inside {
		return Classification{
			Risk:   RiskRequiresApproval,
			Rule:   "outside-workspace",
			Reason: "path is outside the workspace",
		}
	}
	if glob, ok := c.sensitiveMatch(resolved, rel); ok {
		return Classification{
			Risk:   RiskRequiresApproval,
			Rule:   "sensitive-path",
			Reason: "path matches sensitive pattern " + glob,
		}
	}
	return Classification{Risk: RiskSafe}
}

func (c *Classifier) sensitiveMatch(resolved, rel string) (string, bool) {
	candidates := []string{strings.TrimPrefix(filepath.ToSlash(resolved), "/")}
	if rel != "" {
		candidates = append(candidates, filepath.ToSlash(rel))
	}
	for _, glob := range c.sensitive {
		for _, name := range candidates {
			if ok, _ := doublestar.Match(glob, name); ok {
				return glob, true
			}
		}
	}
	return "", false
}

var commandBoundary = "(?:^|[\\s;&|(`/])"

// commandWord matches name as a command word, including after a path prefix
// such as /usr/bin/.
func commandWord(name string) string {
	return commandBoundary + "(?:" + name + ")(?:[\\s;&|)]|$)"
}

func mustRule(name string, class RiskClass, network bool, reason, pattern string) Rule {
	return Rule{Name: name, Class: class, Network: network, Reason: reason, re: regexp.MustCompile(pattern)}
}

// DefaultRules returns the built-in command rules. The lists are illustrative
// and can be extended or replaced with a rules file.
func DefaultRules() []Rule {
	return []Rule{
		mustRule("privilege-escalation", RiskAlwaysBlocked, false,
			"superuser elevation",
			commandWord(`sudo|doas|pkexec|su`)),
		mustRule("filesystem-format", RiskAlwaysBlocked, false,
			"filesystem format",
			commandBoundary+`(?:mkfs(?:\.\w+)?|mke2fs|mkswap|wipefs|fdisk|sfdisk|parted)(?:\s|$)`),
		mustRule("windows-format", RiskAlwaysBlocked, false,
			"filesystem format",
			`(?i)(?:^|[\s;&|(])format\s+[a-z]:`),
		mustRule("raw-device-copy", RiskAlwaysBlocked, false,
			"raw device write",
			commandBoundary+`dd\s+[^;&|]*\b(?:if|of)=`),
		mustRule("device-write", RiskAlwaysBlocked, false,
			"direct write to a device file",
			`>\s*/dev/(?:sd|hd|nvme|disk|mmcblk|xvd|vd|mem|kmem|port)`),
		mustRule("system-power", RiskAlwaysBlocked, false,
			"system shutdown or reboot",
			commandWord(`shutdown|reboot|halt|poweroff`)),
		mustRule("init-runlevel", RiskAlwaysBlocked, false,
			"system shutdown or reboot",
			commandBoundary+`(?:init|telinit)\s+[06](?:\s|$)`),
		mustRule("systemctl-power", RiskAlwaysBlocked, false,
			"system shutdown or reboot",
			commandBoundary+`systemctl\s+(?:reboot|poweroff|halt|kexec)`),
		mustRule("fork-bomb", RiskAlwaysBlocked, false,
			"fork bomb",
			`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		mustRule("no-preserve-root", RiskAlwaysBlocked, false,
			"recursive delete of the filesystem root",
			`--no-preserve-root`),
		mustRule("delete-root", RiskAlwaysBlocked, false,
			"recursive delete of the filesystem root or home",
			commandBoundary+`rm\s+(?:-\S+\s+)+(?:/|/\*|~|~/|~/\*|\$HOME|\$HOME/\*?)(?:\s|$)`),
		mustRule("recursive-force-delete", RiskRequiresApproval, false,
			"recursive force delete",
			commandBoundary+`rm\s+(?:\S+\s+)*?-(?:[a-zA-Z]*[rR][a-zA-Z]*f|[a-zA-Z]*f[a-zA-Z]*[rR])`),
		mustRule("recursive-force-delete-split", RiskRequiresApproval, false,
			"recursive force delete",
			commandBoundary+`rm\s+(?:\S+\s+)*?(?:-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)\s+(?:\S+\s+)*?(?:-[a-zA-Z]*f[a-zA-Z]*|--force)(?:\s|$)`),
		mustRule("recursive-force-delete-reversed", RiskRequiresApproval, false,
			"recursive force delete",
			commandBoundary+`rm\s+(?:\S+\s+)*?(?:-[a-zA-Z]*f[a-zA-Z]*|--force)\s+(?:\S+\s+)*?(?:-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)(?:\s|$)`),
		mustRule("network-transfer", RiskRequiresApproval, true,
			"outbound network access",
			commandWord(`curl|wget|nc|ncat|netcat|ssh|scp|sftp|rsync|ftp|telnet|socat`)),
		mustRule("git-remote", RiskRequiresApproval, true,
			"outbound network access",
			commandBoundary+`git\s+(?:clone|fetch|pull|push|ls-remote)(?:\s|$)`),
	}
}
