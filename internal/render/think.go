package render

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	openThinkRe  = regexp.MustCompile(`(?s)<think>(.*)$`)
)

// SplitThink separates reasoning blocks from the reply. Multiple blocks are
// joined; an unterminated block at the end (a truncated generation) counts as
// reasoning too.
func SplitThink(content string) (think, response string, found bool) {
	var parts []string
	for _, m := range thinkBlockRe.FindAllStringSubmatch(content, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
		found = true
	}
	rest := thinkBlockRe.ReplaceAllString(content, "")
	if m := openThinkRe.FindStringSubmatch(rest); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
		rest = openThinkRe.ReplaceAllString(rest, "")
		found = true
	}
	if !found {
		return "", content, false
	}
	return strings.Join(parts, "\n\n"), strings.TrimSpace(rest), true
}
