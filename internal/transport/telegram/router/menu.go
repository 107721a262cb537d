package router

import (
	"strings"
	"unicode"

	kit "tgbroadcast/internal/transport"
)

// sanitizeCommand converts a name into a Bot API command: [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// menuCommands lists public commands first, then owner commands marked
// with a lock, keeping registration order within each group.
func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	add := func(c Command, lock bool) {
		name := sanitizeCommand(c.Name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if lock {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	for _, c := range cmds {
		if !c.Hidden && c.Access == AccessEveryone {
			add(c, false)
		}
	}
	for _, c := range cmds {
		if !c.Hidden && c.Access == AccessOwnerOnly {
			add(c, true)
		}
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
