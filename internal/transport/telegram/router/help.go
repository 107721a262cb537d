package router

import (
	"context"
	"strings"

	"tgbroadcast/pkg/tgui"
)

func (r *Router) helpCommand() Command {
	return Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			var msg tgui.Message
			if len(req.Args) > 0 {
				msg = r.commandHelp(req.Args[0], req.Owner)
			} else {
				msg = HelpMessage(r.Commands(), req.Owner)
			}
			_, err := req.Reply(ctx, msg)
			return err
		},
	}
}

// HelpMessage renders the command list. Owner commands are listed only for
// owners.
func HelpMessage(cmds []Command, owner bool) tgui.Message {
	b := tgui.New().Title("📚", "Commands").Line("Send /help <command> for details.").Blank()
	var locked []Command
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		if c.Access == AccessOwnerOnly {
			locked = append(locked, c)
			continue
		}
		b.RawLine(helpRow(c, ""))
	}
	if owner && len(locked) > 0 {
		b.Blank().RawLine(tgui.B("Owner"))
		for _, c := range locked {
			b.RawLine(helpRow(c, "🔒 "))
		}
	}
	return b.Build()
}

func helpRow(c Command, prefix string) tgui.H {
	row := "• " + prefix + tgui.Code("/"+c.Name).String()
	if d := strings.TrimSpace(c.Description); d != "" {
		row += " - " + tgui.Esc(d).String()
	}
	return tgui.H(row)
}

func (r *Router) commandHelp(name string, owner bool) tgui.Message {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	r.mu.RLock()
	c := r.commands[name]
	r.mu.RUnlock()
	if c == nil || (c.Access == AccessOwnerOnly && !owner) {
		return tgui.New().Title("❓", "Unknown command").Line("Send /help to see the list.").Build()
	}
	b := tgui.New().Title("📚", "/"+c.Name)
	if d := strings.TrimSpace(c.Description); d != "" {
		b.Line(d)
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		b.Blank().RawLine(tgui.B("Usage")).RawLine(tgui.Code(u))
	}
	if len(c.Aliases) > 0 {
		b.Blank().KV("Aliases", "/"+strings.Join(c.Aliases, ", /"))
	}
	return b.Build()
}
