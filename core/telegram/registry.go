package telegram

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Command is an entry of the bot's command menu.
type Command struct {
	Description string
	// Hidden commands still route but stay out of the menu.
	Hidden bool
}

// Registry holds the command menu published with setMyCommands.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// RegisterCommand adds a command; name may be given with or without the slash.
func (r *Registry) RegisterCommand(name string, cmd Command) {
	name = "/" + strings.TrimPrefix(strings.TrimSpace(name), "/")
	if r == nil || name == "/" || (cmd.Description == "" && !cmd.Hidden) {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
}

// ListCommands returns the menu sorted by name, optionally without hidden entries.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for name, meta := range r.commands {
		if visibleOnly && meta.Hidden {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// Commands returns all registered commands.
func (r *Registry) Commands() map[string]Command {
	return r.commands
}

// Reconcile compares the menu with the commands the dispatcher routes. Routed
// commands missing from the menu are added hidden; menu entries nothing
// routes are returned so the caller can fail fast.
func (r *Registry) Reconcile(conv *conversation.Registry) []string {
	routed := make(map[string]struct{})
	for _, name := range conv.Commands() {
		key := "/" + name
		routed[key] = struct{}{}
		if _, ok := r.commands[key]; !ok {
			r.commands[key] = Command{Hidden: true}
		}
	}
	var orphans []string
	for name := range r.commands {
		if _, ok := routed[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	return orphans
}

// SetupCommands publishes the visible menu to Telegram.
func SetupCommands(bot *tele.Bot, reg *Registry) {
	if bot == nil || reg == nil {
		return
	}
	cmds := reg.ListCommands(true)
	if err := bot.SetCommands(cmds); err != nil {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
		return
	}
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelInfo, "register.commands.set",
		slog.Int("count", len(cmds)),
	)
}
