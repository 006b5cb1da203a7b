package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/mipustudio/mger-smibot/guard"
	"github.com/mipustudio/mger-smibot/session"
	"github.com/mipustudio/mger-smibot/store"
)

const (
	adminOnlyMessage = "⛔ This command is for administrators only!"

	maxEventsListed = 10
)

func (r *Router) handleCommand(ctx context.Context, msg Message, text string) error {
	word, args := splitCommand(text)
	switch normalizeSlashCommand(word) {
	case "/start", "/help":
		return r.cmdStart(ctx, msg)
	case "/add":
		return r.cmdAddWhitelist(ctx, msg, args)
	case "/admin":
		return r.cmdAdminPanel(ctx, msg)
	case "/events":
		return r.cmdListEvents(ctx, msg)
	case "/add_event":
		return r.cmdStartAddEvent(ctx, msg)
	case "/delete_event":
		return r.cmdDeleteEvent(ctx, msg, args)
	case "/media":
		return r.cmdStartMediaSearch(ctx, msg)
	case "/add_media":
		return r.cmdAddMedia(ctx, msg, args)
	case "/generate_post":
		return r.cmdStartGeneratePost(ctx, msg)
	case "/restart_bot":
		return r.cmdRestartBot(ctx, msg)
	default:
		r.reply(ctx, msg.ChatID, "Unknown command. Send /help for the list of commands.")
		return nil
	}
}

func (r *Router) cmdStart(ctx context.Context, msg Message) error {
	var welcome string
	if r.guard.IsAdmin(msg.UserID) {
		welcome = "👑 Welcome, administrator!"
	} else {
		welcome = "✅ Welcome! Your access is confirmed."
	}
	help := welcome + "\n\n" +
		"Available commands:\n" +
		"• /admin — admin panel (administrators)\n" +
		"• /add user @username — whitelist a user (administrators)\n" +
		"• /generate_post — create a post with AI\n" +
		"• /events — list events\n" +
		"• /add_event — add an event\n" +
		"• /delete_event <id> — delete an event\n" +
		"• /media — search the media directory\n" +
		"• /add_media <name> <description> — add an outlet (administrators)\n" +
		"• /restart_bot — restart the bot (administrators)\n\n" +
		"Send a photo to have it processed."
	r.reply(ctx, msg.ChatID, help)
	return nil
}

func (r *Router) cmdAddWhitelist(ctx context.Context, msg Message, args string) error {
	if !r.requireAdmin(ctx, msg) {
		return nil
	}
	fields := strings.Fields(args)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "user") {
		r.reply(ctx, msg.ChatID, "Usage: /add user @username")
		return nil
	}
	username := strings.TrimPrefix(fields[1], "@")

	added, err := r.store.AddToWhitelist(ctx, username)
	if err != nil {
		return fmt.Errorf("add to whitelist: %w", err)
	}
	if added {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("✅ User @%s has been whitelisted!", username))
	} else {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("ℹ️ User @%s is already whitelisted.", username))
	}
	return nil
}

func (r *Router) cmdAdminPanel(ctx context.Context, msg Message) error {
	if !r.requireAdmin(ctx, msg) {
		return nil
	}
	keyboard := [][]Button{
		{{Text: "📊 Statistics", Data: "admin_stats"}},
		{{Text: "📝 Manage events", Data: "admin_events"}},
		{{Text: "🏢 Manage media", Data: "admin_media"}},
		{{Text: "🔄 Restart bot", Data: "admin_restart"}},
	}
	return r.transport.SendKeyboard(ctx, msg.ChatID, "👑 Admin panel:", keyboard)
}

func (r *Router) cmdListEvents(ctx context.Context, msg Message) error {
	events, err := r.store.Events(ctx)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		r.reply(ctx, msg.ChatID, "📅 No events yet.")
		return nil
	}

	var b strings.Builder
	b.WriteString("📅 Events:\n\n")
	for i, ev := range events {
		if i >= maxEventsListed {
			break
		}
		date := ev.Date
		if date == "" {
			date = "no date"
		}
		fmt.Fprintf(&b, "• %s (%s) — id %s\n", ev.Title, date, ev.ID)
	}
	r.reply(ctx, msg.ChatID, b.String())
	return nil
}

func (r *Router) cmdStartAddEvent(ctx context.Context, msg Message) error {
	r.sessions.Begin(msg.UserID, session.StateEventTitle)
	r.reply(ctx, msg.ChatID, "📝 Enter the event title:")
	return nil
}

func (r *Router) cmdDeleteEvent(ctx context.Context, msg Message, args string) error {
	id := strings.TrimSpace(args)
	if id == "" {
		r.reply(ctx, msg.ChatID, "Usage: /delete_event <event id>")
		return nil
	}
	removed, err := r.store.DeleteEvent(ctx, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if removed {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Event %s deleted!", id))
	} else {
		r.reply(ctx, msg.ChatID, fmt.Sprintf("❌ No event with id %s.", id))
	}
	return nil
}

func (r *Router) cmdStartMediaSearch(ctx context.Context, msg Message) error {
	r.sessions.Begin(msg.UserID, session.StateMediaQuery)
	r.reply(ctx, msg.ChatID, "🔍 Enter a media search query:")
	return nil
}

func (r *Router) cmdAddMedia(ctx context.Context, msg Message, args string) error {
	if !r.requireAdmin(ctx, msg) {
		return nil
	}
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
		r.reply(ctx, msg.ChatID, "Usage: /add_media <name> <description>")
		return nil
	}

	entry := store.MediaEntry{
		Name:        parts[0],
		Description: strings.TrimSpace(parts[1]),
		AddedBy:     guard.SenderKey(msg.UserID, msg.Username),
	}
	if err := r.store.AddMedia(ctx, entry); err != nil {
		return fmt.Errorf("add media: %w", err)
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Outlet %q added to the directory!", entry.Name))
	return nil
}

func (r *Router) cmdStartGeneratePost(ctx context.Context, msg Message) error {
	if r.llmClient == nil {
		r.reply(ctx, msg.ChatID, "❌ Post generation is currently unavailable (AI backend not configured).")
		return nil
	}
	r.sessions.Begin(msg.UserID, session.StatePostTopic)
	r.reply(ctx, msg.ChatID, "📝 Enter a topic for the post:")
	return nil
}

func (r *Router) cmdRestartBot(ctx context.Context, msg Message) error {
	if !r.requireAdmin(ctx, msg) {
		return nil
	}
	return r.performRestart(ctx, msg.ChatID)
}

func (r *Router) performRestart(ctx context.Context, chatID int64) error {
	if r.restarter == nil {
		r.reply(ctx, chatID, "❌ Restart is unavailable (hosting API not configured).")
		return nil
	}
	r.reply(ctx, chatID, "🔄 Requesting a restart...")

	ack, err := r.restarter.Restart(ctx)
	if err != nil {
		r.logger.Error("restart_error", "error", err.Error())
		r.reply(ctx, chatID, "❌ Restart request failed: "+err.Error())
		return nil
	}
	if ack.OK {
		text := ack.Text()
		if text == "" {
			text = "Bot is restarting"
		}
		r.reply(ctx, chatID, "✅ "+text)
	} else {
		text := ack.Text()
		if text == "" {
			text = "unknown error"
		}
		r.reply(ctx, chatID, "❌ Error: "+text)
	}
	return nil
}

// requireAdmin reports whether the sender is an administrator, sending
// the refusal reply when not.
func (r *Router) requireAdmin(ctx context.Context, msg Message) bool {
	if r.guard.IsAdmin(msg.UserID) {
		return true
	}
	r.reply(ctx, msg.ChatID, adminOnlyMessage)
	return false
}
