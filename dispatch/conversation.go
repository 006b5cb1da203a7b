package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/mipustudio/mger-smibot/guard"
	"github.com/mipustudio/mger-smibot/session"
	"github.com/mipustudio/mger-smibot/store"
)

const maxMediaResults = 5

// continueConversation applies free text to the sender's active workflow:
// record the value under the current state's field, move to the next state
// or commit on the terminal step.
func (r *Router) continueConversation(ctx context.Context, msg Message, text string) error {
	s, ok := r.sessions.Get(msg.UserID)
	if !ok {
		return r.handleDefault(ctx, msg)
	}

	switch s.State {
	case session.StateEventTitle:
		r.sessions.Advance(msg.UserID, "title", text, session.StateEventDescription)
		r.reply(ctx, msg.ChatID, "📄 Enter the event description:")
		return nil

	case session.StateEventDescription:
		r.sessions.Advance(msg.UserID, "description", text, session.StateEventDate)
		r.reply(ctx, msg.ChatID, "📅 Enter the event date (DD.MM.YYYY):")
		return nil

	case session.StateEventDate:
		return r.commitEvent(ctx, msg, text)

	case session.StatePostTopic:
		r.sessions.Advance(msg.UserID, "topic", text, session.StatePostStyle)
		return r.transport.SendKeyboard(ctx, msg.ChatID, "🎨 Choose a post style:", styleKeyboard(r.styles))

	case session.StatePostStyle:
		// The final post step is button-driven.
		r.reply(ctx, msg.ChatID, "Please pick a style using the buttons above.")
		return nil

	case session.StateMediaQuery:
		return r.commitMediaSearch(ctx, msg, text)

	default:
		r.logger.Warn("unknown_session_state", "state", string(s.State), "user_id", msg.UserID)
		r.sessions.Clear(msg.UserID)
		return r.handleDefault(ctx, msg)
	}
}

// commitEvent assembles the event from scratch data plus the final date
// input and persists it. The session survives a failed commit so the user
// can resend the date.
func (r *Router) commitEvent(ctx context.Context, msg Message, date string) error {
	s, ok := r.sessions.Advance(msg.UserID, "date", date, session.StateEventDate)
	if !ok {
		return r.handleDefault(ctx, msg)
	}

	ev := store.Event{
		Title:       s.Scratch["title"],
		Description: s.Scratch["description"],
		Date:        s.Scratch["date"],
		Creator:     guard.SenderKey(msg.UserID, msg.Username),
	}
	id, err := r.store.AddEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("commit event: %w", err)
	}

	r.sessions.Clear(msg.UserID)
	r.logger.Info("event_created",
		"event_id", id,
		"creator", ev.Creator,
		"session_id", s.ID,
	)
	r.reply(ctx, msg.ChatID, fmt.Sprintf("✅ Event added! ID: %s", id))
	return nil
}

func (r *Router) commitMediaSearch(ctx context.Context, msg Message, query string) error {
	results, err := r.store.SearchMedia(ctx, query)
	if err != nil {
		return fmt.Errorf("search media: %w", err)
	}
	r.sessions.Clear(msg.UserID)

	if len(results) == 0 {
		r.reply(ctx, msg.ChatID, "🔍 Nothing found for your query.")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📰 Media matching %q:\n\n", query)
	for i, entry := range results {
		if i >= maxMediaResults {
			break
		}
		fmt.Fprintf(&b, "• %s\n", entry.Name)
		if desc := strings.TrimSpace(entry.Description); desc != "" {
			fmt.Fprintf(&b, "  %s\n", truncateRunes(desc, 50))
		}
		b.WriteString("\n")
	}
	r.reply(ctx, msg.ChatID, b.String())
	return nil
}

func (r *Router) handlePhoto(ctx context.Context, msg Message) error {
	if r.filter == nil {
		r.reply(ctx, msg.ChatID, "❌ Photo processing is currently unavailable.")
		return nil
	}
	r.reply(ctx, msg.ChatID, "🔄 Processing the photo...")

	raw, err := r.transport.DownloadPhoto(ctx, msg.PhotoFileID, r.photoMaxBytes)
	if err != nil {
		return fmt.Errorf("download photo: %w", err)
	}
	filtered, err := r.filter.Apply(ctx, raw)
	if err != nil {
		return fmt.Errorf("apply filter: %w", err)
	}
	if err := r.transport.SendPhoto(ctx, msg.ChatID, filtered, "✅ Photo processed!"); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// handleDefault is the no-match path. It never allocates a session.
func (r *Router) handleDefault(ctx context.Context, msg Message) error {
	r.logger.Debug("unmatched_message", "user_id", msg.UserID, "text_len", len(msg.Text))
	r.reply(ctx, msg.ChatID, "Send /help to see what I can do.")
	return nil
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
