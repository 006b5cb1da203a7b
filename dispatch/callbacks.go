package dispatch

import (
	"context"
	"fmt"

	"github.com/mipustudio/mger-smibot/llm"
	"github.com/mipustudio/mger-smibot/session"
)

const postSystemPrompt = "You are a communications assistant writing short posts " +
	"for a company's public channel. Answer with the post text only, no preamble."

// handleStyleSelection is the terminal step of the post workflow: the
// topic came from the conversation, the style from the button press.
func (r *Router) handleStyleSelection(ctx context.Context, cb Callback, tag string) error {
	s, ok := r.sessions.Get(cb.UserID)
	if !ok || s.State != session.StatePostStyle {
		r.reply(ctx, cb.ChatID, "ℹ️ There is no post in progress. Send /generate_post to start one.")
		return nil
	}
	if r.llmClient == nil {
		r.sessions.Clear(cb.UserID)
		r.reply(ctx, cb.ChatID, "❌ Post generation is currently unavailable (AI backend not configured).")
		return nil
	}
	style, ok := findStyle(r.styles, tag)
	if !ok {
		r.logger.Warn("unknown_style_tag", "tag", tag, "user_id", cb.UserID)
		r.reply(ctx, cb.ChatID, "Please pick a style using the buttons above.")
		return nil
	}
	topic := s.Scratch["topic"]

	if err := r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, "🤖 Generating the post..."); err != nil {
		r.logger.Warn("edit_message_error", "error", err.Error())
	}

	// The workflow ends here whether generation succeeds or not; a retry
	// starts from /generate_post.
	r.sessions.Clear(cb.UserID)

	res, err := r.llmClient.Chat(ctx, llm.Request{
		Model: r.llmModel,
		Messages: []llm.Message{
			{Role: "system", Content: postSystemPrompt},
			{Role: "user", Content: buildPostPrompt(style, topic)},
		},
	})
	if err != nil {
		r.logger.Error("post_generation_error",
			"style", style.Tag,
			"user_id", cb.UserID,
			"error", err.Error(),
		)
		r.reply(ctx, cb.ChatID, "❌ Could not generate the post. Please try again later.")
		return nil
	}

	r.logger.Info("post_generated",
		"style", style.Tag,
		"user_id", cb.UserID,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration_ms", res.Duration.Milliseconds(),
	)
	r.reply(ctx, cb.ChatID, fmt.Sprintf("📋 Generated post (%s):\n\n%s", style.Label, res.Text))
	return nil
}

func (r *Router) handleAdminAction(ctx context.Context, cb Callback, action string) error {
	if !r.guard.IsAdmin(cb.UserID) {
		r.reply(ctx, cb.ChatID, adminOnlyMessage)
		return nil
	}

	switch action {
	case "admin_stats":
		return r.adminStats(ctx, cb)
	case "admin_events":
		return r.adminEvents(ctx, cb)
	case "admin_media":
		return r.adminMedia(ctx, cb)
	case "admin_restart":
		keyboard := [][]Button{{
			{Text: "✅ Yes, restart", Data: callbackConfirmRestart},
			{Text: "❌ No, cancel", Data: callbackCancelRestart},
		}}
		return r.transport.SendKeyboard(ctx, cb.ChatID, "⚠️ Restart the bot?", keyboard)
	default:
		r.logger.Debug("unknown_admin_action", "action", action, "user_id", cb.UserID)
		return nil
	}
}

func (r *Router) adminStats(ctx context.Context, cb Callback) error {
	users, err := r.store.Whitelist(ctx)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}
	events, err := r.store.Events(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	media, err := r.store.Media(ctx)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	text := fmt.Sprintf(
		"📊 Statistics:\n\n• Whitelisted users: %d\n• Events: %d\n• Media outlets: %d\n• Active sessions: %d",
		len(users), len(events), len(media), r.sessions.Active(),
	)
	return r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, text)
}

func (r *Router) adminEvents(ctx context.Context, cb Callback) error {
	events, err := r.store.Events(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID,
			"📅 No events yet. Use /add_event to create one.")
	}

	// Show the most recent entries first.
	start := len(events) - 5
	if start < 0 {
		start = 0
	}
	text := "📝 Latest events:\n\n"
	for i := len(events) - 1; i >= start; i-- {
		ev := events[i]
		text += fmt.Sprintf("• %s — id %s\n", ev.Title, ev.ID)
	}
	text += "\nDelete with /delete_event <id>."
	return r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, text)
}

func (r *Router) adminMedia(ctx context.Context, cb Callback) error {
	media, err := r.store.Media(ctx)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	text := fmt.Sprintf(
		"🏢 Media directory: %d outlets.\n\nAdd with /add_media <name> <description>, search with /media.",
		len(media),
	)
	return r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, text)
}

func (r *Router) handleConfirmRestart(ctx context.Context, cb Callback) error {
	if !r.guard.IsAdmin(cb.UserID) {
		r.reply(ctx, cb.ChatID, adminOnlyMessage)
		return nil
	}
	if err := r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, "🔄 Restart confirmed."); err != nil {
		r.logger.Warn("edit_message_error", "error", err.Error())
	}
	return r.performRestart(ctx, cb.ChatID)
}
