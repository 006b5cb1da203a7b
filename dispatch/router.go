// Package dispatch routes inbound chat events to handlers. Matching runs
// in a fixed priority order: explicit command, then the active
// conversation's expected continuation, then photo attachments, then a
// default path. Every inbound event passes the access guard first.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mipustudio/mger-smibot/guard"
	"github.com/mipustudio/mger-smibot/internal/hosting"
	"github.com/mipustudio/mger-smibot/internal/imagefx"
	"github.com/mipustudio/mger-smibot/llm"
	"github.com/mipustudio/mger-smibot/session"
	"github.com/mipustudio/mger-smibot/store"
)

// Message is an inbound text or photo message, already reduced to the
// fields the router cares about.
type Message struct {
	ChatID      int64
	MessageID   int64
	UserID      int64
	Username    string
	Text        string
	PhotoFileID string
}

// Callback is an inbound button press.
type Callback struct {
	ID        string
	ChatID    int64
	MessageID int64
	UserID    int64
	Username  string
	Data      string
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Transport is the outbound side of the chat platform. SendMessage is
// expected to handle platform message-size limits itself.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]Button) error
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
	DownloadPhoto(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

const defaultPhotoMaxBytes = int64(20 * 1024 * 1024)

type Config struct {
	Logger    *slog.Logger
	Store     *store.Store
	Sessions  *session.Manager
	Guard     *guard.Guard
	Transport Transport

	// Optional collaborators; nil means the capability is unavailable
	// and the matching handlers degrade to a clear reply.
	LLM       llm.Client
	LLMModel  string
	Styles    []PostStyle
	Filter    imagefx.Filter
	Restarter hosting.Restarter

	PhotoMaxBytes int64
}

type Router struct {
	logger    *slog.Logger
	store     *store.Store
	sessions  *session.Manager
	guard     *guard.Guard
	transport Transport

	llmClient llm.Client
	llmModel  string
	styles    []PostStyle
	filter    imagefx.Filter
	restarter hosting.Restarter

	photoMaxBytes int64
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	styles := cfg.Styles
	if len(styles) == 0 {
		styles = DefaultStyles()
	}
	photoMax := cfg.PhotoMaxBytes
	if photoMax <= 0 {
		photoMax = defaultPhotoMaxBytes
	}
	return &Router{
		logger:        logger,
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		guard:         cfg.Guard,
		transport:     cfg.Transport,
		llmClient:     cfg.LLM,
		llmModel:      cfg.LLMModel,
		styles:        styles,
		filter:        cfg.Filter,
		restarter:     cfg.Restarter,
		photoMaxBytes: photoMax,
	}
}

// HandleMessage runs one inbound message through guard, matcher and
// handler. Handler errors never escape: they are logged and converted to
// a reply so the event loop stays alive.
func (r *Router) HandleMessage(ctx context.Context, msg Message) {
	allowed, err := r.guard.Check(ctx, msg.UserID, msg.Username)
	if err != nil {
		r.logger.Error("guard_check_error", "user_id", msg.UserID, "error", err.Error())
		r.reply(ctx, msg.ChatID, genericErrorMessage)
		return
	}
	if !allowed {
		r.logger.Info("access_denied", "user_id", msg.UserID, "username", msg.Username)
		r.reply(ctx, msg.ChatID, guard.DeniedMessage)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/"):
		// A new top-level command always cancels an active conversation.
		r.sessions.Clear(msg.UserID)
		err = r.handleCommand(ctx, msg, text)
	case r.hasActiveSession(msg.UserID) && text != "":
		err = r.continueConversation(ctx, msg, text)
	case msg.PhotoFileID != "":
		err = r.handlePhoto(ctx, msg)
	default:
		err = r.handleDefault(ctx, msg)
	}
	if err != nil {
		r.logger.Error("handler_error",
			"user_id", msg.UserID,
			"chat_id", msg.ChatID,
			"error", err.Error(),
		)
		r.reply(ctx, msg.ChatID, genericErrorMessage)
	}
}

// HandleCallback runs one button press. The callback is acknowledged in
// all cases so the client stops its spinner.
func (r *Router) HandleCallback(ctx context.Context, cb Callback) {
	defer func() {
		if err := r.transport.AnswerCallback(ctx, cb.ID); err != nil {
			r.logger.Warn("answer_callback_error", "error", err.Error())
		}
	}()

	allowed, err := r.guard.Check(ctx, cb.UserID, cb.Username)
	if err != nil {
		r.logger.Error("guard_check_error", "user_id", cb.UserID, "error", err.Error())
		return
	}
	if !allowed {
		r.logger.Info("access_denied", "user_id", cb.UserID, "username", cb.Username)
		r.reply(ctx, cb.ChatID, guard.DeniedMessage)
		return
	}

	data := strings.TrimSpace(cb.Data)
	switch {
	case strings.HasPrefix(data, callbackStylePrefix):
		err = r.handleStyleSelection(ctx, cb, strings.TrimPrefix(data, callbackStylePrefix))
	case strings.HasPrefix(data, "admin_"):
		err = r.handleAdminAction(ctx, cb, data)
	case data == callbackConfirmRestart:
		err = r.handleConfirmRestart(ctx, cb)
	case data == callbackCancelRestart:
		err = r.transport.EditMessage(ctx, cb.ChatID, cb.MessageID, "❌ Restart canceled.")
	default:
		r.logger.Debug("unknown_callback", "data", data, "user_id", cb.UserID)
	}
	if err != nil {
		r.logger.Error("callback_error",
			"user_id", cb.UserID,
			"data", data,
			"error", err.Error(),
		)
		r.reply(ctx, cb.ChatID, genericErrorMessage)
	}
}

func (r *Router) hasActiveSession(userID int64) bool {
	s, ok := r.sessions.Get(userID)
	return ok && s.State != session.StateNone
}

// reply is the best-effort send used for handler results and error
// surfaces; delivery failures are logged, never propagated.
func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if err := r.transport.SendMessage(ctx, chatID, text); err != nil {
		r.logger.Warn("send_error", "chat_id", chatID, "error", err.Error())
	}
}

const genericErrorMessage = "⚠️ Something went wrong. Please try again."

// splitCommand splits "/cmd rest of line" into the command word and the
// remainder.
func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}

// normalizeSlashCommand lowercases a command word and strips a trailing
// @botname suffix.
func normalizeSlashCommand(cmd string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}
