package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mipustudio/mger-smibot/dispatch"
	"github.com/mipustudio/mger-smibot/guard"
	"github.com/mipustudio/mger-smibot/internal/hosting"
	"github.com/mipustudio/mger-smibot/internal/imagefx"
	"github.com/mipustudio/mger-smibot/internal/logutil"
	"github.com/mipustudio/mger-smibot/internal/telegram"
	"github.com/mipustudio/mger-smibot/llm"
	"github.com/mipustudio/mger-smibot/providers/openai"
	"github.com/mipustudio/mger-smibot/session"
	"github.com/mipustudio/mger-smibot/store"
)

type userJob struct {
	Message  *dispatch.Message
	Callback *dispatch.Callback
}

type userWorker struct {
	Jobs chan userJob
}

func newTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(flagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
			if token == "" {
				return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or SMIBOT_TELEGRAM_BOT_TOKEN)")
			}

			baseURL := strings.TrimRight(strings.TrimSpace(flagOrViperString(cmd, "telegram-base-url", "telegram.base_url")), "/")
			if baseURL == "" {
				baseURL = "https://api.telegram.org"
			}

			adminIDs, err := parseAdminIDs(flagOrViperString(cmd, "admin-ids", "admins"))
			if err != nil {
				return err
			}

			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			dataDir := strings.TrimSpace(flagOrViperString(cmd, "data-dir", "store.dir"))
			if dataDir == "" {
				dataDir = "data"
			}
			st := store.New(dataDir, logger)
			if err := st.Ensure(cmd.Context()); err != nil {
				return fmt.Errorf("prepare data dir: %w", err)
			}

			sessions := session.NewManager()
			access := guard.New(adminIDs, st)

			var llmClient llm.Client
			llmModel := strings.TrimSpace(viper.GetString("llm.model"))
			if apiKey := strings.TrimSpace(viper.GetString("llm.api_key")); apiKey != "" {
				llmClient = openai.New(
					viper.GetString("llm.endpoint"),
					apiKey,
					viper.GetDuration("llm.request_timeout"),
				)
				if llmModel == "" {
					llmModel = "gpt-4o-mini"
				}
			}

			styles, err := dispatch.LoadStyles(strings.TrimSpace(viper.GetString("llm.styles_path")))
			if err != nil {
				return err
			}

			var filter imagefx.Filter
			if endpoint := strings.TrimSpace(viper.GetString("imagefx.endpoint")); endpoint != "" {
				filter = imagefx.NewHTTPFilter(
					endpoint,
					viper.GetDuration("imagefx.timeout"),
					viper.GetInt64("imagefx.max_bytes"),
				)
			}

			var restarter hosting.Restarter
			if hostURL := strings.TrimSpace(viper.GetString("hosting.base_url")); hostURL != "" {
				restarter = hosting.NewClient(
					hostURL,
					strings.TrimSpace(viper.GetString("hosting.bot_id")),
					viper.GetDuration("hosting.timeout"),
				)
			}

			pollTimeout := flagOrViperDuration(cmd, "telegram-poll-timeout", "telegram.poll_timeout")
			if pollTimeout <= 0 {
				pollTimeout = 30 * time.Second
			}
			taskTimeout := flagOrViperDuration(cmd, "telegram-task-timeout", "telegram.task_timeout")
			if taskTimeout <= 0 {
				taskTimeout = 2 * time.Minute
			}
			maxConc := flagOrViperInt(cmd, "telegram-max-concurrency", "telegram.max_concurrency")
			if maxConc <= 0 {
				maxConc = 4
			}
			sem := make(chan struct{}, maxConc)

			maxIdle := viper.GetDuration("sessions.max_idle")
			if maxIdle <= 0 {
				maxIdle = 30 * time.Minute
			}
			sweepInterval := viper.GetDuration("sessions.sweep_interval")
			if sweepInterval <= 0 {
				sweepInterval = 5 * time.Minute
			}

			httpClient := &http.Client{Timeout: 60 * time.Second}
			api := telegram.New(httpClient, baseURL, token)

			router := dispatch.New(dispatch.Config{
				Logger:        logger,
				Store:         st,
				Sessions:      sessions,
				Guard:         access,
				Transport:     &transportAdapter{api: api},
				LLM:           llmClient,
				LLMModel:      llmModel,
				Styles:        styles,
				Filter:        filter,
				Restarter:     restarter,
				PhotoMaxBytes: flagOrViperInt64(cmd, "photo-max-bytes", "imagefx.max_bytes"),
			})

			me, err := api.GetMe(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info("telegram_start",
				"base_url", baseURL,
				"bot_username", me.Username,
				"bot_id", me.ID,
				"data_dir", dataDir,
				"admins", len(adminIDs),
				"poll_timeout", pollTimeout.String(),
				"task_timeout", taskTimeout.String(),
				"max_concurrency", maxConc,
				"llm_enabled", llmClient != nil,
				"imagefx_enabled", filter != nil,
				"hosting_enabled", restarter != nil,
			)

			var (
				mu      sync.Mutex
				workers = make(map[int64]*userWorker)
				offset  int64
			)

			// Per-user serial, across users parallel.
			getOrStartWorkerLocked := func(userID int64) *userWorker {
				if w, ok := workers[userID]; ok && w != nil {
					return w
				}
				w := &userWorker{Jobs: make(chan userJob, 16)}
				workers[userID] = w

				go func(w *userWorker) {
					for job := range w.Jobs {
						sem <- struct{}{}
						func() {
							defer func() { <-sem }()
							ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
							defer cancel()
							switch {
							case job.Message != nil:
								router.HandleMessage(ctx, *job.Message)
							case job.Callback != nil:
								router.HandleCallback(ctx, *job.Callback)
							}
						}()
					}
				}(w)

				return w
			}

			go func() {
				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()
				for range ticker.C {
					if n := sessions.SweepIdle(maxIdle); n > 0 {
						logger.Info("sessions_swept", "count", n, "max_idle", maxIdle.String())
					}
				}
			}()

			for {
				updates, nextOffset, err := api.GetUpdates(context.Background(), offset, pollTimeout)
				if err != nil {
					logger.Warn("telegram_get_updates_error", "error", err.Error())
					time.Sleep(1 * time.Second)
					continue
				}
				offset = nextOffset

				for _, u := range updates {
					job, userID, ok := jobFromUpdate(u)
					if !ok {
						continue
					}
					mu.Lock()
					w := getOrStartWorkerLocked(userID)
					mu.Unlock()
					w.Jobs <- job
				}
			}
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("telegram-base-url", "https://api.telegram.org", "Telegram API base URL.")
	cmd.Flags().Duration("telegram-poll-timeout", 30*time.Second, "Long polling timeout for getUpdates.")
	cmd.Flags().Duration("telegram-task-timeout", 2*time.Minute, "Per-update handling timeout.")
	cmd.Flags().Int("telegram-max-concurrency", 4, "Max updates handled in parallel across users.")
	cmd.Flags().String("admin-ids", "", "Comma-separated administrator user ids.")
	cmd.Flags().String("data-dir", "data", "Directory for the JSON document store.")
	cmd.Flags().Int64("photo-max-bytes", 0, "Max photo size accepted for processing (0 uses default).")

	return cmd
}

// jobFromUpdate reduces a raw update to a routed job keyed by the sender.
// Bots and sender-less updates are skipped.
func jobFromUpdate(u telegram.Update) (userJob, int64, bool) {
	if msg := u.Message; msg != nil && msg.From != nil && msg.Chat != nil {
		if msg.From.IsBot {
			return userJob{}, 0, false
		}
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		m := &dispatch.Message{
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			UserID:    msg.From.ID,
			Username:  msg.From.Username,
			Text:      text,
		}
		m.PhotoFileID = telegram.LargestPhoto(msg)
		return userJob{Message: m}, msg.From.ID, true
	}

	if cb := u.CallbackQuery; cb != nil && cb.From != nil && cb.Message != nil && cb.Message.Chat != nil {
		if cb.From.IsBot {
			return userJob{}, 0, false
		}
		c := &dispatch.Callback{
			ID:        cb.ID,
			ChatID:    cb.Message.Chat.ID,
			MessageID: cb.Message.MessageID,
			UserID:    cb.From.ID,
			Username:  cb.From.Username,
			Data:      cb.Data,
		}
		return userJob{Callback: c}, cb.From.ID, true
	}

	return userJob{}, 0, false
}

// transportAdapter bridges the router's transport interface onto the
// Telegram HTTP client.
type transportAdapter struct {
	api *telegram.Client
}

func (t *transportAdapter) SendMessage(ctx context.Context, chatID int64, text string) error {
	return t.api.SendMessageChunked(ctx, chatID, text)
}

func (t *transportAdapter) SendKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]dispatch.Button) error {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		btns := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, telegram.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, btns)
	}
	return t.api.SendMessageWithKeyboard(ctx, chatID, text, rows)
}

func (t *transportAdapter) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	return t.api.EditMessageText(ctx, chatID, messageID, text)
}

func (t *transportAdapter) AnswerCallback(ctx context.Context, callbackID string) error {
	return t.api.AnswerCallbackQuery(ctx, callbackID)
}

func (t *transportAdapter) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	return t.api.SendPhoto(ctx, chatID, photo, caption)
}

func (t *transportAdapter) DownloadPhoto(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	file, err := t.api.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return t.api.DownloadFile(ctx, file.FilePath, maxBytes)
}
