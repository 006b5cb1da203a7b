package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mipustudio/mger-smibot/guard"
	"github.com/mipustudio/mger-smibot/internal/hosting"
	"github.com/mipustudio/mger-smibot/llm"
	"github.com/mipustudio/mger-smibot/session"
	"github.com/mipustudio/mger-smibot/store"
)

const (
	adminID  = int64(100)
	memberID = int64(200)
)

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard [][]Button
	Edited   bool
}

type mockTransport struct {
	sent      []sentMessage
	photos    [][]byte
	answered  []string
	downloads map[string][]byte
	sendErr   error
}

func (m *mockTransport) SendMessage(_ context.Context, chatID int64, text string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (m *mockTransport) SendKeyboard(_ context.Context, chatID int64, text string, keyboard [][]Button) error {
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Keyboard: keyboard})
	return nil
}

func (m *mockTransport) EditMessage(_ context.Context, chatID, _ int64, text string) error {
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Edited: true})
	return nil
}

func (m *mockTransport) AnswerCallback(_ context.Context, callbackID string) error {
	m.answered = append(m.answered, callbackID)
	return nil
}

func (m *mockTransport) SendPhoto(_ context.Context, _ int64, photo []byte, _ string) error {
	m.photos = append(m.photos, photo)
	return nil
}

func (m *mockTransport) DownloadPhoto(_ context.Context, fileID string, _ int64) ([]byte, error) {
	data, ok := m.downloads[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (m *mockTransport) lastText() string {
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockTransport) allText() string {
	var b strings.Builder
	for _, s := range m.sent {
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}

type mockLLM struct {
	lastReq llm.Request
	text    string
	err     error
}

func (m *mockLLM) Chat(_ context.Context, req llm.Request) (llm.Result, error) {
	m.lastReq = req
	if m.err != nil {
		return llm.Result{}, m.err
	}
	return llm.Result{Text: m.text, Duration: 50 * time.Millisecond}, nil
}

type mockFilter struct {
	out []byte
	err error
}

func (m *mockFilter) Apply(_ context.Context, _ []byte) ([]byte, error) {
	return m.out, m.err
}

type mockRestarter struct {
	ack    hosting.Ack
	err    error
	called int
}

func (m *mockRestarter) Restart(_ context.Context) (hosting.Ack, error) {
	m.called++
	return m.ack, m.err
}

type routerFixture struct {
	router    *Router
	store     *store.Store
	sessions  *session.Manager
	transport *mockTransport
	llm       *mockLLM
	restarter *mockRestarter
}

func newFixture(t *testing.T, mutate func(*Config)) *routerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(t.TempDir(), logger)
	require.NoError(t, st.Ensure(context.Background()))

	sessions := session.NewManager()
	transport := &mockTransport{downloads: map[string][]byte{}}
	llmMock := &mockLLM{text: "generated post body"}
	restarter := &mockRestarter{ack: hosting.Ack{OK: true, Message: "Bot is restarting"}}

	cfg := Config{
		Logger:    logger,
		Store:     st,
		Sessions:  sessions,
		Guard:     guard.New([]int64{adminID}, st),
		Transport: transport,
		LLM:       llmMock,
		LLMModel:  "gpt-4o-mini",
		Filter:    &mockFilter{out: []byte("filtered")},
		Restarter: restarter,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &routerFixture{
		router:    New(cfg),
		store:     st,
		sessions:  sessions,
		transport: transport,
		llm:       llmMock,
		restarter: restarter,
	}
}

func msgFrom(userID int64, username, text string) Message {
	return Message{ChatID: userID, UserID: userID, Username: username, Text: text}
}

func cbFrom(userID int64, username, data string) Callback {
	return Callback{ID: "cb-1", ChatID: userID, MessageID: 7, UserID: userID, Username: username, Data: data}
}

func TestDeniedUserGetsRefusalAndNothingElse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(memberID, "stranger", "/add_event"))

	require.Len(t, f.transport.sent, 1)
	require.Equal(t, guard.DeniedMessage, f.transport.lastText())
	require.Equal(t, 0, f.sessions.Active())

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestAdminBypassesWhitelist(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/start"))

	require.Contains(t, f.transport.lastText(), "👑 Welcome, administrator!")
}

func TestAddWhitelistThenUserAllowed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	require.Contains(t, f.transport.lastText(), "@alice has been whitelisted")

	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "/start"))
	require.Contains(t, f.transport.lastText(), "✅ Welcome! Your access is confirmed.")
}

func TestAddWhitelistRejectsNonAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "/add user @bob"))
	require.Equal(t, adminOnlyMessage, f.transport.lastText())

	allowed, err := f.store.IsAllowed(ctx, "bob")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestAddWhitelistUsage(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/add @alice"))

	require.Equal(t, "Usage: /add user @username", f.transport.lastText())
}

func TestEventWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add_event"))
	require.Contains(t, f.transport.lastText(), "Enter the event title")

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "Press breakfast"))
	require.Contains(t, f.transport.lastText(), "Enter the event description")

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "Q3 product briefing"))
	require.Contains(t, f.transport.lastText(), "Enter the event date")

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "14.10.2026"))
	require.Contains(t, f.transport.lastText(), "✅ Event added! ID: 1")
	require.Equal(t, 0, f.sessions.Active())

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Press breakfast", events[0].Title)
	require.Equal(t, "Q3 product briefing", events[0].Description)
	require.Equal(t, "14.10.2026", events[0].Date)
	require.Equal(t, "boss", events[0].Creator)
}

func TestEventWorkflowForWhitelistedUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))

	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "/add_event"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "Meetup"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "Monthly"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "01.01.2030"))

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Meetup", events[0].Title)
	require.Equal(t, "Monthly", events[0].Description)
	require.Equal(t, "01.01.2030", events[0].Date)
	require.Equal(t, "alice", events[0].Creator)
	require.NotEmpty(t, events[0].ID)
	require.False(t, events[0].CreatedAt.IsZero())
}

func TestNewCommandCancelsActiveSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add_event"))
	require.Equal(t, 1, f.sessions.Active())

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/events"))
	require.Equal(t, 0, f.sessions.Active())
	require.Contains(t, f.transport.lastText(), "📅 No events yet.")

	// Free text after the cancel must not resume the old workflow.
	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "orphaned title"))
	require.Contains(t, f.transport.lastText(), "/help")
}

func TestMediaSearchWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.AddMedia(ctx, store.MediaEntry{Name: "Daily Wire", Description: "national news outlet", AddedBy: "boss"}))
	require.NoError(t, f.store.AddMedia(ctx, store.MediaEntry{Name: "Tech Weekly", Description: "technology magazine", AddedBy: "boss"}))

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/media"))
	require.Contains(t, f.transport.lastText(), "Enter a media search query")

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "news"))
	require.Contains(t, f.transport.lastText(), "Daily Wire")
	require.NotContains(t, f.transport.lastText(), "Tech Weekly")
	require.Equal(t, 0, f.sessions.Active())
}

func TestMediaSearchNoResults(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/media"))
	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "nonexistent"))

	require.Contains(t, f.transport.lastText(), "Nothing found")
}

func TestAddMediaAdminOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "/add_media Wire national"))
	require.Equal(t, adminOnlyMessage, f.transport.lastText())

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add_media Wire national news"))
	require.Contains(t, f.transport.lastText(), `"Wire" added`)

	media, err := f.store.Media(ctx)
	require.NoError(t, err)
	require.Len(t, media, 1)
	require.Equal(t, "national news", media[0].Description)
}

func TestPostWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/generate_post"))
	require.Contains(t, f.transport.lastText(), "Enter a topic")

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "our new office opening"))
	last := f.transport.sent[len(f.transport.sent)-1]
	require.Contains(t, last.Text, "Choose a post style")
	require.Len(t, last.Keyboard, 4)
	require.Equal(t, "style_official", last.Keyboard[0][0].Data)

	f.router.HandleCallback(ctx, cbFrom(adminID, "boss", "style_friendly"))
	require.Contains(t, f.transport.lastText(), "generated post body")
	require.Contains(t, f.transport.lastText(), "😊 Friendly")
	require.Equal(t, 0, f.sessions.Active())

	require.Equal(t, "gpt-4o-mini", f.llm.lastReq.Model)
	require.Len(t, f.llm.lastReq.Messages, 2)
	require.Contains(t, f.llm.lastReq.Messages[1].Content, "our new office opening")
	require.Contains(t, f.llm.lastReq.Messages[1].Content, "friendly")

	require.Equal(t, []string{"cb-1"}, f.transport.answered)
}

func TestPostWorkflowFreeTextDuringStyleStep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/generate_post"))
	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "topic"))
	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "friendly please"))

	require.Contains(t, f.transport.lastText(), "pick a style using the buttons")
	require.Equal(t, 1, f.sessions.Active())
}

func TestPostGenerationFailureClearsSession(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.err = errors.New("backend down")
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/generate_post"))
	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "topic"))
	f.router.HandleCallback(ctx, cbFrom(adminID, "boss", "style_news"))

	require.Contains(t, f.transport.lastText(), "Could not generate the post")
	require.Equal(t, 0, f.sessions.Active())
}

func TestGeneratePostUnavailableWithoutLLM(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.LLM = nil })

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/generate_post"))

	require.Contains(t, f.transport.lastText(), "Post generation is currently unavailable")
	require.Equal(t, 0, f.sessions.Active())
}

func TestStyleCallbackWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleCallback(context.Background(), cbFrom(adminID, "boss", "style_official"))

	require.Contains(t, f.transport.lastText(), "no post in progress")
}

func TestDeleteEventNotFound(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/delete_event 42"))

	require.Contains(t, f.transport.lastText(), "No event with id 42")
}

func TestDeleteEventRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.store.AddEvent(ctx, store.Event{Title: "Launch"})
	require.NoError(t, err)

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/delete_event "+id))
	require.Contains(t, f.transport.lastText(), "Event "+id+" deleted")

	events, err := f.store.Events(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestPhotoProcessing(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.downloads["file-1"] = []byte("rawbytes")

	f.router.HandleMessage(context.Background(), Message{
		ChatID: adminID, UserID: adminID, Username: "boss", PhotoFileID: "file-1",
	})

	require.Contains(t, f.transport.allText(), "Processing the photo")
	require.Equal(t, [][]byte{[]byte("filtered")}, f.transport.photos)
}

func TestPhotoUnavailableWithoutFilter(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Filter = nil })

	f.router.HandleMessage(context.Background(), Message{
		ChatID: adminID, UserID: adminID, Username: "boss", PhotoFileID: "file-1",
	})

	require.Contains(t, f.transport.lastText(), "Photo processing is currently unavailable")
	require.Empty(t, f.transport.photos)
}

func TestRestartCommand(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/restart_bot"))

	require.Equal(t, 1, f.restarter.called)
	require.Contains(t, f.transport.lastText(), "✅ Bot is restarting")
}

func TestRestartAdminOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	f.router.HandleMessage(ctx, msgFrom(memberID, "alice", "/restart_bot"))

	require.Equal(t, 0, f.restarter.called)
	require.Equal(t, adminOnlyMessage, f.transport.lastText())
}

func TestRestartCallbackFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleCallback(ctx, cbFrom(adminID, "boss", "admin_restart"))
	last := f.transport.sent[len(f.transport.sent)-1]
	require.Contains(t, last.Text, "Restart the bot?")
	require.Equal(t, callbackConfirmRestart, last.Keyboard[0][0].Data)

	f.router.HandleCallback(ctx, cbFrom(adminID, "boss", "confirm_restart"))
	require.Equal(t, 1, f.restarter.called)
	require.Contains(t, f.transport.lastText(), "Bot is restarting")
}

func TestRestartCallbackCancel(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleCallback(context.Background(), cbFrom(adminID, "boss", "cancel_restart"))

	require.Equal(t, 0, f.restarter.called)
	require.Contains(t, f.transport.lastText(), "Restart canceled")
}

func TestRestartNotOK(t *testing.T) {
	f := newFixture(t, nil)
	f.restarter.ack = hosting.Ack{OK: false, Msg: "maintenance window"}

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/restart_bot"))

	require.Contains(t, f.transport.lastText(), "❌ Error: maintenance window")
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	_, err := f.store.AddEvent(ctx, store.Event{Title: "Launch"})
	require.NoError(t, err)

	f.router.HandleCallback(ctx, cbFrom(adminID, "boss", "admin_stats"))

	last := f.transport.sent[len(f.transport.sent)-1]
	require.True(t, last.Edited)
	require.Contains(t, last.Text, "Whitelisted users: 1")
	require.Contains(t, last.Text, "Events: 1")
	require.Contains(t, last.Text, "Media outlets: 0")
}

func TestAdminActionsRejectNonAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.router.HandleMessage(ctx, msgFrom(adminID, "boss", "/add user @alice"))
	f.router.HandleCallback(ctx, cbFrom(memberID, "alice", "admin_stats"))

	require.Equal(t, adminOnlyMessage, f.transport.lastText())
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/bogus"))

	require.Contains(t, f.transport.lastText(), "Unknown command")
}

func TestCommandWithBotSuffix(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "/events@smibot"))

	require.Contains(t, f.transport.lastText(), "No events yet")
}

func TestPlainTextWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	f.router.HandleMessage(context.Background(), msgFrom(adminID, "boss", "hello there"))

	require.Contains(t, f.transport.lastText(), "/help")
	require.Equal(t, 0, f.sessions.Active())
}
