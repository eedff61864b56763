package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/config"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/admission"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/conversation"
	"github.com/magabrotheeeer/terabox-bot/internal/services/download"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/storagetest"
	"github.com/magabrotheeeer/terabox-bot/internal/telegram"
)

const adminID = 1000

type sentMessage struct {
	chatID int64
	text   string
}

type fakeChat struct {
	mu      sync.Mutex
	sent    []sentMessage
	updates chan []telegram.Update
}

func newFakeChat() *fakeChat {
	return &fakeChat{updates: make(chan []telegram.Update, 4)}
}

func (c *fakeChat) GetUpdates(ctx context.Context, _ int64, _ time.Duration) ([]telegram.Update, error) {
	select {
	case u := <-c.updates:
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChat) SendMessage(_ context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

// Last возвращает последнее сообщение в чат и очищает историю.
func (c *fakeChat) Last(t *testing.T, chatID int64) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var last string
	found := false
	for _, m := range c.sent {
		if m.chatID == chatID {
			last = m.text
			found = true
		}
	}
	c.sent = nil
	require.True(t, found, "нет сообщений в чат %d", chatID)
	return last
}

func (c *fakeChat) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type MockDownloader struct {
	mock.Mock
}

func (m *MockDownloader) Process(ctx context.Context, req download.Request, progress func(download.State)) (download.Result, error) {
	args := m.Called(ctx, req, progress)
	return args.Get(0).(download.Result), args.Error(1)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []broadcast.Job
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job broadcast.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

type env struct {
	bot        *Bot
	chat       *fakeChat
	subs       *subscription.Service
	downloader *MockDownloader
	dispatcher *fakeDispatcher
}

func setup(t *testing.T, cfg Config) *env {
	t.Helper()
	c := cache.New(storagetest.NewMemory(storagetest.Fixture()), sl.Discard(), cache.Options{
		Now: func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) },
	})
	subs := subscription.NewService(c, sl.Discard(), subscription.Options{
		FreeDailyLimit: 5,
		NewToken:       func() string { return "NEWKEY000001" },
	})
	if cfg.Plans == nil {
		cfg.Plans = config.DefaultPlans
	}
	cfg.AdminIDs = append(cfg.AdminIDs, adminID)
	cfg.FreeDailyLimit = 5
	cfg.MaxSizeMB = 50
	cfg.ContactText = "Contact admin: @admin"

	chat := newFakeChat()
	dl := new(MockDownloader)
	disp := &fakeDispatcher{}
	b := New(chat, subs, dl, disp, conversation.New(time.Minute, nil), sl.Discard(), cfg)
	return &env{bot: b, chat: chat, subs: subs, downloader: dl, dispatcher: disp}
}

func (e *env) send(userID int64, text string) {
	e.bot.HandleUpdate(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			From: &telegram.User{ID: userID, Username: "bob", FirstName: "Bob"},
			Chat: telegram.Chat{ID: userID},
			Text: text,
		},
	})
}

func TestStart_RegistersUser(t *testing.T) {
	e := setup(t, Config{})
	e.send(5, "/start")

	assert.Contains(t, e.chat.Last(t, 5), "Hi, Bob")
	st, err := e.subs.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "bob", st.User.Username)
}

func TestInfoCommands(t *testing.T) {
	e := setup(t, Config{})

	e.send(5, "/help")
	assert.Contains(t, e.chat.Last(t, 5), "How to use")

	e.send(5, "/contact")
	assert.Equal(t, "📞 Contact admin: @admin", e.chat.Last(t, 5))

	e.send(5, "/subscription")
	plans := e.chat.Last(t, 5)
	daily := strings.Index(plans, "daily")
	monthly := strings.Index(plans, "monthly")
	yearly := strings.Index(plans, "yearly")
	assert.True(t, daily < monthly && monthly < yearly, "планы упорядочены по длительности")

	e.send(5, "/nope")
	assert.Contains(t, e.chat.Last(t, 5), "Unknown command")
}

func TestClaim(t *testing.T) {
	e := setup(t, Config{})

	e.send(5, "/claim free1")
	assert.Contains(t, e.chat.Last(t, 5), "1 day added")

	e.send(6, "/claim FREE1")
	assert.Equal(t, "❌ This key has already been used.", e.chat.Last(t, 6))

	e.send(6, "/claim NOPE")
	assert.Equal(t, "❌ Invalid access key.", e.chat.Last(t, 6))
}

func TestClaim_Conversation(t *testing.T) {
	e := setup(t, Config{})

	e.send(5, "/claim")
	assert.Equal(t, msgEnterKey, e.chat.Last(t, 5))

	e.send(5, " free1 ")
	assert.Contains(t, e.chat.Last(t, 5), "Premium activated")

	st, err := e.subs.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, st.Active)
}

func TestMyPlan(t *testing.T) {
	e := setup(t, Config{})

	e.send(7, "/myplan")
	free := e.chat.Last(t, 7)
	assert.Contains(t, free, "free user")
	assert.Contains(t, free, "Remaining today: 5", "счётчик вчерашнего дня сброшен")

	e.send(42, "/myplan")
	assert.Contains(t, e.chat.Last(t, 42), "30 days</b> remaining")

	e.send(99, "/myplan")
	assert.Contains(t, e.chat.Last(t, 99), "unlimited")
}

func TestAdminCommands_RejectedForUsers(t *testing.T) {
	e := setup(t, Config{})
	for _, cmd := range []string{"/genkey monthly", "/listkeys", "/delkey FREE1", "/adduser 5 monthly", "/removeuser 42", "/broadcast hi"} {
		e.send(5, cmd)
	}
	assert.Equal(t, 0, e.chat.Count(), "команды администратора молча игнорируются")
	assert.Empty(t, e.dispatcher.jobs)
}

func TestAdminCommands_Keys(t *testing.T) {
	e := setup(t, Config{})

	e.send(adminID, "/genkey")
	assert.Contains(t, e.chat.Last(t, adminID), "Usage")

	e.send(adminID, "/genkey weekly")
	assert.Equal(t, msgInvalidPlan, e.chat.Last(t, adminID))

	e.send(adminID, "/genkey Monthly")
	assert.Equal(t, "✅ Key:\n<code>NEWKEY000001</code>\nPlan: monthly", e.chat.Last(t, adminID))

	e.send(adminID, "/listkeys")
	list := e.chat.Last(t, adminID)
	assert.Contains(t, list, "<code>ABC123</code> (30d) - Used by 42")
	assert.Contains(t, list, "<code>FREE1</code> (1d) - Available")
	assert.Contains(t, list, "NEWKEY000001")

	e.send(adminID, "/delkey abc123")
	assert.Contains(t, e.chat.Last(t, adminID), "cannot be deleted")

	e.send(adminID, "/delkey free1")
	assert.Equal(t, "✅ Key <code>FREE1</code> deleted.", e.chat.Last(t, adminID))

	e.send(adminID, "/delkey free1")
	assert.Equal(t, "❌ Invalid access key.", e.chat.Last(t, adminID))
}

func TestAdminCommands_Users(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()

	e.send(adminID, "/adduser 77 yearly")
	assert.Equal(t, "✅ User 77 added to yearly plan.", e.chat.Last(t, adminID))
	st, err := e.subs.Status(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, 365, st.DaysLeft)

	e.send(adminID, "/adduser abc yearly")
	assert.Equal(t, msgInvalidID, e.chat.Last(t, adminID))

	e.send(adminID, "/adduser 77 weekly")
	assert.Equal(t, msgInvalidPlan, e.chat.Last(t, adminID))

	e.send(adminID, "/removeuser 77")
	assert.Equal(t, "✅ User 77 removed.", e.chat.Last(t, adminID))
	st, err = e.subs.Status(ctx, 77)
	require.NoError(t, err)
	assert.False(t, st.Active)

	e.send(adminID, "/removeuser x")
	assert.Equal(t, msgInvalidID, e.chat.Last(t, adminID))
}

func TestAdminCommands_AddUserConversation(t *testing.T) {
	e := setup(t, Config{})

	e.send(adminID, "/adduser monthly")
	assert.Equal(t, msgEnterUserID, e.chat.Last(t, adminID))

	e.send(adminID, "555")
	assert.Equal(t, "✅ User 555 added to monthly plan.", e.chat.Last(t, adminID))

	st, err := e.subs.Status(context.Background(), 555)
	require.NoError(t, err)
	assert.True(t, st.Active)
}

func TestBroadcast(t *testing.T) {
	e := setup(t, Config{})

	e.send(adminID, "/broadcast")
	assert.Contains(t, e.chat.Last(t, adminID), "Usage")

	e.send(adminID, "/broadcast Hello everyone\nsecond line")
	assert.Equal(t, msgBroadcasting, e.chat.Last(t, adminID))
	require.Len(t, e.dispatcher.jobs, 1)
	assert.Equal(t, "Hello everyone\nsecond line", e.dispatcher.jobs[0].Text)
	assert.Equal(t, int64(adminID), e.dispatcher.jobs[0].ReplyChatID)
}

func TestDownload(t *testing.T) {
	e := setup(t, Config{})
	link := "https://terabox.com/s/1abc"

	e.downloader.On("Process", mock.Anything, download.Request{UserID: 5, ChatID: 5, Link: link}, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(2).(func(download.State))(download.StateExtracting)
		}).
		Return(download.Result{State: download.StateCompleted}, nil).Once()

	e.send(5, link)
	assert.Equal(t, msgProcessing, e.chat.Last(t, 5), "после успешной отправки видео дополнительных сообщений нет")
	e.downloader.AssertExpectations(t)
}

func TestDownload_ErrorMessages(t *testing.T) {
	e := setup(t, Config{})

	e.downloader.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(download.Result{State: download.StateRejected}, fmt.Errorf("op: %w", admission.ErrQuotaExceeded)).Once()

	e.send(5, "https://terabox.com/s/1abc")
	assert.Contains(t, e.chat.Last(t, 5), "Daily limit reached")
}

func TestRateLimit(t *testing.T) {
	e := setup(t, Config{MessageRate: 0.001, MessageBurst: 2})

	e.send(5, "/help")
	e.send(5, "/help")
	e.chat.Last(t, 5)

	e.send(5, "/help")
	assert.Equal(t, msgSlowDown, e.chat.Last(t, 5))

	e.send(6, "/help")
	assert.Contains(t, e.chat.Last(t, 6), "How to use", "лимит у каждого пользователя свой")
}

func TestHandleUpdate_IgnoresNonUserMessages(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()

	e.bot.HandleUpdate(ctx, telegram.Update{})
	e.bot.HandleUpdate(ctx, telegram.Update{Message: &telegram.Message{Text: "/start"}})
	e.bot.HandleUpdate(ctx, telegram.Update{Message: &telegram.Message{From: &telegram.User{ID: 1, IsBot: true}, Text: "/start"}})
	e.bot.HandleUpdate(ctx, telegram.Update{Message: &telegram.Message{From: &telegram.User{ID: 1}, Text: "  "}})
	assert.Equal(t, 0, e.chat.Count())
}

func TestRun_HandlesUpdatesUntilCancelled(t *testing.T) {
	e := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	e.chat.updates <- []telegram.Update{{
		UpdateID: 10,
		Message: &telegram.Message{
			From: &telegram.User{ID: 5},
			Chat: telegram.Chat{ID: 5},
			Text: "/help",
		},
	}}

	done := make(chan error, 1)
	go func() { done <- e.bot.Run(ctx) }()

	require.Eventually(t, func() bool { return e.chat.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("бот не остановился")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
		rest string
	}{
		{"/start", "start", nil, ""},
		{"/claim ABC", "claim", []string{"ABC"}, "ABC"},
		{"/GenKey@terabox_bot monthly", "genkey", []string{"monthly"}, "monthly"},
		{"/broadcast  hi  there ", "broadcast", []string{"hi", "there"}, "hi  there"},
		{"/broadcast\nline", "broadcast", []string{"line"}, "line"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, args, rest := parseCommand(tt.text)
			assert.Equal(t, tt.name, name)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestUserMessage(t *testing.T) {
	e := setup(t, Config{})
	tests := []struct {
		err  error
		want string
	}{
		{download.ErrInvalidLink, "valid Terabox link"},
		{admission.ErrQuotaExceeded, "5 downloads per day"},
		{admission.ErrTooLarge, "Max: 50 MB"},
		{subscription.ErrKeyNotFound, "Invalid access key"},
		{subscription.ErrKeyAlreadyUsed, "already been used"},
		{download.ErrUpstream, "Failed to fetch"},
		{errors.Join(storage.ErrStorage, errors.New("disk")), "temporarily unavailable"},
		{context.DeadlineExceeded, "timed out"},
		{errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Contains(t, e.bot.userMessage(fmt.Errorf("op: %w", tt.err)), tt.want)
		})
	}
}

func TestUserLimiter_Sweep(t *testing.T) {
	l := newUserLimiter(1, 1)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	assert.True(t, l.Allow(1, now))
	assert.True(t, l.Allow(2, now.Add(5*time.Minute)))

	assert.Equal(t, 1, l.Sweep(now.Add(11*time.Minute), 10*time.Minute))
	assert.Equal(t, 1, l.Len())
}
