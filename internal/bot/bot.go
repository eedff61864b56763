// Package bot принимает обновления чат-платформы и маршрутизирует команды
// пользователей и администраторов к сервисам.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/conversation"
	"github.com/magabrotheeeer/terabox-bot/internal/services/download"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/telegram"
)

const (
	// listKeysLimit сколько ключей показывает /listkeys.
	listKeysLimit  = 20
	pollRetryDelay = 3 * time.Second
	sweepInterval  = time.Minute
	limiterIdle    = 10 * time.Minute
)

// Chat клиент чат-платформы.
type Chat interface {
	GetUpdates(ctx context.Context, offset int64, pollTimeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Subscriptions сервис подписок.
type Subscriptions interface {
	EnsureUser(ctx context.Context, id int64, username, firstName string) (models.User, error)
	Redeem(ctx context.Context, token string, userID int64) (int, error)
	Status(ctx context.Context, userID int64) (subscription.Status, error)
	IssueKey(ctx context.Context, days int) (models.AccessKey, error)
	ListKeys(ctx context.Context, limit int) ([]models.AccessKey, error)
	DeleteKey(ctx context.Context, token string) error
	GrantUser(ctx context.Context, userID int64, days int) (models.User, error)
	RevokeUser(ctx context.Context, userID int64) (models.User, error)
}

// Downloader конвейер загрузки.
type Downloader interface {
	Process(ctx context.Context, req download.Request, progress func(download.State)) (download.Result, error)
}

// Config параметры бота.
type Config struct {
	AdminIDs        []int64
	Plans           map[string]int
	ContactText     string
	FreeDailyLimit  int
	MaxSizeMB       float64
	PollTimeout     time.Duration
	DownloadTimeout time.Duration
	MessageRate     float64
	MessageBurst    int
}

// Bot маршрутизатор обновлений.
type Bot struct {
	chat          Chat
	subs          Subscriptions
	downloader    Downloader
	broadcaster   broadcast.Dispatcher
	conversations *conversation.Manager
	limiter       *userLimiter
	cfg           Config
	admins        map[int64]bool
	log           *slog.Logger
	now           func() time.Time

	wg sync.WaitGroup
}

// New создаёт бота.
func New(chat Chat, subs Subscriptions, downloader Downloader, broadcaster broadcast.Dispatcher,
	conversations *conversation.Manager, log *slog.Logger, cfg Config) *Bot {
	admins := make(map[int64]bool, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = true
	}
	if conversations == nil {
		conversations = conversation.New(conversation.DefaultTTL, nil)
	}
	return &Bot{
		chat:          chat,
		subs:          subs,
		downloader:    downloader,
		broadcaster:   broadcaster,
		conversations: conversations,
		limiter:       newUserLimiter(cfg.MessageRate, cfg.MessageBurst),
		cfg:           cfg,
		admins:        admins,
		log:           log,
		now:           time.Now,
	}
}

// Run получает обновления длинным опросом до отмены ctx. Каждое обновление
// обрабатывается в отдельной горутине; Run дожидается их завершения.
func (b *Bot) Run(ctx context.Context) error {
	const op = "bot.Run"
	log := b.log.With(slog.String("op", op))
	log.Info("bot started")
	defer b.wg.Wait()

	var offset int64
	lastSweep := b.now()
	for {
		if ctx.Err() != nil {
			log.Info("bot stopped")
			return nil
		}

		updates, err := b.chat.GetUpdates(ctx, offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn("failed to get updates", sl.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.wg.Add(1)
			go func(u telegram.Update) {
				defer b.wg.Done()
				b.HandleUpdate(ctx, u)
			}(u)
		}

		if now := b.now(); now.Sub(lastSweep) >= sweepInterval {
			lastSweep = now
			b.conversations.Sweep()
			b.limiter.Sweep(now, limiterIdle)
		}
	}
}

// HandleUpdate обрабатывает одно обновление.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.limiter.Allow(userID, b.now()) {
		b.reply(ctx, chatID, msgSlowDown)
		return
	}

	if _, err := b.subs.EnsureUser(ctx, userID, msg.From.Username, msg.From.FirstName); err != nil {
		b.log.Error("failed to register user", slog.Int64("user_id", userID), sl.Err(err))
		b.reply(ctx, chatID, b.userMessage(err))
		return
	}

	if strings.HasPrefix(text, "/") {
		b.conversations.Reset(userID)
		b.handleCommand(ctx, msg, text)
		return
	}

	if session, ok := b.conversations.Take(userID); ok {
		b.handleConversation(ctx, msg, session, text)
		return
	}

	b.handleDownload(ctx, msg, text)
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.admins[userID]
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.chat.SendMessage(ctx, chatID, text); err != nil {
		b.log.Warn("failed to send reply", slog.Int64("chat_id", chatID), sl.Err(err))
	}
}

func (b *Bot) handleDownload(ctx context.Context, msg *telegram.Message, text string) {
	const op = "bot.handleDownload"
	if b.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.DownloadTimeout)
		defer cancel()
	}

	req := download.Request{UserID: msg.From.ID, ChatID: msg.Chat.ID, Link: text}
	res, err := b.downloader.Process(ctx, req, func(s download.State) {
		if s == download.StateExtracting {
			b.reply(ctx, msg.Chat.ID, msgProcessing)
		}
	})
	if err != nil {
		b.log.Info("download not completed",
			slog.String("op", op),
			slog.Int64("user_id", req.UserID),
			slog.String("state", res.State.String()),
			sl.Err(err),
		)
		b.reply(context.WithoutCancel(ctx), msg.Chat.ID, b.userMessage(err))
	}
}
