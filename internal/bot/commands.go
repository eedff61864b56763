package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/keygen"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/conversation"
	"github.com/magabrotheeeer/terabox-bot/internal/telegram"
)

type command struct {
	admin   bool
	handler func(b *Bot, ctx context.Context, msg *telegram.Message, args []string, rest string)
}

var commands = map[string]command{
	"start":        {handler: (*Bot).cmdStart},
	"help":         {handler: (*Bot).cmdHelp},
	"subscription": {handler: (*Bot).cmdSubscription},
	"claim":        {handler: (*Bot).cmdClaim},
	"contact":      {handler: (*Bot).cmdContact},
	"myplan":       {handler: (*Bot).cmdMyPlan},
	"genkey":       {admin: true, handler: (*Bot).cmdGenKey},
	"listkeys":     {admin: true, handler: (*Bot).cmdListKeys},
	"delkey":       {admin: true, handler: (*Bot).cmdDelKey},
	"adduser":      {admin: true, handler: (*Bot).cmdAddUser},
	"removeuser":   {admin: true, handler: (*Bot).cmdRemoveUser},
	"broadcast":    {admin: true, handler: (*Bot).cmdBroadcast},
}

// parseCommand разбирает "/cmd@bot a b" на имя команды, аргументы и текст после имени.
func parseCommand(text string) (name string, args []string, rest string) {
	head, rest, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}
	name, _, _ = strings.Cut(head, "@")
	rest = strings.TrimSpace(rest)
	return strings.ToLower(name), strings.Fields(rest), rest
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	name, args, rest := parseCommand(text)
	cmd, ok := commands[name]
	if !ok {
		b.reply(ctx, msg.Chat.ID, "❓ Unknown command. /help")
		return
	}
	if cmd.admin && !b.isAdmin(msg.From.ID) {
		b.log.Warn("admin command rejected", slog.String("command", name), slog.Int64("user_id", msg.From.ID))
		return
	}
	cmd.handler(b, ctx, msg, args, rest)
}

func (b *Bot) handleConversation(ctx context.Context, msg *telegram.Message, session conversation.Session, text string) {
	switch session.State {
	case conversation.StateAwaitingKey:
		b.redeem(ctx, msg, text)
	case conversation.StateAwaitingUserID:
		if !b.isAdmin(msg.From.ID) {
			return
		}
		b.grant(ctx, msg, text, session.Plan)
	default:
		b.handleDownload(ctx, msg, text)
	}
}

func (b *Bot) cmdStart(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	b.reply(ctx, msg.Chat.ID, b.startMessage(msg.From.FirstName))
}

func (b *Bot) cmdHelp(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	b.reply(ctx, msg.Chat.ID, msgHelp)
}

func (b *Bot) cmdSubscription(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	b.reply(ctx, msg.Chat.ID, b.plansMessage())
}

func (b *Bot) cmdContact(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	b.reply(ctx, msg.Chat.ID, "📞 "+b.cfg.ContactText)
}

func (b *Bot) cmdClaim(ctx context.Context, msg *telegram.Message, args []string, _ string) {
	if len(args) == 0 {
		b.conversations.Begin(msg.From.ID, conversation.StateAwaitingKey, "")
		b.reply(ctx, msg.Chat.ID, msgEnterKey)
		return
	}
	b.redeem(ctx, msg, args[0])
}

func (b *Bot) redeem(ctx context.Context, msg *telegram.Message, token string) {
	days, err := b.subs.Redeem(ctx, token, msg.From.ID)
	if err != nil {
		b.log.Info("key redemption failed", slog.Int64("user_id", msg.From.ID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("💎 Premium activated!\n✅ %s added to your plan.", pluralDays(days)))
}

func (b *Bot) cmdMyPlan(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	st, err := b.subs.Status(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("failed to get status", slog.Int64("user_id", msg.From.ID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, statusMessage(st))
}

func (b *Bot) cmdGenKey(ctx context.Context, msg *telegram.Message, args []string, _ string) {
	if len(args) == 0 {
		b.reply(ctx, msg.Chat.ID, "Usage: /genkey &lt;plan&gt;")
		return
	}
	plan := strings.ToLower(args[0])
	days, ok := b.cfg.Plans[plan]
	if !ok {
		b.reply(ctx, msg.Chat.ID, msgInvalidPlan)
		return
	}
	key, err := b.subs.IssueKey(ctx, days)
	if err != nil {
		b.log.Error("failed to issue key", sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Key:\n<code>%s</code>\nPlan: %s", key.Token, html.EscapeString(plan)))
}

func (b *Bot) cmdListKeys(ctx context.Context, msg *telegram.Message, _ []string, _ string) {
	keys, err := b.subs.ListKeys(ctx, listKeysLimit)
	if err != nil {
		b.log.Error("failed to list keys", sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, keysMessage(keys))
}

func (b *Bot) cmdDelKey(ctx context.Context, msg *telegram.Message, args []string, _ string) {
	if len(args) == 0 {
		b.reply(ctx, msg.Chat.ID, "Usage: /delkey &lt;key&gt;")
		return
	}
	token := keygen.Normalize(args[0])
	if err := b.subs.DeleteKey(ctx, token); err != nil {
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Key <code>%s</code> deleted.", html.EscapeString(token)))
}

func (b *Bot) cmdAddUser(ctx context.Context, msg *telegram.Message, args []string, _ string) {
	switch len(args) {
	case 0:
		b.reply(ctx, msg.Chat.ID, "Usage: /adduser &lt;user_id&gt; &lt;plan&gt;")
	case 1:
		plan := strings.ToLower(args[0])
		if _, ok := b.cfg.Plans[plan]; !ok {
			b.reply(ctx, msg.Chat.ID, "Usage: /adduser &lt;user_id&gt; &lt;plan&gt;")
			return
		}
		b.conversations.Begin(msg.From.ID, conversation.StateAwaitingUserID, plan)
		b.reply(ctx, msg.Chat.ID, msgEnterUserID)
	default:
		b.grant(ctx, msg, args[0], strings.ToLower(args[1]))
	}
}

func (b *Bot) grant(ctx context.Context, msg *telegram.Message, rawID, plan string) {
	userID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil || userID <= 0 {
		b.reply(ctx, msg.Chat.ID, msgInvalidID)
		return
	}
	days, ok := b.cfg.Plans[plan]
	if !ok {
		b.reply(ctx, msg.Chat.ID, msgInvalidPlan)
		return
	}
	if _, err := b.subs.GrantUser(ctx, userID, days); err != nil {
		b.log.Error("failed to grant subscription", slog.Int64("user_id", userID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ User %d added to %s plan.", userID, html.EscapeString(plan)))
}

func (b *Bot) cmdRemoveUser(ctx context.Context, msg *telegram.Message, args []string, _ string) {
	if len(args) == 0 {
		b.reply(ctx, msg.Chat.ID, "Usage: /removeuser &lt;user_id&gt;")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || userID <= 0 {
		b.reply(ctx, msg.Chat.ID, msgInvalidID)
		return
	}
	if _, err := b.subs.RevokeUser(ctx, userID); err != nil {
		b.log.Error("failed to revoke subscription", slog.Int64("user_id", userID), sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ User %d removed.", userID))
}

func (b *Bot) cmdBroadcast(ctx context.Context, msg *telegram.Message, _ []string, rest string) {
	if rest == "" {
		b.reply(ctx, msg.Chat.ID, b.userMessage(broadcast.ErrEmptyMessage))
		return
	}
	b.reply(ctx, msg.Chat.ID, msgBroadcasting)
	job := broadcast.Job{Text: rest, ReplyChatID: msg.Chat.ID, RequestedAt: time.Now().UTC()}
	if err := b.broadcaster.Dispatch(ctx, job); err != nil {
		b.log.Error("broadcast failed", sl.Err(err))
		b.reply(ctx, msg.Chat.ID, b.userMessage(err))
	}
}
