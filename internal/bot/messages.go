package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/admission"
	"github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
	"github.com/magabrotheeeer/terabox-bot/internal/services/download"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
)

const (
	msgHelp = "📖 <b>How to use</b>\n\n" +
		"Send a Terabox link and get the video back.\n\n" +
		"/myplan - your plan and remaining downloads\n" +
		"/subscription - premium plans\n" +
		"/claim &lt;key&gt; - activate an access key\n" +
		"/contact - contact the admin"
	msgProcessing   = "⚡ Processing..."
	msgEnterKey     = "🔑 Send your access key:"
	msgEnterUserID  = "👤 Enter user ID to upgrade:"
	msgInvalidPlan  = "❌ Invalid plan."
	msgInvalidID    = "❌ Invalid user ID."
	msgNoKeys       = "📭 No keys found."
	msgBroadcasting = "📢 Broadcasting..."
	msgSlowDown     = "⏳ Too many messages. Please slow down."
)

// userMessage переводит ошибку в текст для пользователя. Подробности
// ошибки только логируются.
func (b *Bot) userMessage(err error) string {
	switch {
	case errors.Is(err, download.ErrInvalidLink):
		return "❌ Please send a valid Terabox link"
	case errors.Is(err, admission.ErrQuotaExceeded):
		return fmt.Sprintf("🚫 Daily limit reached.\nFree users get %d downloads per day.\n💎 Upgrade for unlimited access: /subscription", b.cfg.FreeDailyLimit)
	case errors.Is(err, admission.ErrTooLarge):
		return fmt.Sprintf("❌ Video is too large. Max: %.0f MB.", b.cfg.MaxSizeMB)
	case errors.Is(err, subscription.ErrKeyNotFound):
		return "❌ Invalid access key."
	case errors.Is(err, subscription.ErrKeyAlreadyUsed):
		return "❌ This key has already been used."
	case errors.Is(err, subscription.ErrKeyRedeemed):
		return "❌ This key has already been used and cannot be deleted."
	case errors.Is(err, broadcast.ErrEmptyMessage):
		return "Usage: /broadcast &lt;message&gt;"
	case errors.Is(err, download.ErrUpstream):
		return "❌ Failed to fetch the video. Try again later."
	case errors.Is(err, storage.ErrStorage):
		return "⚠️ Service is temporarily unavailable. Try again later."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "⚠️ Request timed out. Try again."
	default:
		return "❌ Something went wrong. Try again."
	}
}

func (b *Bot) startMessage(firstName string) string {
	name := "there"
	if firstName != "" {
		name = html.EscapeString(firstName)
	}
	return fmt.Sprintf("👋 Hi, %s!\n\n🚀 <b>Fast Terabox Downloader</b>\nFree: %d/day • Premium: Unlimited\n\nSend a Terabox link to start. /help",
		name, b.cfg.FreeDailyLimit)
}

func (b *Bot) plansMessage() string {
	names := make([]string, 0, len(b.cfg.Plans))
	for name := range b.cfg.Plans {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if b.cfg.Plans[names[i]] != b.cfg.Plans[names[j]] {
			return b.cfg.Plans[names[i]] < b.cfg.Plans[names[j]]
		}
		return names[i] < names[j]
	})

	var sb strings.Builder
	sb.WriteString("💎 <b>Premium plans</b>\n\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "• <b>%s</b>: %s\n", html.EscapeString(name), pluralDays(b.cfg.Plans[name]))
	}
	sb.WriteString("\n📞 ")
	sb.WriteString(b.cfg.ContactText)
	sb.WriteString("\nAfter payment you'll get an access key: /claim &lt;key&gt;")
	return sb.String()
}

func statusMessage(st subscription.Status) string {
	switch {
	case st.Active && st.Unlimited:
		return "✅ You are a <b>paid user</b> with <b>unlimited</b> access."
	case st.Active:
		return fmt.Sprintf("✅ You are a <b>paid user</b>.\n<b>%s</b> remaining.", pluralDays(st.DaysLeft))
	default:
		return fmt.Sprintf("❌ You are a <b>free user</b> (%d downloads/day).\n📥 Remaining today: %d\nUpgrade for unlimited access: /subscription",
			st.Limit, st.RemainingFree)
	}
}

func keysMessage(keys []models.AccessKey) string {
	if len(keys) == 0 {
		return msgNoKeys
	}
	var sb strings.Builder
	sb.WriteString("🔑 <b>Keys:</b>\n\n")
	for _, k := range keys {
		state := "Available"
		if k.Redeemed() {
			state = fmt.Sprintf("Used by %d", *k.RedeemedBy)
		}
		fmt.Fprintf(&sb, "<code>%s</code> (%dd) - %s\n", k.Token, k.DurationDays, state)
	}
	return sb.String()
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
