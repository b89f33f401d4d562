package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Retrain-cycle alerts
// ═══════════════════════════════════════════════════════════════════════════════

// Telegram sends learning-loop notifications to a single chat. A nil or
// disabled notifier is safe to call.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates the notifier. Returns nil (not an error) when no token
// is configured, so callers can wire it unconditionally.
func NewTelegram(token string, chatID int64) *Telegram {
	if token == "" || chatID == 0 {
		log.Info().Msg("Telegram notifications disabled")
		return nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Error().Err(err).Msg("Telegram init failed, notifications disabled")
		return nil
	}

	log.Info().Str("bot", api.Self.UserName).Msg("📱 Telegram notifier ready")
	return &Telegram{api: api, chatID: chatID}
}

// NotifyRetrainCycle reports one finished retrain cycle
func (t *Telegram) NotifyRetrainCycle(succeeded, failed int, accuracy float64) {
	if t == nil {
		return
	}

	icon := "🔄"
	if failed > 0 {
		icon = "⚠️"
	}
	text := fmt.Sprintf(
		"%s *Retrain cycle finished*\n\n✅ Updated: %d\n❌ Failed: %d\n🎯 Accuracy: %.1f%%",
		icon, succeeded, failed, accuracy*100,
	)
	t.send(text)
}

// NotifyAccuracyDrop warns that live accuracy fell below the retrain threshold
func (t *Telegram) NotifyAccuracyDrop(accuracy, threshold float64) {
	if t == nil {
		return
	}
	t.send(fmt.Sprintf(
		"📉 *Accuracy degraded*\n\nLive: %.1f%%\nThreshold: %.1f%%",
		accuracy*100, threshold*100,
	))
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}
