// Package notify pushes trade and health alerts to Telegram. The notifier
// is optional: with no token configured every call is a no-op.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

// Notifier sends formatted alerts to one chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects the bot. Returns a disabled notifier when the token is
// empty; an invalid token is an error.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return &Notifier{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("Telegram bot connected")
	return &Notifier{api: api, chatID: chatID}, nil
}

func (n *Notifier) enabled() bool { return n != nil && n.api != nil }

func (n *Notifier) send(text string) {
	if !n.enabled() {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}

// TradeOpened announces an entry fill.
func (n *Notifier) TradeOpened(pos *models.Position) {
	n.send(fmt.Sprintf("📈 *OPENED* %s %s\n%d @ %s (%s)",
		pos.Symbol, pos.OptionSymbol, pos.Quantity,
		pos.EntryPrice.StringFixed(2), pos.Mode))
}

// TradeClosed announces an exit fill with realized P&L.
func (n *Notifier) TradeClosed(pos *models.Position, exitPrice, realized decimal.Decimal) {
	emoji := "✅"
	if realized.IsNegative() {
		emoji = "🔻"
	}
	n.send(fmt.Sprintf("%s *CLOSED* %s %s\nexit %s, P&L $%s",
		emoji, pos.Symbol, pos.OptionSymbol,
		exitPrice.StringFixed(2), realized.StringFixed(2)))
}

// ComponentChanged announces degraded-mode transitions.
func (n *Notifier) ComponentChanged(component string, healthy bool, reason string) {
	if healthy {
		n.send(fmt.Sprintf("🟢 *%s* recovered", component))
		return
	}
	n.send(fmt.Sprintf("🔴 *%s* degraded: %s", component, reason))
}
