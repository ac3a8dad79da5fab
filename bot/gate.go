package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"
)

// gate implements verification.Gate with direct bot API calls. Bans stay
// synchronous so the workflow observes the real outcome.
type gate struct {
	bot *tele.Bot
}

func newGate(bot *tele.Bot) *gate {
	return &gate{bot: bot}
}

func (g *gate) Ban(ctx context.Context, chatID, userID int64) error {
	chat := &tele.Chat{ID: chatID}
	member := &tele.ChatMember{User: &tele.User{ID: userID}}
	return g.bot.Ban(chat, member)
}

func (g *gate) Unban(ctx context.Context, chatID, userID int64) error {
	chat := &tele.Chat{ID: chatID}
	return g.bot.Unban(chat, &tele.User{ID: userID})
}
