package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m3rciful/doorman/core/telegram/keyboard"
	tgsender "github.com/m3rciful/doorman/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// verifyAnswerKey is the callback unique shared by all challenge buttons.
// The payload carries the chosen option verbatim.
const verifyAnswerKey = "verify_answer"

const challengeTmpl = "Добро пожаловать, %s! Пожалуйста, ответьте на вопрос: %s"

// messenger implements verification.Messenger on top of the bot API.
// The challenge post is synchronous because the workflow needs the message id;
// everything else goes through the outbound dispatcher for retries.
type messenger struct {
	bot  *tele.Bot
	disp *tgsender.Dispatcher
}

func newMessenger(bot *tele.Bot, disp *tgsender.Dispatcher) *messenger {
	return &messenger{bot: bot, disp: disp}
}

func (m *messenger) SendChallenge(ctx context.Context, chatID int64, threadID int, displayName, question string, options []string) (int, error) {
	buttons := make([]keyboard.InlineBtn, 0, len(options))
	for _, opt := range options {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   opt,
			Unique: verifyAnswerKey,
			Data:   opt,
		})
	}
	// All options on a single row, like the original challenge layout.
	markup := keyboard.InlineButtonsNPerRow(buttons, len(options))

	text := fmt.Sprintf(challengeTmpl, displayName, question)
	msg, err := m.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
		ThreadID:    threadID,
		ReplyMarkup: markup,
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *messenger) ClearControls(ctx context.Context, chatID int64, messageID int) error {
	ref := storedMessage(chatID, messageID)
	return m.enqueue(ctx, "challenge.clear_markup", "editMessageReplyMarkup", func() error {
		_, err := m.bot.EditReplyMarkup(ref, nil)
		return err
	})
}

func (m *messenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	ref := storedMessage(chatID, messageID)
	return m.enqueue(ctx, "challenge.delete", "deleteMessage", func() error {
		return m.bot.Delete(ref)
	})
}

func (m *messenger) Notify(ctx context.Context, chatID int64, threadID int, text string) error {
	return m.enqueue(ctx, "notify", "sendMessage", func() error {
		_, err := m.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{ThreadID: threadID})
		return err
	})
}

func (m *messenger) enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if m.disp == nil {
		return run()
	}
	if err := m.disp.Enqueue(ctx, action, endpoint, run); err != nil {
		return run()
	}
	return nil
}

func storedMessage(chatID int64, messageID int) *tele.StoredMessage {
	return &tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	}
}
