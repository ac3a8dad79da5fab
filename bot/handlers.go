package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/doorman/bot/storage"
	"github.com/m3rciful/doorman/bot/verification"
	"github.com/m3rciful/doorman/core/buildinfo"
	"github.com/m3rciful/doorman/core/logger"
	"github.com/m3rciful/doorman/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/doorman/core/telegram/helpers"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

const (
	startGreeting = "Бот для верификации новых пользователей запущен."
	unbanUsage    = "Использование: /unban <user_id>"

	popupAccepted        = "Верно!"
	popupRejected        = "Неверный ответ. Попробуйте снова!"
	popupAlreadyResolved = "Вы уже прошли проверку или не являетесь новым участником."
)

func (a *App) handleStart(c tele.Context) error {
	return tghelpers.SendText(c, startGreeting)
}

// handleJoin fans out over every member of the join update: a single service
// message may announce several added users.
func (a *App) handleJoin(c tele.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}

	joined := msg.UsersJoined
	if len(joined) == 0 && msg.UserJoined != nil {
		joined = []tele.User{*msg.UserJoined}
	}

	ctx := tghelpers.WithHandler(c, "join")
	var firstErr error
	for i := range joined {
		u := &joined[i]
		if u.IsBot || u.ID == a.selfID {
			continue
		}
		err := a.workflow.HandleJoin(ctx, msg.Chat.ID, u.ID, msg.ThreadID, tghelpers.DisplayName(u))
		if err != nil && firstErr == nil && err != verification.ErrAlreadyPending {
			firstErr = err
		}
	}
	return firstErr
}

// handleAnswer resolves a challenge button press. The popup text is the only
// feedback the clicking user gets; group-visible messages come from the
// workflow itself.
func (a *App) handleAnswer(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || c.Chat() == nil || c.Sender() == nil {
		return nil
	}

	option := callbacks.CallbackPayload(c)
	ctx := tghelpers.WithHandler(c, "verify_answer")

	outcome, err := a.workflow.HandleAnswer(ctx, c.Chat().ID, c.Sender().ID, option)
	if err != nil {
		return err
	}

	switch outcome {
	case verification.OutcomeAccepted:
		return c.Respond(&tele.CallbackResponse{Text: popupAccepted})
	case verification.OutcomeRejected:
		return c.Respond(&tele.CallbackResponse{Text: popupRejected})
	default:
		return c.Respond(&tele.CallbackResponse{Text: popupAlreadyResolved})
	}
}

func (a *App) handleUnban(c tele.Context) error {
	payload := strings.TrimSpace(c.Message().Payload)
	userID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || userID <= 0 {
		return tghelpers.SendText(c, unbanUsage)
	}

	ctx := tghelpers.WithHandler(c, "unban")
	if err := a.workflow.HandleUnban(ctx, c.Chat().ID, userID); err != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Не удалось разблокировать пользователя %d.", userID))
	}
	return tghelpers.SendText(c, fmt.Sprintf("Пользователь %d разблокирован.", userID))
}

func (a *App) handleStatus(c tele.Context) error {
	var queueErrs uint64
	if a.disp != nil {
		queueErrs = a.disp.ErrorCount()
	}

	var events []storage.Event
	if a.audit != nil && c.Chat() != nil {
		ctx := tghelpers.WithHandler(c, "status")
		var err error
		events, err = a.audit.RecentOutcomes(ctx, c.Chat().ID, recentOutcomeRows)
		if err != nil {
			logger.VER.Warn("audit query failed",
				slog.String("event", "status.audit_failed"),
				slog.Int64("chat_id", c.Chat().ID),
				slog.String("err", err.Error()),
			)
		}
	}

	return tghelpers.SendText(c, statusText(a.store.Len(), queueErrs, events))
}

const recentOutcomeRows = 5

// statusText renders the /status reply: build metadata, runtime counters,
// and the last audit rows for this chat when the database is enabled.
func statusText(pending int, sendErrs uint64, events []storage.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s (%s)\npending sessions: %d\nsend errors: %d",
		buildinfo.Version, buildinfo.Commit, pending, sendErrs)
	if len(events) > 0 {
		b.WriteString("\nrecent outcomes:")
		for _, e := range events {
			fmt.Fprintf(&b, "\n%s  %d  %s", e.CreatedAt.Format("02.01 15:04"), e.UserID, e.Outcome)
		}
	}
	return b.String()
}
