package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/doorman/core/logger"
	"github.com/m3rciful/doorman/core/scheduler"
	"log/slog"
)

// Messenger is the chat transport consumed by the workflow. Implementations
// must be safe for use from timer callbacks.
type Messenger interface {
	// SendChallenge posts the challenge message with one button per option
	// and returns the message id.
	SendChallenge(ctx context.Context, chatID int64, threadID int, displayName, question string, options []string) (int, error)
	// ClearControls removes the inline keyboard from the challenge message.
	ClearControls(ctx context.Context, chatID int64, messageID int) error
	// DeleteMessage removes the challenge message entirely.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// Notify sends a plain text message to the chat.
	Notify(ctx context.Context, chatID int64, threadID int, text string) error
}

// Gate bans and unbans chat members.
type Gate interface {
	Ban(ctx context.Context, chatID, userID int64) error
	Unban(ctx context.Context, chatID, userID int64) error
}

// Recorder persists terminal outcomes for operator review. May be nil.
type Recorder interface {
	Record(ctx context.Context, chatID, userID int64, outcome State, answer string) error
}

// Outcome is the result reported to the submitter of an answer.
type Outcome int

const (
	// OutcomeAccepted means the answer was correct and the member is verified.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected means the answer was incorrect and the member was banned.
	OutcomeRejected
	// OutcomeAlreadyResolved means the session was gone when the answer
	// arrived; no side effect was taken.
	OutcomeAlreadyResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAlreadyResolved:
		return "already_resolved"
	}
	return "unknown"
}

// Config holds the challenge parameters of a deployment round.
type Config struct {
	// Window is how long the member has to answer.
	Window time.Duration
	// CleanupDelay is the extra delay after the window before the challenge
	// message is deleted regardless of outcome.
	CleanupDelay time.Duration
	// DeleteOnResolve deletes the challenge message at the terminal
	// transition instead of waiting for the cleanup timer.
	DeleteOnResolve bool

	Question      string
	Options       []string
	CorrectOption string
}

// Notification texts sent to the group, kept verbatim from the first
// deployment of the bot.
const (
	successNoticeTmpl = "Пользователь %s успешно проверен!"
	timeoutNoticeTmpl = "Пользователь %s не прошел проверку и был удален."
)

// Workflow orchestrates the session lifecycle. External-call failures are
// logged and never roll back a terminal transition: once Claim succeeded the
// session is gone and cannot be re-evaluated.
type Workflow struct {
	cfg       Config
	store     *Store
	sched     *scheduler.Scheduler
	messenger Messenger
	gate      Gate
	recorder  Recorder
}

// NewWorkflow wires the lifecycle core. recorder may be nil to disable the
// audit trail.
func NewWorkflow(cfg Config, store *Store, sched *scheduler.Scheduler, messenger Messenger, gate Gate, recorder Recorder) *Workflow {
	return &Workflow{
		cfg:       cfg,
		store:     store,
		sched:     sched,
		messenger: messenger,
		gate:      gate,
		recorder:  recorder,
	}
}

// HandleJoin starts verification for a newly joined member: creates the
// session, posts the challenge, and arms the expiry and cleanup timers.
// A member with a session already pending is rejected with ErrAlreadyPending.
func (w *Workflow) HandleJoin(ctx context.Context, chatID, userID int64, threadID int, displayName string) error {
	sess, err := w.store.Create(chatID, userID, threadID, displayName, w.cfg.CorrectOption)
	if err != nil {
		logger.Warn(ctx, "verify", "join.ignored",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("cause", "already_pending"),
		)
		return err
	}

	msgID, err := w.messenger.SendChallenge(ctx, chatID, threadID, displayName, w.cfg.Question, w.cfg.Options)
	if err != nil {
		// Without a challenge message the member has nothing to answer;
		// drop the session instead of expiring them unfairly.
		_, _ = w.store.Claim(chatID, userID)
		logger.Error(ctx, "verify", "challenge.send_failed",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("send challenge: %w", err)
	}

	key := sess.Key()
	expiry := w.sched.Schedule(w.cfg.Window, func() {
		w.expire(context.Background(), key)
	})
	cleanup := w.sched.Schedule(w.cfg.Window+w.cfg.CleanupDelay, func() {
		w.deleteChallenge(context.Background(), chatID, msgID)
	})
	// The message id is published through the store, not written on the
	// session directly: a claimer racing this call must either see the id or
	// see zero, never a torn write.
	w.store.attach(key, msgID, expiry, cleanup)

	logger.Info(ctx, "verify", "session.created",
		slog.Int64("chat_id", chatID),
		slog.Int64("user_id", userID),
		slog.Int("thread_id", threadID),
		slog.Int("message_id", msgID),
		slog.Duration("window", w.cfg.Window),
		slog.Duration("cleanup_delay", w.cfg.CleanupDelay),
	)
	return nil
}

// HandleAnswer evaluates a submitted option. The claim resolves the race
// against the expiry timer: a lost claim reports OutcomeAlreadyResolved and
// takes no side effect.
func (w *Workflow) HandleAnswer(ctx context.Context, chatID, userID int64, option string) (Outcome, error) {
	sess, err := w.store.Claim(chatID, userID)
	if err != nil {
		logger.Debug(ctx, "verify", "claim.miss",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("cause", "answer"),
		)
		return OutcomeAlreadyResolved, nil
	}
	sess.expiry.Cancel()

	if option == sess.Expected {
		sess.State = StateVerified
		// MessageID zero means the session was claimed before attach ran;
		// the cleanup timer will still remove the real message.
		if sess.MessageID != 0 {
			if err := w.messenger.ClearControls(ctx, sess.ChatID, sess.MessageID); err != nil {
				w.logTransport(ctx, sess, "controls.clear_failed", err)
			}
		}
		notice := fmt.Sprintf(successNoticeTmpl, sess.DisplayName)
		if err := w.messenger.Notify(ctx, sess.ChatID, sess.ThreadID, notice); err != nil {
			w.logTransport(ctx, sess, "notify_failed", err)
		}
		w.finishSession(ctx, sess, option)
		return OutcomeAccepted, nil
	}

	sess.State = StateFailed
	if err := w.gate.Ban(ctx, sess.ChatID, sess.UserID); err != nil {
		w.logTransport(ctx, sess, "ban_failed", err)
	}
	w.finishSession(ctx, sess, option)
	return OutcomeRejected, nil
}

// HandleUnban lifts a ban on request of an operator. It never recreates a
// session.
func (w *Workflow) HandleUnban(ctx context.Context, chatID, userID int64) error {
	if err := w.gate.Unban(ctx, chatID, userID); err != nil {
		logger.Error(ctx, "verify", "unban_failed",
			slog.Int64("chat_id", chatID),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("unban: %w", err)
	}
	logger.Info(ctx, "verify", "unban",
		slog.Int64("chat_id", chatID),
		slog.Int64("user_id", userID),
	)
	if w.recorder != nil {
		if err := w.recorder.Record(ctx, chatID, userID, StateUnbanned, ""); err != nil {
			logger.Warn(ctx, "verify", "record_failed",
				slog.Int64("chat_id", chatID),
				slog.Int64("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
	}
	return nil
}

// expire is the window-timer callback. It re-validates via Claim rather than
// trusting cancellation, so a concurrent answer never double-resolves.
func (w *Workflow) expire(ctx context.Context, key Key) {
	sess, err := w.store.Claim(key.ChatID, key.UserID)
	if err != nil {
		logger.Debug(ctx, "verify", "claim.miss",
			slog.Int64("chat_id", key.ChatID),
			slog.Int64("user_id", key.UserID),
			slog.String("cause", "expiry"),
		)
		return
	}
	sess.State = StateExpired

	if err := w.gate.Ban(ctx, sess.ChatID, sess.UserID); err != nil {
		w.logTransport(ctx, sess, "ban_failed", err)
	}
	notice := fmt.Sprintf(timeoutNoticeTmpl, sess.DisplayName)
	if err := w.messenger.Notify(ctx, sess.ChatID, sess.ThreadID, notice); err != nil {
		w.logTransport(ctx, sess, "notify_failed", err)
	}
	w.finishSession(ctx, sess, "")
}

// finishSession records the terminal outcome and applies the message
// deletion policy. The session is already out of the store at this point.
func (w *Workflow) finishSession(ctx context.Context, sess *Session, answer string) {
	logger.Info(ctx, "verify", "session.resolved",
		slog.Int64("chat_id", sess.ChatID),
		slog.Int64("user_id", sess.UserID),
		slog.String("outcome", string(sess.State)),
		slog.String("answer", answer),
		slog.Duration("duration", logger.Took(sess.CreatedAt)),
	)

	if w.cfg.DeleteOnResolve && sess.MessageID != 0 {
		if sess.cleanup.Cancel() {
			w.deleteChallenge(ctx, sess.ChatID, sess.MessageID)
		}
	}

	if w.recorder != nil {
		if err := w.recorder.Record(ctx, sess.ChatID, sess.UserID, sess.State, answer); err != nil {
			logger.Warn(ctx, "verify", "record_failed",
				slog.Int64("chat_id", sess.ChatID),
				slog.Int64("user_id", sess.UserID),
				slog.String("err", err.Error()),
			)
		}
	}
}

// deleteChallenge removes the challenge message. It runs once per session:
// either from the cleanup timer or, with DeleteOnResolve, from the terminal
// transition that cancelled the timer.
func (w *Workflow) deleteChallenge(ctx context.Context, chatID int64, messageID int) {
	if err := w.messenger.DeleteMessage(ctx, chatID, messageID); err != nil {
		logger.Warn(ctx, "verify", "cleanup.delete_failed",
			slog.Int64("chat_id", chatID),
			slog.Int("message_id", messageID),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Debug(ctx, "verify", "cleanup.deleted",
		slog.Int64("chat_id", chatID),
		slog.Int("message_id", messageID),
	)
}

func (w *Workflow) logTransport(ctx context.Context, sess *Session, event string, err error) {
	logger.Error(ctx, "verify", event,
		slog.Int64("chat_id", sess.ChatID),
		slog.Int64("user_id", sess.UserID),
		slog.String("state", string(sess.State)),
		slog.String("err", err.Error()),
	)
}
