// Package verification manages the lifecycle of join challenges: one pending
// session per (chat, user), a window timer racing the member's answer, and a
// delayed cleanup of the challenge message.
package verification

import (
	"time"

	"github.com/m3rciful/doorman/core/scheduler"
)

// State is the lifecycle state of a session. Pending is the only
// non-terminal state; leaving it happens exactly once.
type State string

const (
	// StatePending means the member has not answered yet.
	StatePending State = "pending"
	// StateVerified means the member answered correctly in time.
	StateVerified State = "verified"
	// StateFailed means the member answered incorrectly.
	StateFailed State = "failed"
	// StateExpired means the window elapsed without an answer.
	StateExpired State = "expired"
	// StateUnbanned is never held by a session; it exists so the audit trail
	// vocabulary is closed when an operator lifts a ban.
	StateUnbanned State = "unbanned"
)

// Key identifies a session by chat and user.
type Key struct {
	ChatID int64
	UserID int64
}

// Session tracks one pending member. Timer handles are owned by the session
// so the handle not responsible for the terminal transition can be cancelled.
type Session struct {
	ChatID      int64
	UserID      int64
	ThreadID    int
	DisplayName string
	// Expected is the correct option for this challenge instance.
	Expected string
	// MessageID is the posted challenge message, kept for cleanup.
	MessageID int
	State     State
	CreatedAt time.Time

	expiry  *scheduler.Handle
	cleanup *scheduler.Handle
}

// Key returns the identity key of the session.
func (s *Session) Key() Key {
	return Key{ChatID: s.ChatID, UserID: s.UserID}
}
