package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/doorman/bot/verification"
)

// VerificationLog persists terminal verification outcomes for operator review.
type VerificationLog struct {
	db *sqlx.DB
}

// NewVerificationLog wraps an open database handle.
func NewVerificationLog(db *sqlx.DB) *VerificationLog {
	return &VerificationLog{db: db}
}

const insertEventQuery = `
	INSERT INTO verification_events (chat_id, user_id, outcome, answer, created_at)
	VALUES ($1, $2, $3, $4, $5)`

// Record stores one outcome row. Answer is empty for expiries and unbans.
func (l *VerificationLog) Record(ctx context.Context, chatID, userID int64, outcome verification.State, answer string) error {
	_, err := l.db.ExecContext(ctx, insertEventQuery, chatID, userID, string(outcome), answer, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert verification event: %w", err)
	}
	return nil
}

// RecentOutcomes returns the last n outcomes for a chat, newest first.
func (l *VerificationLog) RecentOutcomes(ctx context.Context, chatID int64, n int) ([]Event, error) {
	if n <= 0 {
		n = 10
	}
	var events []Event
	err := l.db.SelectContext(ctx, &events, `
		SELECT chat_id, user_id, outcome, answer, created_at
		FROM verification_events
		WHERE chat_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("select verification events: %w", err)
	}
	return events, nil
}

// Event is one persisted verification outcome.
type Event struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Outcome   string    `db:"outcome"`
	Answer    string    `db:"answer"`
	CreatedAt time.Time `db:"created_at"`
}
