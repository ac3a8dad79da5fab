package verification

import (
	"errors"
	"sync"
	"time"

	"github.com/m3rciful/doorman/core/scheduler"
)

var (
	// ErrAlreadyPending is returned by Create when a session already exists
	// for the (chat, user) key.
	ErrAlreadyPending = errors.New("verification: session already pending")
	// ErrNotFound is returned by Claim and Peek when no session exists for
	// the key. For Claim this is the normal signal of a lost race.
	ErrNotFound = errors.New("verification: session not found")
)

// Store is the in-memory registry of pending sessions. A single mutex
// serializes Create and Claim so that Claim is exclusive even under
// concurrent timer callbacks; contention is per-bot and low.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[Key]*Session)}
}

// Create inserts a Pending session for the key and returns it. It fails with
// ErrAlreadyPending when a session for the key is already present.
func (st *Store) Create(chatID, userID int64, threadID int, displayName, expected string) (*Session, error) {
	key := Key{ChatID: chatID, UserID: userID}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.sessions[key]; exists {
		return nil, ErrAlreadyPending
	}
	sess := &Session{
		ChatID:      chatID,
		UserID:      userID,
		ThreadID:    threadID,
		DisplayName: displayName,
		Expected:    expected,
		State:       StatePending,
		CreatedAt:   time.Now(),
	}
	st.sessions[key] = sess
	return sess, nil
}

// Claim atomically removes and returns the session for the key. Exactly one
// of any set of concurrent claimers succeeds; the rest get ErrNotFound. The
// winner owns the terminal transition.
func (st *Store) Claim(chatID, userID int64) (*Session, error) {
	key := Key{ChatID: chatID, UserID: userID}

	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(st.sessions, key)
	return sess, nil
}

// Peek returns the session for the key without removing it. Diagnostics only.
func (st *Store) Peek(chatID, userID int64) (*Session, error) {
	key := Key{ChatID: chatID, UserID: userID}

	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Len reports the number of pending sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// attach publishes the challenge message id and the timer handles on the
// session if it is still pending. Publishing under the store mutex gives
// claimers a happens-before edge: whoever claims the session afterwards sees
// the message id. When the session was already claimed the expiry timer is
// useless and gets cancelled right away; the cleanup timer stays armed since
// the challenge message still has to be deleted.
func (st *Store) attach(key Key, messageID int, expiry, cleanup *scheduler.Handle) {
	st.mu.Lock()
	sess, ok := st.sessions[key]
	if ok {
		sess.MessageID = messageID
		sess.expiry = expiry
		sess.cleanup = cleanup
	}
	st.mu.Unlock()
	if !ok {
		expiry.Cancel()
	}
}
