package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/doorman/core/scheduler"
)

type fakeMessenger struct {
	mu      sync.Mutex
	sendErr error

	nextID  int
	sent    int
	cleared []int
	deleted []int
	notices []string
}

func (m *fakeMessenger) SendChallenge(_ context.Context, _ int64, _ int, _, _ string, _ []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextID++
	m.sent++
	return m.nextID, nil
}

func (m *fakeMessenger) ClearControls(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, messageID)
	return nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) Notify(_ context.Context, _ int64, _ int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

func (m *fakeMessenger) counts() (sent, cleared, deleted, notices int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, len(m.cleared), len(m.deleted), len(m.notices)
}

func (m *fakeMessenger) touchedIDs() (cleared, deleted []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.cleared...), append([]int(nil), m.deleted...)
}

// slowSendMessenger signals when the challenge message has been delivered and
// only returns the message id after an extra delay, like a slow sendMessage
// HTTP response.
type slowSendMessenger struct {
	fakeMessenger
	delivered chan struct{}
	delay     time.Duration
}

func (m *slowSendMessenger) SendChallenge(ctx context.Context, chatID int64, threadID int, name, question string, options []string) (int, error) {
	id, err := m.fakeMessenger.SendChallenge(ctx, chatID, threadID, name, question, options)
	close(m.delivered)
	time.Sleep(m.delay)
	return id, err
}

type fakeGate struct {
	mu     sync.Mutex
	bans   int
	unbans int
}

func (g *fakeGate) Ban(_ context.Context, _, _ int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bans++
	return nil
}

func (g *fakeGate) Unban(_ context.Context, _, _ int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unbans++
	return nil
}

func (g *fakeGate) counts() (bans, unbans int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bans, g.unbans
}

type recordedOutcome struct {
	chatID  int64
	userID  int64
	outcome State
	answer  string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedOutcome
}

func (r *fakeRecorder) Record(_ context.Context, chatID, userID int64, outcome State, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedOutcome{chatID: chatID, userID: userID, outcome: outcome, answer: answer})
	return nil
}

func (r *fakeRecorder) all() []recordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedOutcome(nil), r.records...)
}

func testConfig(window, cleanup time.Duration) Config {
	return Config{
		Window:        window,
		CleanupDelay:  cleanup,
		Question:      "q",
		Options:       []string{"a", "b", "c"},
		CorrectOption: "a",
	}
}

func newTestWorkflow(cfg Config) (*Workflow, *Store, *fakeMessenger, *fakeGate) {
	store := NewStore()
	msgr := &fakeMessenger{}
	gate := &fakeGate{}
	w := NewWorkflow(cfg, store, scheduler.New("test"), msgr, gate, nil)
	return w, store, msgr, gate
}

func TestCorrectAnswerVerifies(t *testing.T) {
	w, store, msgr, gate := newTestWorkflow(testConfig(time.Minute, time.Minute))
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	outcome, err := w.HandleAnswer(ctx, -100, 42, "a")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, expected accepted", outcome)
	}
	if bans, _ := gate.counts(); bans != 0 {
		t.Fatalf("correct answer produced %d bans", bans)
	}
	if _, cleared, _, notices := msgr.counts(); cleared != 1 || notices != 1 {
		t.Fatalf("cleared=%d notices=%d, expected 1/1", cleared, notices)
	}
	if store.Len() != 0 {
		t.Fatal("session must be gone after the terminal transition")
	}
}

func TestWrongAnswerBans(t *testing.T) {
	w, store, _, gate := newTestWorkflow(testConfig(time.Minute, time.Minute))
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	outcome, err := w.HandleAnswer(ctx, -100, 42, "b")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, expected rejected", outcome)
	}
	if bans, _ := gate.counts(); bans != 1 {
		t.Fatalf("bans = %d, expected 1", bans)
	}
	if store.Len() != 0 {
		t.Fatal("session must be gone after the terminal transition")
	}
}

func TestExpiryBansOnceAndLateAnswerResolves(t *testing.T) {
	w, store, msgr, gate := newTestWorkflow(testConfig(15*time.Millisecond, time.Minute))
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for store.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("expiry never claimed the session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if bans, _ := gate.counts(); bans != 1 {
		t.Fatalf("bans after expiry = %d, expected 1", bans)
	}
	if _, _, _, notices := msgr.counts(); notices != 1 {
		t.Fatalf("notices = %d, expected 1 timeout notice", notices)
	}

	outcome, err := w.HandleAnswer(ctx, -100, 42, "a")
	if err != nil {
		t.Fatalf("late answer: %v", err)
	}
	if outcome != OutcomeAlreadyResolved {
		t.Fatalf("late answer outcome = %s, expected already_resolved", outcome)
	}
	if bans, _ := gate.counts(); bans != 1 {
		t.Fatalf("late answer changed ban count to %d", bans)
	}
}

func TestAnswerExpiryRaceSingleWinner(t *testing.T) {
	// Simulated concurrent delivery of an answer and the expiry kick must
	// produce exactly one terminal outcome: never two bans, never a
	// ban-plus-verify pair.
	const iterations = 10000
	ctx := context.Background()

	for i := 0; i < iterations; i++ {
		w, store, msgr, gate := newTestWorkflow(testConfig(time.Hour, time.Hour))
		if _, err := store.Create(-1, 7, 0, "Bob", "a"); err != nil {
			t.Fatalf("iteration %d: create: %v", i, err)
		}

		var wg sync.WaitGroup
		var outcome Outcome
		wg.Add(2)
		go func() {
			defer wg.Done()
			outcome, _ = w.HandleAnswer(ctx, -1, 7, "a")
		}()
		go func() {
			defer wg.Done()
			w.expire(ctx, Key{ChatID: -1, UserID: 7})
		}()
		wg.Wait()

		bans, _ := gate.counts()
		_, _, _, notices := msgr.counts()
		switch outcome {
		case OutcomeAccepted:
			if bans != 0 {
				t.Fatalf("iteration %d: verified and banned", i)
			}
		case OutcomeAlreadyResolved:
			if bans != 1 {
				t.Fatalf("iteration %d: expiry won but bans = %d", i, bans)
			}
		default:
			t.Fatalf("iteration %d: unexpected outcome %s", i, outcome)
		}
		if bans > 1 {
			t.Fatalf("iteration %d: double ban", i)
		}
		if notices != 1 {
			t.Fatalf("iteration %d: notices = %d, expected exactly 1", i, notices)
		}
	}
}

func TestAnswerDuringSlowChallengeSend(t *testing.T) {
	// A button press can arrive while the sendMessage HTTP response is still
	// in flight, before the message id reaches the session. The winner must
	// never touch message id 0; the cleanup timer removes the real message.
	cfg := testConfig(20*time.Millisecond, 10*time.Millisecond)
	cfg.DeleteOnResolve = true
	store := NewStore()
	msgr := &slowSendMessenger{delivered: make(chan struct{}), delay: 2 * time.Millisecond}
	gate := &fakeGate{}
	w := NewWorkflow(cfg, store, scheduler.New("test"), msgr, gate, nil)
	ctx := context.Background()

	joinDone := make(chan error, 1)
	go func() {
		joinDone <- w.HandleJoin(ctx, -100, 42, 0, "Alice")
	}()

	<-msgr.delivered
	outcome, err := w.HandleAnswer(ctx, -100, 42, "a")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, expected accepted", outcome)
	}
	if err := <-joinDone; err != nil {
		t.Fatalf("join: %v", err)
	}

	// Whichever side won the race, the real message gets deleted exactly
	// once and id 0 is never used.
	deadline := time.Now().Add(time.Second)
	for {
		cleared, deleted := msgr.touchedIDs()
		for _, id := range cleared {
			if id == 0 {
				t.Fatal("cleared message id 0")
			}
		}
		for _, id := range deleted {
			if id == 0 {
				t.Fatal("deleted message id 0")
			}
		}
		if len(deleted) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("challenge message was never deleted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if bans, _ := gate.counts(); bans != 0 {
		t.Fatalf("correct answer produced %d bans", bans)
	}
}

func TestCleanupDeletesChallengeOnce(t *testing.T) {
	w, _, msgr, _ := newTestWorkflow(testConfig(50*time.Millisecond, 20*time.Millisecond))
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome, _ := w.HandleAnswer(ctx, -100, 42, "a"); outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, expected accepted", outcome)
	}

	// Cleanup fires at window+delay even though the session resolved early.
	deadline := time.Now().Add(time.Second)
	for {
		if _, _, deleted, _ := msgr.counts(); deleted == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cleanup never deleted the challenge message")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if _, _, deleted, _ := msgr.counts(); deleted != 1 {
		t.Fatalf("deleted = %d, expected exactly 1", deleted)
	}
}

func TestDeleteOnResolvePolicy(t *testing.T) {
	cfg := testConfig(time.Minute, time.Minute)
	cfg.DeleteOnResolve = true
	w, _, msgr, _ := newTestWorkflow(cfg)
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome, _ := w.HandleAnswer(ctx, -100, 42, "a"); outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, expected accepted", outcome)
	}

	if _, _, deleted, _ := msgr.counts(); deleted != 1 {
		t.Fatalf("deleted = %d, expected immediate delete at resolve", deleted)
	}
}

func TestJoinAlreadyPending(t *testing.T) {
	w, _, msgr, _ := newTestWorkflow(testConfig(time.Minute, time.Minute))
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second join err = %v, expected ErrAlreadyPending", err)
	}
	if sent, _, _, _ := msgr.counts(); sent != 1 {
		t.Fatalf("sent = %d challenges, expected 1", sent)
	}
}

func TestJoinSendFailureDropsSession(t *testing.T) {
	w, store, msgr, _ := newTestWorkflow(testConfig(time.Minute, time.Minute))
	msgr.sendErr = errors.New("telegram: 502")
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err == nil {
		t.Fatal("expected error when challenge cannot be sent")
	}
	if store.Len() != 0 {
		t.Fatal("session must not linger when the challenge was never posted")
	}
	// The member can join again once transport recovers.
	msgr.sendErr = nil
	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestAuditOutcomeVocabulary(t *testing.T) {
	// Every recorded outcome must be one of the declared State constants.
	rec := &fakeRecorder{}
	store := NewStore()
	w := NewWorkflow(testConfig(time.Minute, time.Minute), store, scheduler.New("test"), &fakeMessenger{}, &fakeGate{}, rec)
	ctx := context.Background()

	if err := w.HandleJoin(ctx, -100, 42, 0, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := w.HandleAnswer(ctx, -100, 42, "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := w.HandleUnban(ctx, -100, 43); err != nil {
		t.Fatalf("unban: %v", err)
	}

	records := rec.all()
	if len(records) != 2 {
		t.Fatalf("records = %d, expected 2", len(records))
	}
	if records[0].outcome != StateVerified || records[0].answer != "a" {
		t.Fatalf("first record = %+v, expected verified with answer a", records[0])
	}
	if records[1].outcome != StateUnbanned || records[1].userID != 43 {
		t.Fatalf("second record = %+v, expected unbanned for user 43", records[1])
	}
}

func TestUnbanWithoutSession(t *testing.T) {
	w, store, _, gate := newTestWorkflow(testConfig(time.Minute, time.Minute))

	if err := w.HandleUnban(context.Background(), -100, 42); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if _, unbans := gate.counts(); unbans != 1 {
		t.Fatalf("unbans = %d, expected 1", unbans)
	}
	if store.Len() != 0 {
		t.Fatal("unban must not create a session")
	}
}
