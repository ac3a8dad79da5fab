package verification

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestStoreCreateAndPeek(t *testing.T) {
	st := NewStore()

	sess, err := st.Create(-100, 42, 7, "Alice", "Водяной пар")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.State != StatePending {
		t.Fatalf("new session state = %s, expected pending", sess.State)
	}
	if st.Len() != 1 {
		t.Fatalf("len = %d, expected 1", st.Len())
	}

	peeked, err := st.Peek(-100, 42)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if peeked != sess {
		t.Fatal("peek returned a different session")
	}
	if st.Len() != 1 {
		t.Fatal("peek must not remove the session")
	}
}

func TestStoreCreateAlreadyPending(t *testing.T) {
	st := NewStore()

	if _, err := st.Create(-100, 42, 0, "Alice", "x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Create(-100, 42, 0, "Alice", "x"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("duplicate create err = %v, expected ErrAlreadyPending", err)
	}

	// Same user in another chat is a distinct key.
	if _, err := st.Create(-200, 42, 0, "Alice", "x"); err != nil {
		t.Fatalf("create in second chat: %v", err)
	}
}

func TestStoreClaimRemoves(t *testing.T) {
	st := NewStore()

	if _, err := st.Claim(-100, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim on empty store err = %v, expected ErrNotFound", err)
	}

	if _, err := st.Create(-100, 42, 0, "Alice", "x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Claim(-100, 42); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := st.Claim(-100, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second claim err = %v, expected ErrNotFound", err)
	}
	if st.Len() != 0 {
		t.Fatalf("len after claim = %d, expected 0", st.Len())
	}
}

func TestStoreClaimExclusive(t *testing.T) {
	// Exactly one of any number of concurrent claimers may win.
	const iterations = 10000
	st := NewStore()

	for i := 0; i < iterations; i++ {
		if _, err := st.Create(-1, int64(i), 0, "u", "x"); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		for c := 0; c < 2; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := st.Claim(-1, int64(i)); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if n := wins.Load(); n != 1 {
			t.Fatalf("iteration %d: %d claim winners, expected exactly 1", i, n)
		}
	}
}
