package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/types"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	if _, err := s.Put(types.Wheel{ID: "w1", Title: "Lunch", Slices: []string{"A", "B"}, Owner: "u1"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return s
}

func TestRunTransaction_CommitsAndBumpsVersion(t *testing.T) {
	s := newTestStore(t)

	res, err := RunTransaction(context.Background(), s, "w1", func(tx *Tx) error {
		next := tx.Current
		next.Spin.IsSpinning = true
		next.Spin.InitiatedBy = "u1"
		tx.Set(next)
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	if !res.Committed {
		t.Fatalf("transaction should have committed")
	}
	if res.Wheel.Version != 2 {
		t.Fatalf("unexpected version: got=%d want=2", res.Wheel.Version)
	}

	got, _ := s.Get(context.Background(), "w1")
	if !got.Spin.IsSpinning || got.Spin.InitiatedBy != "u1" {
		t.Fatalf("unexpected stored spin: %+v", got.Spin)
	}
}

func TestRunTransaction_NoSetSkipsWrite(t *testing.T) {
	s := newTestStore(t)

	res, err := RunTransaction(context.Background(), s, "w1", func(tx *Tx) error { return nil })
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	if res.Committed {
		t.Fatalf("transaction without Set must not commit")
	}
	if res.Wheel.Version != 1 {
		t.Fatalf("unexpected version: got=%d want=1", res.Wheel.Version)
	}
}

func TestRunTransaction_FuncErrorIsNotRetried(t *testing.T) {
	s := newTestStore(t)
	sentinel := errors.New("precondition failed")
	calls := 0

	_, err := RunTransaction(context.Background(), s, "w1", func(tx *Tx) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("unexpected call count: got=%d want=1", calls)
	}
}

func TestRunTransaction_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := RunTransaction(context.Background(), s, "missing", func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

type conflictingStore struct {
	*MemoryStore
	conflicts atomic.Int32
}

func (s *conflictingStore) CompareAndSwap(ctx context.Context, id string, v int64, next types.Wheel) (types.Wheel, error) {
	if s.conflicts.Add(-1) >= 0 {
		return types.Wheel{}, ErrConflict
	}
	return s.MemoryStore.CompareAndSwap(ctx, id, v, next)
}

func TestRunTransaction_RetriesConflicts(t *testing.T) {
	s := &conflictingStore{MemoryStore: newTestStore(t)}
	s.conflicts.Store(2)

	res, err := RunTransaction(context.Background(), s, "w1", func(tx *Tx) error {
		tx.Set(tx.Current)
		return nil
	}, WithDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("unexpected attempts: got=%d want=3", res.Attempts)
	}

	s.conflicts.Store(10)
	_, err = RunTransaction(context.Background(), s, "w1", func(tx *Tx) error {
		tx.Set(tx.Current)
		return nil
	}, WithAttempts(2), WithDelay(time.Millisecond))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected error after exhausting attempts: %v", err)
	}
}

func TestRunTransaction_ConcurrentCheckAndSetHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	errBusy := errors.New("busy")

	var wg sync.WaitGroup
	var committed atomic.Int32
	var busy atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := RunTransaction(context.Background(), s, "w1", func(tx *Tx) error {
				if tx.Current.Spin.IsSpinning {
					return errBusy
				}
				next := tx.Current
				next.Spin.IsSpinning = true
				tx.Set(next)
				return nil
			}, WithAttempts(20), WithDelay(time.Millisecond))
			switch {
			case err == nil && res.Committed:
				committed.Add(1)
			case errors.Is(err, errBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected result: committed=%v err=%v", res.Committed, err)
			}
		}()
	}
	wg.Wait()

	if committed.Load() != 1 {
		t.Fatalf("unexpected committed count: got=%d want=1", committed.Load())
	}
	if busy.Load() != 7 {
		t.Fatalf("unexpected busy count: got=%d want=7", busy.Load())
	}
}
