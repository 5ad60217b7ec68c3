package notebook

import (
	"errors"
	"sync"
	"testing"

	"nbisland/internal/protocol"
)

func TestStore_DispatchCommitsAndNotifies(t *testing.T) {
	store := NewStore()
	var seen []int
	unsubscribe := store.Subscribe(func(s State) {
		seen = append(seen, s.Len())
	})

	if _, err := store.Dispatch(InitCells{IDs: []string{"c1", "c2"}}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if store.State().Len() != 2 || store.Version() != 1 {
		t.Fatalf("unexpected store state: len=%d version=%d", store.State().Len(), store.Version())
	}

	unsubscribe()
	if _, err := store.Dispatch(RemoveCell{CellID: "c1"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("unexpected notifications: %v", seen)
	}
}

func TestStore_FailedActionDoesNotCommit(t *testing.T) {
	store := NewStore()
	calls := 0
	store.Subscribe(func(State) { calls++ })
	_, err := store.Dispatch(ApplyCellOp{Op: protocol.CellOp{CellID: "missing"}})
	if !errors.Is(err, ErrUnknownCell) {
		t.Fatalf("expected ErrUnknownCell, got %v", err)
	}
	if calls != 0 || store.Version() != 0 {
		t.Fatalf("failed action should not notify or bump version: calls=%d version=%d", calls, store.Version())
	}
}

func TestStore_ReadersSeeWholeSnapshots(t *testing.T) {
	store := NewStore()
	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := store.State()
			if n := s.Len(); n != 0 && n != len(ids) {
				t.Errorf("observed partial state with %d cells", n)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		if _, err := store.Dispatch(InitCells{IDs: ids}); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if _, err := store.Dispatch(Reset{}); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
