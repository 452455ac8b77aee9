// README: Concurrency tests: racing transitions and order-number allocation.
package order

import (
	"context"
	"sync"
	"testing"
)

func TestConcurrentAcceptSameOrder(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	orderID := mustPlace(t, svc, 1, 2)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(ctx, partnerActor(2), orderID)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrConflict && err != ErrInvalidState {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	assertStatus(t, svc, orderID, StatusAccepted)
	history := mustHistory(t, svc, orderID)
	// seed + the single winning accept
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	orderID := mustPlace(t, svc, 1, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, partnerActor(2), orderID)
		errs <- err
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, patientActor(1), orderID, "no longer needed")
		errs <- err
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrConflict && err != ErrInvalidState {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 {
		t.Fatalf("expected at least 1 success, got %d", success)
	}

	// Both can win: cancel is legal from accepted. The final status must be
	// one of the two outcomes, never a torn state.
	o, err := svc.Get(ctx, adminActor(1), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != StatusAccepted && o.Status != StatusCancelled {
		t.Fatalf("unexpected final status: %s", o.Status)
	}
}

func TestConcurrentPlaceUniqueNumbers(t *testing.T) {
	store, _ := setupTestStore(t)
	svc := NewService(store, nil)
	ctx := context.Background()

	const orders = 6
	var wg sync.WaitGroup
	numbers := make(chan string, orders)

	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _, err := svc.Place(ctx, patientActor(1), PlaceCommand{PartnerOrgID: 2})
			if err != nil {
				t.Errorf("place: %v", err)
				return
			}
			numbers <- o.OrderNumber
		}()
	}

	wg.Wait()
	close(numbers)

	seen := make(map[string]struct{})
	for n := range numbers {
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate order number allocated: %s", n)
		}
		seen[n] = struct{}{}
	}
	if len(seen) != orders {
		t.Fatalf("expected %d distinct order numbers, got %d", orders, len(seen))
	}
}
