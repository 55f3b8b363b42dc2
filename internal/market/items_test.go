package market

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestItems(t *testing.T) *ItemLedger {
	t.Helper()
	return NewItemLedger(decimal.RequireFromString("0.9"))
}

func TestCreateItem(t *testing.T) {
	l := newTestItems(t)
	it, err := l.CreateItem("1", "poster", 100_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.CurrentValueCents != 100_000 || it.Downvotes != 0 || it.PosterID != "poster" {
		t.Fatalf("unexpected item %+v", it)
	}
	if _, err := l.CreateItem("1", "other", 5); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := l.CreateItem("2", "poster", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestItemLedgerUnknownItem(t *testing.T) {
	l := newTestItems(t)
	ops := map[string]func() error{
		"upvote":   func() error { _, err := l.RecordUpvoteInvestment("x", 10); return err },
		"downvote": func() error { _, err := l.RecordDownvote("x"); return err },
		"remove":   func() error { _, err := l.RemoveDownvote("x"); return err },
		"value":    func() error { _, err := l.GetValue("x"); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrItemNotFound) {
			t.Fatalf("%s: expected ErrItemNotFound, got %v", name, err)
		}
	}
}

func TestUpvoteInvestmentGrowsPoolExactly(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "1", 100_000)

	v, err := l.RecordUpvoteInvestment("1", 1_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 101_000 {
		t.Fatalf("got %d want 101000", v)
	}

	// With downvotes outstanding, an investment still adds exactly its amount.
	if _, err := l.RecordDownvote("1"); err != nil {
		t.Fatalf("downvote: %v", err)
	}
	before, _ := l.GetValue("1")
	after, err := l.RecordUpvoteInvestment("1", 333)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after-before != 333 {
		t.Fatalf("pool grew by %d want 333", after-before)
	}
}

func TestDownvoteRoundTrip(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "1", 100_000)
	if _, err := l.RecordUpvoteInvestment("1", 4_321); err != nil {
		t.Fatalf("upvote: %v", err)
	}

	for depth := 1; depth <= 12; depth++ {
		before, _ := l.GetValue("1")
		down, err := l.RecordDownvote("1")
		if err != nil {
			t.Fatalf("downvote: %v", err)
		}
		if down > before {
			t.Fatalf("downvote raised value %d -> %d", before, down)
		}
		back, err := l.RemoveDownvote("1")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if back != before {
			t.Fatalf("depth=%d round trip %d -> %d -> %d", depth, before, down, back)
		}
		// leave one more downvote outstanding for the next depth
		if _, err := l.RecordDownvote("1"); err != nil {
			t.Fatalf("downvote: %v", err)
		}
	}
}

func TestRemoveDownvoteFlooredAtZero(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "1", 100_000)

	v, err := l.RemoveDownvote("1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 100_000 {
		t.Fatalf("got %d want 100000", v)
	}
	it, _ := l.Get("1")
	if it.Downvotes != 0 {
		t.Fatalf("downvotes went negative: %d", it.Downvotes)
	}
}

func TestValueNeverNegative(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "1", 3)
	for i := 0; i < 500; i++ {
		v, err := l.RecordDownvote("1")
		if err != nil {
			t.Fatalf("downvote: %v", err)
		}
		if v < 0 {
			t.Fatalf("negative value %d after %d downvotes", v, i+1)
		}
	}
}

func TestConcurrentVotesOnOtherItemsDoNotLeak(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "target", 100_000)
	mustCreate(t, l, "noise", 100_000)
	before, _ := l.GetValue("target")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.RecordDownvote("noise")
		}()
		go func() {
			defer wg.Done()
			_, _ = l.RecordDownvote("target")
			_, _ = l.RemoveDownvote("target")
		}()
	}
	wg.Wait()

	after, _ := l.GetValue("target")
	if after != before {
		t.Fatalf("target value drifted %d -> %d", before, after)
	}
}

func mustCreate(t *testing.T, l *ItemLedger, id string, base int64) {
	t.Helper()
	if _, err := l.CreateItem(id, "poster-"+id, base); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestUpvoteInvestmentRejectsOverflow(t *testing.T) {
	l := newTestItems(t)
	mustCreate(t, l, "1", 100_000)

	if _, err := l.RecordUpvoteInvestment("1", math.MaxInt64-100_000+1); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	v, err := l.RecordUpvoteInvestment("1", math.MaxInt64-100_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != math.MaxInt64 {
		t.Fatalf("got %d want MaxInt64", v)
	}
}
