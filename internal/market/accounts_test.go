package market

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func newTestAccounts(t *testing.T) (*ItemLedger, *AccountLedger) {
	t.Helper()
	items := newTestItems(t)
	return items, NewAccountLedger(items, DefaultInvestCents)
}

func TestCreateAccountIdempotent(t *testing.T) {
	_, l := newTestAccounts(t)

	a, created, err := l.CreateAccount("u1", 20_000)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if a.BalanceCents != 20_000 || a.DefaultInvestCents != DefaultInvestCents {
		t.Fatalf("unexpected account %+v", a)
	}
	if _, err := l.Withdraw("u1", 5_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	again, created, err := l.CreateAccount("u1", 99_999)
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
	if again.BalanceCents != 15_000 {
		t.Fatalf("re-registration reset balance to %d", again.BalanceCents)
	}
}

func TestCreateAccountConcurrent(t *testing.T) {
	_, l := newTestAccounts(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := l.CreateAccount("same", 20_000)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if createdCount != 1 || l.Len() != 1 {
		t.Fatalf("created=%d len=%d", createdCount, l.Len())
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	_, l := newTestAccounts(t)
	if _, _, err := l.CreateAccount("u1", 1_000); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Withdraw("u1", 1_001); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	bal, err := l.Withdraw("u1", 1_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bal != 0 {
		t.Fatalf("got balance %d want 0", bal)
	}
	if _, err := l.Withdraw("ghost", 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := l.Deposit("u1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestInvestmentsOrderedAndValued(t *testing.T) {
	items, l := newTestAccounts(t)
	for _, id := range []string{"300", "20", "1000"} {
		mustCreate(t, items, id, 100_000)
	}
	if _, _, err := l.CreateAccount("u1", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range []string{"300", "20", "1000"} {
		entry, err := items.RecordUpvoteInvestment(id, 1_000)
		if err != nil {
			t.Fatalf("upvote: %v", err)
		}
		if err := l.AddInvestment(Investment{ItemID: id, AccountID: "u1", AmountInvestedCents: 1_000, Fraction: ownershipFraction(1_000, entry)}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := l.AddInvestment(Investment{ItemID: "20", AccountID: "u1"}); !errors.Is(err, ErrDuplicateInvestment) {
		t.Fatalf("expected ErrDuplicateInvestment, got %v", err)
	}

	invs, err := l.ListInvestments("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{invs[0].ItemID, invs[1].ItemID, invs[2].ItemID}
	if got[0] != "20" || got[1] != "300" || got[2] != "1000" {
		t.Fatalf("unexpected order %v", got)
	}

	out, err := l.GetOutstandingValue("u1")
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if out != 3_000 {
		t.Fatalf("got outstanding %d want 3000", out)
	}
}

func TestCloseInvestment(t *testing.T) {
	items, l := newTestAccounts(t)
	mustCreate(t, items, "1", 100_000)
	if _, _, err := l.CreateAccount("u1", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.CloseInvestment("u1", "1", 10); !errors.Is(err, ErrNoSuchInvestment) {
		t.Fatalf("expected ErrNoSuchInvestment, got %v", err)
	}
	if err := l.AddInvestment(Investment{ItemID: "1", AccountID: "u1", AmountInvestedCents: 500}); err != nil {
		t.Fatalf("add: %v", err)
	}
	inv, err := l.CloseInvestment("u1", "1", 750)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if inv.AmountInvestedCents != 500 {
		t.Fatalf("unexpected investment %+v", inv)
	}
	a, _ := l.Get("u1")
	if a.BalanceCents != 750 || a.OpenInvestments != 0 {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestResetBalanceCountsBankruptcy(t *testing.T) {
	_, l := newTestAccounts(t)
	if _, _, err := l.CreateAccount("u1", 4_000); err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := l.ResetBalance("u1", 5_000)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if a.BalanceCents != 5_000 || a.BankruptcyCount != 1 {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestCreditsNeverOverflow(t *testing.T) {
	items, l := newTestAccounts(t)
	mustCreate(t, items, "1", 100_000)
	if _, _, err := l.CreateAccount("u1", math.MaxInt64-10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Deposit("u1", 11); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	if err := l.AddInvestment(Investment{ItemID: "1", AccountID: "u1", AmountInvestedCents: 500}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := l.CloseInvestment("u1", "1", 11); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	a, _ := l.Get("u1")
	if a.BalanceCents != math.MaxInt64-10 || a.OpenInvestments != 1 {
		t.Fatalf("failed credit mutated the account: %+v", a)
	}
	bal, err := l.Deposit("u1", 10)
	if err != nil || bal != math.MaxInt64 {
		t.Fatalf("deposit to the limit: bal=%d err=%v", bal, err)
	}
}
