package market

import (
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Investment is one account's stake in one item. Fraction is fixed when the
// stake is bought; its worth tracks the item's current value. The entry value
// a fraction is measured against includes the stake itself.
type Investment struct {
	ItemID              string          `json:"item_id"`
	AccountID           string          `json:"account_id"`
	AmountInvestedCents int64           `json:"amount_invested_cents"`
	Fraction            decimal.Decimal `json:"fraction"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Account is a snapshot of a participant without its portfolio.
type Account struct {
	ID                 string    `json:"id"`
	BalanceCents       int64     `json:"balance_cents"`
	DefaultInvestCents int64     `json:"default_invest_cents"`
	BankruptcyCount    int       `json:"bankruptcy_count"`
	OpenInvestments    int       `json:"open_investments"`
	CreatedAt          time.Time `json:"created_at"`
}

type account struct {
	id              string
	balance         int64
	defaultInvest   int64
	bankruptcyCount int
	createdAt       time.Time
	investments     map[string]Investment
}

func (a *account) snapshot() Account {
	return Account{
		ID:                 a.id,
		BalanceCents:       a.balance,
		DefaultInvestCents: a.defaultInvest,
		BankruptcyCount:    a.bankruptcyCount,
		OpenInvestments:    len(a.investments),
		CreatedAt:          a.createdAt,
	}
}

// ItemValuer resolves an item's current value. *ItemLedger satisfies it.
type ItemValuer interface {
	GetValue(itemID string) (int64, error)
}

// AccountLedger owns balances and portfolios. It may read item values while
// holding its own lock, so the item side must never call back into it.
type AccountLedger struct {
	mu            sync.RWMutex
	accounts      map[string]*account
	items         ItemValuer
	defaultInvest int64
	now           func() time.Time
}

func NewAccountLedger(items ItemValuer, defaultInvestCents int64) *AccountLedger {
	if defaultInvestCents <= 0 {
		defaultInvestCents = DefaultInvestCents
	}
	return &AccountLedger{
		accounts:      make(map[string]*account),
		items:         items,
		defaultInvest: defaultInvestCents,
		now:           time.Now,
	}
}

// CreateAccount registers id with initialBalanceCents. An existing account
// is returned untouched with created=false.
func (l *AccountLedger) CreateAccount(id string, initialBalanceCents int64) (acct Account, created bool, err error) {
	if initialBalanceCents < 0 {
		return Account{}, false, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.accounts[id]; ok {
		return a.snapshot(), false, nil
	}
	a := &account{
		id:            id,
		balance:       initialBalanceCents,
		defaultInvest: l.defaultInvest,
		createdAt:     l.now().UTC(),
		investments:   make(map[string]Investment),
	}
	l.accounts[id] = a
	return a.snapshot(), true, nil
}

func (l *AccountLedger) Get(id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a.snapshot(), nil
}

func (l *AccountLedger) Deposit(id string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if !fits(a.balance, amountCents) {
		return a.balance, ErrAmountOutOfRange
	}
	a.balance += amountCents
	return a.balance, nil
}

func (l *AccountLedger) Withdraw(id string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if amountCents > a.balance {
		return a.balance, ErrInsufficientFunds
	}
	a.balance -= amountCents
	return a.balance, nil
}

func (l *AccountLedger) SetDefaultInvest(id string, amountCents int64) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.defaultInvest = amountCents
	return nil
}

// GetOutstandingValue sums the current worth of every open investment.
func (l *AccountLedger) GetOutstandingValue(id string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return l.outstanding(a)
}

func (l *AccountLedger) outstanding(a *account) (int64, error) {
	var total int64
	for itemID, inv := range a.investments {
		value, err := l.items.GetValue(itemID)
		if err != nil {
			return 0, err
		}
		total += worthCents(inv.Fraction, value)
	}
	return total, nil
}

// ListInvestments returns the portfolio ordered by item id.
func (l *AccountLedger) ListInvestments(id string) ([]Investment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := make([]Investment, 0, len(a.investments))
	for _, inv := range a.investments {
		out = append(out, inv)
	}
	slices.SortFunc(out, func(x, y Investment) int { return compareIDs(x.ItemID, y.ItemID) })
	return out, nil
}

func (l *AccountLedger) Investment(accountID, itemID string) (Investment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[accountID]
	if !ok {
		return Investment{}, ErrAccountNotFound
	}
	inv, ok := a.investments[itemID]
	if !ok {
		return Investment{}, ErrNoSuchInvestment
	}
	return inv, nil
}

func (l *AccountLedger) AddInvestment(inv Investment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[inv.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if _, dup := a.investments[inv.ItemID]; dup {
		return ErrDuplicateInvestment
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = l.now().UTC()
	}
	a.investments[inv.ItemID] = inv
	return nil
}

// CloseInvestment removes the stake in itemID and credits payoutCents in
// one step.
func (l *AccountLedger) CloseInvestment(accountID, itemID string, payoutCents int64) (Investment, error) {
	if payoutCents < 0 {
		return Investment{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[accountID]
	if !ok {
		return Investment{}, ErrAccountNotFound
	}
	inv, ok := a.investments[itemID]
	if !ok {
		return Investment{}, ErrNoSuchInvestment
	}
	if !fits(a.balance, payoutCents) {
		return Investment{}, ErrAmountOutOfRange
	}
	delete(a.investments, itemID)
	a.balance += payoutCents
	return inv, nil
}

// ResetBalance sets the balance and counts one bankruptcy.
func (l *AccountLedger) ResetBalance(id string, balanceCents int64) (Account, error) {
	if balanceCents < 0 {
		return Account{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	a.balance = balanceCents
	a.bankruptcyCount++
	return a.snapshot(), nil
}

// IDs returns every account id in ascending order.
func (l *AccountLedger) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		out = append(out, id)
	}
	slices.SortFunc(out, compareIDs)
	return out
}

func (l *AccountLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}
