package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a snapshot of one tracked post and its value pool.
type Item struct {
	ID                 string    `json:"id"`
	PosterID           string    `json:"poster_id"`
	BaseValueCents     int64     `json:"base_value_cents"`
	CurrentValueCents  int64     `json:"current_value_cents"`
	InvestedTotalCents int64     `json:"invested_total_cents"`
	Downvotes          int64     `json:"downvotes"`
	CreatedAt          time.Time `json:"created_at"`
}

// ItemLedger owns the valuation state of every item. Items are never
// removed.
//
// An item's value is its decayed base pool plus everything invested into it:
//
//	current = round(base × decay^downvotes) + invested
type ItemLedger struct {
	mu    sync.RWMutex
	items map[string]*Item
	decay decimal.Decimal
	now   func() time.Time
}

// NewItemLedger returns an empty ledger. A decay outside (0, 1] falls back
// to DefaultDownvoteDecay.
func NewItemLedger(decay decimal.Decimal) *ItemLedger {
	if !decay.IsPositive() || decay.GreaterThan(decimal.NewFromInt(1)) {
		decay = DefaultDownvoteDecay
	}
	return &ItemLedger{
		items: make(map[string]*Item),
		decay: decay,
		now:   time.Now,
	}
}

func (l *ItemLedger) CreateItem(id, posterID string, baseValueCents int64) (Item, error) {
	if baseValueCents <= 0 {
		return Item{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.items[id]; ok {
		return Item{}, ErrAlreadyExists
	}
	it := &Item{
		ID:                id,
		PosterID:          posterID,
		BaseValueCents:    baseValueCents,
		CurrentValueCents: baseValueCents,
		CreatedAt:         l.now().UTC(),
	}
	l.items[id] = it
	return *it, nil
}

// RecordUpvoteInvestment grows the pool by exactly amountCents.
func (l *ItemLedger) RecordUpvoteInvestment(id string, amountCents int64) (int64, error) {
	if amountCents <= 0 {
		return 0, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[id]
	if !ok {
		return 0, ErrItemNotFound
	}
	if !fits(it.BaseValueCents+it.InvestedTotalCents, amountCents) {
		return it.CurrentValueCents, ErrAmountOutOfRange
	}
	it.InvestedTotalCents += amountCents
	l.revalue(it)
	return it.CurrentValueCents, nil
}

func (l *ItemLedger) RecordDownvote(id string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[id]
	if !ok {
		return 0, ErrItemNotFound
	}
	it.Downvotes++
	l.revalue(it)
	return it.CurrentValueCents, nil
}

// RemoveDownvote is floored at zero outstanding downvotes.
func (l *ItemLedger) RemoveDownvote(id string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[id]
	if !ok {
		return 0, ErrItemNotFound
	}
	if it.Downvotes > 0 {
		it.Downvotes--
	}
	l.revalue(it)
	return it.CurrentValueCents, nil
}

func (l *ItemLedger) GetValue(id string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	it, ok := l.items[id]
	if !ok {
		return 0, ErrItemNotFound
	}
	return it.CurrentValueCents, nil
}

func (l *ItemLedger) Get(id string) (Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	it, ok := l.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return *it, nil
}

func (l *ItemLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *ItemLedger) revalue(it *Item) {
	it.CurrentValueCents = decayedValueCents(it.BaseValueCents, it.Downvotes, l.decay) + it.InvestedTotalCents
}
