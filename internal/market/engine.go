package market

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Recorder receives one observation per engine operation. Flows are cents
// moved by kind ("invested", "paid_out", "referral", "bankruptcy").
type Recorder interface {
	ObserveOperation(op string, err error)
	ObserveFlow(flow string, cents int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error) {}
func (nopRecorder) ObserveFlow(string, int64)      {}

type Options struct {
	SkimPercent decimal.Decimal
	Recorder    Recorder
}

// Engine is the only place that touches both ledgers in one operation.
// Multi-ledger operations and views run under mu, so every operation is
// all-or-nothing as seen by the others. Downvotes touch only the item ledger
// and rely on its own lock.
type Engine struct {
	items    *ItemLedger
	accounts *AccountLedger
	log      *slog.Logger
	rec      Recorder
	skim     decimal.Decimal

	mu      sync.Mutex
	running atomic.Bool
}

func NewEngine(items *ItemLedger, accounts *AccountLedger, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.SkimPercent.IsNegative() || opts.SkimPercent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		opts.SkimPercent = DefaultSkimPercent
	}
	return &Engine{
		items:    items,
		accounts: accounts,
		log:      logger.With(slog.String("component", "market")),
		rec:      opts.Recorder,
		skim:     opts.SkimPercent,
	}
}

func (e *Engine) Start() {
	if e.running.CompareAndSwap(false, true) {
		e.log.Info("market engine started")
	}
}

// Stop waits for the operation in flight, if any, then rejects new ones.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.CompareAndSwap(true, false) {
		e.log.Info("market engine stopped")
	}
}

func (e *Engine) Running() bool { return e.running.Load() }

func (e *Engine) Stats() Stats {
	return Stats{
		Items:    e.items.Len(),
		Accounts: e.accounts.Len(),
		Running:  e.running.Load(),
	}
}

// RegisterAccount is idempotent; concurrent registrations of one id yield
// a single account.
func (e *Engine) RegisterAccount(accountID string, initialBalanceCents int64) (Account, bool, error) {
	if !e.Running() {
		return Account{}, false, ErrEngineStopped
	}
	acct, created, err := e.accounts.CreateAccount(accountID, initialBalanceCents)
	if created {
		e.log.Debug("account registered", "account_id", accountID, "balance_cents", initialBalanceCents)
	}
	return acct, created, err
}

// PostItem starts tracking a new item. The poster is registered with
// posterBalanceCents if not yet known so referral credits have somewhere to
// land.
func (e *Engine) PostItem(itemID, posterID string, baseValueCents, posterBalanceCents int64) (Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, err := e.postItemLocked(itemID, posterID, baseValueCents, posterBalanceCents)
	e.observe("post", err, "item_id", itemID, "poster_id", posterID)
	return item, err
}

func (e *Engine) postItemLocked(itemID, posterID string, baseValueCents, posterBalanceCents int64) (Item, error) {
	if !e.Running() {
		return Item{}, ErrEngineStopped
	}
	if _, err := e.items.Get(itemID); err == nil {
		return Item{}, ErrAlreadyExists
	}
	if _, _, err := e.accounts.CreateAccount(posterID, posterBalanceCents); err != nil {
		return Item{}, err
	}
	return e.items.CreateItem(itemID, posterID, baseValueCents)
}

// Invest buys a stake of amountCents in itemID. The stake's fraction is
// measured against the pool including the stake itself, so selling at an
// unchanged value returns exactly amountCents.
func (e *Engine) Invest(accountID, itemID string, amountCents int64) (Investment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inv, err := e.investLocked(accountID, itemID, amountCents)
	e.observe("invest", err, "account_id", accountID, "item_id", itemID, "amount_cents", amountCents)
	return inv, err
}

// Endorse invests the account's default amount.
func (e *Engine) Endorse(accountID, itemID string) (Investment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var amount int64
	inv, err := func() (Investment, error) {
		acct, err := e.accounts.Get(accountID)
		if err != nil {
			return Investment{}, err
		}
		amount = acct.DefaultInvestCents
		return e.investLocked(accountID, itemID, amount)
	}()
	e.observe("endorse", err, "account_id", accountID, "item_id", itemID, "amount_cents", amount)
	return inv, err
}

func (e *Engine) investLocked(accountID, itemID string, amountCents int64) (Investment, error) {
	if !e.Running() {
		return Investment{}, ErrEngineStopped
	}
	if amountCents <= 0 {
		return Investment{}, ErrInvalidAmount
	}
	item, err := e.items.Get(itemID)
	if err != nil {
		return Investment{}, err
	}
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return Investment{}, err
	}
	if _, err := e.accounts.Investment(accountID, itemID); err == nil {
		return Investment{}, ErrDuplicateInvestment
	}
	if amountCents > acct.BalanceCents {
		return Investment{}, ErrInsufficientFunds
	}
	if !fits(item.BaseValueCents+item.InvestedTotalCents, amountCents) {
		return Investment{}, ErrAmountOutOfRange
	}

	// Every failure mode is ruled out above; nothing below can fail while
	// mu is held.
	if _, err := e.accounts.Withdraw(accountID, amountCents); err != nil {
		return Investment{}, err
	}
	entryValue, err := e.items.RecordUpvoteInvestment(itemID, amountCents)
	if err != nil {
		return Investment{}, err
	}
	inv := Investment{
		ItemID:              itemID,
		AccountID:           accountID,
		AmountInvestedCents: amountCents,
		Fraction:            ownershipFraction(amountCents, entryValue),
	}
	if err := e.accounts.AddInvestment(inv); err != nil {
		return Investment{}, err
	}
	e.rec.ObserveFlow("invested", amountCents)

	if item.PosterID != accountID {
		if credit := referralCents(amountCents, e.skim); credit > 0 {
			if _, err := e.accounts.Deposit(item.PosterID, credit); err != nil {
				e.log.Warn("referral credit skipped", "poster_id", item.PosterID, "item_id", itemID, "err", err)
			} else {
				e.rec.ObserveFlow("referral", credit)
			}
		}
	}
	return e.accounts.Investment(accountID, itemID)
}

func (e *Engine) Downvote(itemID string) (int64, error) {
	if !e.Running() {
		return 0, ErrEngineStopped
	}
	v, err := e.items.RecordDownvote(itemID)
	e.observe("downvote", err, "item_id", itemID, "value_cents", v)
	return v, err
}

func (e *Engine) UndoDownvote(itemID string) (int64, error) {
	if !e.Running() {
		return 0, ErrEngineStopped
	}
	v, err := e.items.RemoveDownvote(itemID)
	e.observe("undo_downvote", err, "item_id", itemID, "value_cents", v)
	return v, err
}

// Sell closes the account's stake in itemID at the item's current value.
func (e *Engine) Sell(accountID, itemID string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payout, err := e.sellLocked(accountID, itemID)
	e.observe("sell", err, "account_id", accountID, "item_id", itemID, "payout_cents", payout)
	return payout, err
}

func (e *Engine) sellLocked(accountID, itemID string) (int64, error) {
	if !e.Running() {
		return 0, ErrEngineStopped
	}
	inv, err := e.accounts.Investment(accountID, itemID)
	if err != nil {
		return 0, err
	}
	value, err := e.items.GetValue(itemID)
	if err != nil {
		return 0, err
	}
	payout := worthCents(inv.Fraction, value)
	if _, err := e.accounts.CloseInvestment(accountID, itemID, payout); err != nil {
		return 0, err
	}
	e.rec.ObserveFlow("paid_out", payout)
	return payout, nil
}

// SellAll liquidates the portfolio in ascending item id order. A failing
// sale stops the run; earlier sales stay committed and are reported in a
// *LiquidationError.
func (e *Engine) SellAll(accountID string) (Liquidation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.sellAllLocked(accountID)
	e.observe("sell_all", err, "account_id", accountID, "sold", len(out.Sales), "total_cents", out.TotalCents)
	return out, err
}

func (e *Engine) sellAllLocked(accountID string) (Liquidation, error) {
	out := Liquidation{AccountID: accountID}
	if !e.Running() {
		return out, ErrEngineStopped
	}
	invs, err := e.accounts.ListInvestments(accountID)
	if err != nil {
		return out, err
	}
	if len(invs) == 0 {
		return out, ErrNoInvestments
	}
	for _, inv := range invs {
		payout, err := e.sellLocked(accountID, inv.ItemID)
		if err != nil {
			return out, &LiquidationError{Liquidation: out, Err: err}
		}
		out.Sales = append(out.Sales, Sale{ItemID: inv.ItemID, PayoutCents: payout})
		out.TotalCents += payout
	}
	return out, nil
}

// DeclareBankruptcy resets the balance to resetCents when the account holds
// no investments and its balance is below resetCents.
func (e *Engine) DeclareBankruptcy(accountID string, resetCents int64) (Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct, err := e.bankruptLocked(accountID, resetCents)
	e.observe("bankrupt", err, "account_id", accountID, "reset_cents", resetCents)
	return acct, err
}

func (e *Engine) bankruptLocked(accountID string, resetCents int64) (Account, error) {
	if !e.Running() {
		return Account{}, ErrEngineStopped
	}
	if resetCents <= 0 {
		return Account{}, ErrInvalidAmount
	}
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return Account{}, err
	}
	outstanding, err := e.accounts.GetOutstandingValue(accountID)
	if err != nil {
		return Account{}, err
	}
	if acct.OpenInvestments > 0 || outstanding != 0 {
		return Account{}, ErrHasOutstandingInvestments
	}
	if acct.BalanceCents >= resetCents {
		return Account{}, ErrTooWealthy
	}
	granted := resetCents - acct.BalanceCents
	acct, err = e.accounts.ResetBalance(accountID, resetCents)
	if err != nil {
		return Account{}, err
	}
	e.rec.ObserveFlow("bankruptcy", granted)
	return acct, nil
}

func (e *Engine) SetDefaultInvestAmount(accountID string, amountCents int64) error {
	if !e.Running() {
		return ErrEngineStopped
	}
	err := e.accounts.SetDefaultInvest(accountID, amountCents)
	e.observe("set_default", err, "account_id", accountID, "amount_cents", amountCents)
	return err
}

// AdjustBalance credits (delta > 0) or debits (delta < 0) an account
// outside of trading. Debits never take the balance below zero.
func (e *Engine) AdjustBalance(accountID string, deltaCents int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal, err := func() (int64, error) {
		if !e.Running() {
			return 0, ErrEngineStopped
		}
		switch {
		case deltaCents > 0:
			return e.accounts.Deposit(accountID, deltaCents)
		case deltaCents < 0:
			return e.accounts.Withdraw(accountID, -deltaCents)
		default:
			return 0, ErrInvalidAmount
		}
	}()
	e.observe("adjust", err, "account_id", accountID, "delta_cents", deltaCents)
	return bal, err
}

// Balance, Portfolio and Leaderboard hold mu so they never observe an
// operation half applied.
func (e *Engine) Balance(accountID string) (AccountView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balanceLocked(accountID)
}

func (e *Engine) balanceLocked(accountID string) (AccountView, error) {
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return AccountView{}, err
	}
	outstanding, err := e.accounts.GetOutstandingValue(accountID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		AccountID:          acct.ID,
		BalanceCents:       acct.BalanceCents,
		OutstandingCents:   outstanding,
		DefaultInvestCents: acct.DefaultInvestCents,
		BankruptcyCount:    acct.BankruptcyCount,
	}, nil
}

func (e *Engine) Portfolio(accountID string) (Portfolio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Portfolio{AccountID: accountID}
	acct, err := e.accounts.Get(accountID)
	if err != nil {
		return out, err
	}
	out.BankruptcyCount = acct.BankruptcyCount

	invs, err := e.accounts.ListInvestments(accountID)
	if err != nil {
		return out, err
	}
	for _, inv := range invs {
		value, err := e.items.GetValue(inv.ItemID)
		if err != nil {
			return out, err
		}
		worth := worthCents(inv.Fraction, value)
		out.Positions = append(out.Positions, PositionView{
			ItemID:              inv.ItemID,
			AmountInvestedCents: inv.AmountInvestedCents,
			Fraction:            inv.Fraction.String(),
			ItemValueCents:      value,
			CurrentWorthCents:   worth,
			UnrealizedCents:     worth - inv.AmountInvestedCents,
		})
		out.OutstandingCents += worth
	}
	return out, nil
}

func (e *Engine) Item(itemID string) (Item, error) {
	return e.items.Get(itemID)
}

// Leaderboard ranks accounts by balance plus outstanding value, ties broken
// by account id.
func (e *Engine) Leaderboard(limit int) ([]LeaderboardRow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.accounts.IDs()
	rows := make([]LeaderboardRow, 0, len(ids))
	for _, id := range ids {
		view, err := e.balanceLocked(id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, LeaderboardRow{AccountID: id, NetWorthCents: view.BalanceCents + view.OutstandingCents})
	}
	slices.SortStableFunc(rows, func(a, b LeaderboardRow) int {
		switch {
		case a.NetWorthCents > b.NetWorthCents:
			return -1
		case a.NetWorthCents < b.NetWorthCents:
			return 1
		}
		return compareIDs(a.AccountID, b.AccountID)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = int64(i + 1)
	}
	return rows, nil
}

func (e *Engine) observe(op string, err error, attrs ...any) {
	e.rec.ObserveOperation(op, err)
	if err == nil {
		e.log.Debug(op, attrs...)
		return
	}
	attrs = append(attrs, "err", err)
	var liq *LiquidationError
	if errors.Is(err, ErrEngineStopped) || errors.As(err, &liq) {
		e.log.Warn(op+" failed", attrs...)
		return
	}
	e.log.Info(op+" rejected", attrs...)
}
