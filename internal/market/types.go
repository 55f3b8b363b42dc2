package market

type AccountView struct {
	AccountID          string `json:"account_id"`
	BalanceCents       int64  `json:"balance_cents"`
	OutstandingCents   int64  `json:"outstanding_cents"`
	DefaultInvestCents int64  `json:"default_invest_cents"`
	BankruptcyCount    int    `json:"bankruptcy_count"`
}

type Portfolio struct {
	AccountID        string         `json:"account_id"`
	Positions        []PositionView `json:"positions"`
	OutstandingCents int64          `json:"outstanding_cents"`
	BankruptcyCount  int            `json:"bankruptcy_count"`
}

type PositionView struct {
	ItemID              string `json:"item_id"`
	AmountInvestedCents int64  `json:"amount_invested_cents"`
	Fraction            string `json:"fraction"`
	ItemValueCents      int64  `json:"item_value_cents"`
	CurrentWorthCents   int64  `json:"current_worth_cents"`
	UnrealizedCents     int64  `json:"unrealized_cents"`
}

type Sale struct {
	ItemID      string `json:"item_id"`
	PayoutCents int64  `json:"payout_cents"`
}

type Liquidation struct {
	AccountID  string `json:"account_id"`
	TotalCents int64  `json:"total_cents"`
	Sales      []Sale `json:"sales"`
}

type LeaderboardRow struct {
	Rank          int64  `json:"rank"`
	AccountID     string `json:"account_id"`
	NetWorthCents int64  `json:"net_worth_cents"`
}

type Stats struct {
	Items    int  `json:"items"`
	Accounts int  `json:"accounts"`
	Running  bool `json:"running"`
}
