package discord

import (
	"errors"
	"fmt"
	"strings"

	"memestonks/internal/market"

	"github.com/Rhymond/go-money"
)

const (
	thumbsUp   = "👍"
	thumbsDown = "👎"
)

func usd(cents int64) string {
	return money.New(cents, money.USD).Display()
}

func mention(userID string) string {
	return "<@" + userID + ">"
}

func helpText(userID string, dev bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s, here are some things you can ask me:\n", mention(userID))
	b.WriteString("\t`!help` - Displays this help dialog.\n")
	b.WriteString("\t`!balance` - Get information about your current balance.\n")
	b.WriteString("\t`!portfolio` - Get information about your current investment portfolio.\n")
	b.WriteString("\t`!val AMOUNT` - Change your default investment value for new investments.\n")
	b.WriteString("\t`!sell ITEM_ID` - Sell your investment for its current value.\n")
	b.WriteString("\t`!sell all` - Sell all outstanding investments for their current value.\n")
	b.WriteString("\t`!my_id` - Show your account id.\n")
	b.WriteString("\t`!bankrupt` - Usable only when close to $0 to help you get back on your feet.\n")
	if dev {
		b.WriteString("\t`!add AMOUNT` / `!subtract AMOUNT` - Adjust your balance (dev).\n")
		b.WriteString("\t`!shutdown` - Stop the bot (dev).\n")
	}
	b.WriteString("**Instructions:**\n")
	fmt.Fprintf(&b, "To invest in a post simply react to it with %s\n", thumbsUp)
	fmt.Fprintf(&b, "When investing with %s, you always invest your default investment amount.", thumbsUp)
	return b.String()
}

func balanceText(v market.AccountView) string {
	return fmt.Sprintf("Here is your balance information:\n"+
		"`Balance: %s`\n"+
		"`Total Investments Outstanding: %s`\n"+
		"`Default investment amount: %s`",
		usd(v.BalanceCents), usd(v.OutstandingCents), usd(v.DefaultInvestCents))
}

func portfolioText(p market.Portfolio) string {
	var b strings.Builder
	if len(p.Positions) == 0 {
		b.WriteString("You currently have `0` investments.\n")
	} else {
		fmt.Fprintf(&b, "You have `%d` investment(s):\n", len(p.Positions))
		for _, pos := range p.Positions {
			fmt.Fprintf(&b, "`%s` invested %s, now worth %s (%s)\n",
				pos.ItemID, usd(pos.AmountInvestedCents), usd(pos.CurrentWorthCents), signed(pos.UnrealizedCents))
		}
		fmt.Fprintf(&b, "Total outstanding: %s\n", usd(p.OutstandingCents))
	}
	fmt.Fprintf(&b, "You have declared bankruptcy %d times.", p.BankruptcyCount)
	return b.String()
}

func signed(cents int64) string {
	if cents > 0 {
		return "+" + usd(cents)
	}
	return usd(cents)
}

func liquidationText(l market.Liquidation) string {
	return fmt.Sprintf("Sold %d investment(s). Income from sale: `%s`", len(l.Sales), usd(l.TotalCents))
}

// errorText turns an engine error into the reply a user sees.
func errorText(err error) string {
	var liq *market.LiquidationError
	switch {
	case errors.As(err, &liq):
		return fmt.Sprintf("Sold %d investment(s) for `%s` before stopping: %s",
			len(liq.Liquidation.Sales), usd(liq.Liquidation.TotalCents), errorText(liq.Err))
	case errors.Is(err, market.ErrNoSuchInvestment):
		return "You do not have any investments with that ID."
	case errors.Is(err, market.ErrNoInvestments):
		return "You currently have `0` investments."
	case errors.Is(err, market.ErrHasOutstandingInvestments):
		return "You cannot declare bankruptcy unless you have 0 investments."
	case errors.Is(err, market.ErrTooWealthy):
		return "You have too much money to declare bankruptcy."
	case errors.Is(err, market.ErrInsufficientFunds):
		return "You do not have enough money for that."
	case errors.Is(err, market.ErrDuplicateInvestment):
		return "You have already invested in that post."
	case errors.Is(err, market.ErrItemNotFound):
		return "That post is not on the market."
	case errors.Is(err, market.ErrAccountNotFound):
		return "You do not have an account yet."
	case errors.Is(err, market.ErrInvalidAmount):
		return "Amounts must be greater than $0."
	case errors.Is(err, market.ErrAmountOutOfRange):
		return "That amount is too large."
	case errors.Is(err, market.ErrEngineStopped):
		return "The market is closed right now."
	default:
		return "Something went wrong, please try again."
	}
}
