// Package discord maps Discord gateway events onto market engine calls and
// renders the results back as channel messages and DMs.
package discord

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"memestonks/internal/market"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// Messenger is the slice of *discordgo.Session the adapter talks to.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
}

type Config struct {
	ChannelID            string
	InitialBalanceCents  int64
	ItemBaseValueCents   int64
	BankruptcyResetCents int64
	Dev                  bool
}

const memberPageSize = 1000

// Intents the adapter needs from the gateway.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMembers |
	discordgo.IntentGuildMessages |
	discordgo.IntentGuildMessageReactions |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// Adapter maps each inbound event to one engine operation. Commands and
// endorsements from a user not seen before first register them; that call is
// idempotent and leaves nothing to undo if the operation after it fails.
// Replies are sent only after the engine calls have returned.
type Adapter struct {
	engine *market.Engine
	out    Messenger
	cfg    Config
	log    *slog.Logger

	mu       sync.RWMutex
	botID    string
	shutdown func()
}

func New(engine *market.Engine, out Messenger, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		engine: engine,
		out:    out,
		cfg:    cfg,
		log:    logger.With(slog.String("component", "discord")),
	}
}

// Register attaches the adapter's handlers to s.
func (a *Adapter) Register(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { a.OnReady(r) })
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) { a.OnMemberAdd(m) })
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { a.OnMessage(m) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { a.OnReactionAdd(r) })
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) { a.OnReactionRemove(r) })
}

// SetShutdown sets what `!shutdown` and a missing market channel call.
func (a *Adapter) SetShutdown(fn func()) {
	a.mu.Lock()
	a.shutdown = fn
	a.mu.Unlock()
}

func (a *Adapter) requestShutdown() {
	a.mu.RLock()
	fn := a.shutdown
	a.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (a *Adapter) isBot(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return userID != "" && userID == a.botID
}

func (a *Adapter) eventLog(event string) *slog.Logger {
	return a.log.With(slog.String("event", event), slog.String("event_id", uuid.NewString()))
}

// OnReady registers every member of the market channel's guild.
func (a *Adapter) OnReady(r *discordgo.Ready) {
	log := a.eventLog("ready")
	if r.User != nil {
		a.mu.Lock()
		a.botID = r.User.ID
		a.mu.Unlock()
		log.Info("logged in", "user", r.User.Username, "user_id", r.User.ID)
	}

	n, err := a.loadMembers()
	if err != nil {
		log.Error("load members failed", "channel_id", a.cfg.ChannelID, "err", err)
		a.requestShutdown()
		return
	}
	log.Info("members loaded",
		"registered", n,
		"initial_balance_cents", a.cfg.InitialBalanceCents,
		"dev", a.cfg.Dev,
	)
}

func (a *Adapter) loadMembers() (int, error) {
	ch, err := a.out.Channel(a.cfg.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("market channel %s: %w", a.cfg.ChannelID, err)
	}
	if ch.GuildID == "" {
		return 0, fmt.Errorf("market channel %s is not in a guild", a.cfg.ChannelID)
	}

	registered := 0
	after := ""
	for {
		page, err := a.out.GuildMembers(ch.GuildID, after, memberPageSize)
		if err != nil {
			return registered, fmt.Errorf("guild members: %w", err)
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot || a.isBot(m.User.ID) {
				continue
			}
			_, created, err := a.engine.RegisterAccount(m.User.ID, a.cfg.InitialBalanceCents)
			if err != nil {
				return registered, err
			}
			if created {
				registered++
			}
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return registered, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (a *Adapter) OnMemberAdd(m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.User.Bot {
		return
	}
	log := a.eventLog("member_add")
	_, created, err := a.engine.RegisterAccount(m.User.ID, a.cfg.InitialBalanceCents)
	if err != nil {
		log.Warn("register member failed", "user_id", m.User.ID, "err", err)
		return
	}
	if created {
		log.Info("new member registered", "user_id", m.User.ID, "balance_cents", a.cfg.InitialBalanceCents)
	}
}

// OnMessage treats DMs as commands and market channel posts as new items.
func (a *Adapter) OnMessage(m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.Author.Bot || a.isBot(m.Author.ID) {
		return
	}
	if m.GuildID == "" {
		a.handleCommand(m.Message)
		return
	}
	if m.ChannelID != a.cfg.ChannelID {
		return
	}

	log := a.eventLog("post")
	item, err := a.engine.PostItem(m.ID, m.Author.ID, a.cfg.ItemBaseValueCents, a.cfg.InitialBalanceCents)
	if err != nil {
		log.Warn("post item failed", "item_id", m.ID, "err", err)
		return
	}
	log.Info("item listed", "item_id", item.ID, "poster_id", item.PosterID, "value_cents", item.CurrentValueCents)
	for _, emoji := range []string{thumbsUp, thumbsDown} {
		if err := a.out.MessageReactionAdd(m.ChannelID, m.ID, emoji); err != nil {
			log.Warn("add reaction failed", "item_id", m.ID, "emoji", emoji, "err", err)
		}
	}
}

func (a *Adapter) OnReactionAdd(r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || !a.tracked(r.MessageReaction) {
		return
	}
	switch r.Emoji.Name {
	case thumbsUp:
		a.endorse(r.MessageReaction)
	case thumbsDown:
		log := a.eventLog("downvote")
		value, err := a.engine.Downvote(r.MessageID)
		if err != nil {
			log.Debug("downvote ignored", "item_id", r.MessageID, "err", err)
			return
		}
		log.Info("downvoted", "item_id", r.MessageID, "user_id", r.UserID, "value_cents", value)
	}
}

func (a *Adapter) OnReactionRemove(r *discordgo.MessageReactionRemove) {
	if r.MessageReaction == nil || !a.tracked(r.MessageReaction) || r.Emoji.Name != thumbsDown {
		return
	}
	log := a.eventLog("undo_downvote")
	value, err := a.engine.UndoDownvote(r.MessageID)
	if err != nil {
		log.Debug("undo downvote ignored", "item_id", r.MessageID, "err", err)
		return
	}
	log.Info("downvote removed", "item_id", r.MessageID, "user_id", r.UserID, "value_cents", value)
}

// tracked reports whether a reaction should reach the engine: it is in the
// market channel and was not made by the bot.
func (a *Adapter) tracked(r *discordgo.MessageReaction) bool {
	return r.ChannelID == a.cfg.ChannelID && !a.isBot(r.UserID)
}

func (a *Adapter) endorse(r *discordgo.MessageReaction) {
	log := a.eventLog("endorse")
	if _, _, err := a.engine.RegisterAccount(r.UserID, a.cfg.InitialBalanceCents); err != nil {
		log.Warn("register account failed", "user_id", r.UserID, "err", err)
		return
	}
	inv, err := a.engine.Endorse(r.UserID, r.MessageID)
	switch {
	case errors.Is(err, market.ErrItemNotFound):
		// Posted before the bot started; nothing to invest in.
		log.Debug("endorse ignored", "item_id", r.MessageID)
		return
	case err != nil:
		log.Info("endorse rejected", "item_id", r.MessageID, "user_id", r.UserID, "err", err)
		a.dm(log, r.UserID, errorText(err))
		return
	}
	log.Info("invested", "item_id", inv.ItemID, "user_id", inv.AccountID, "amount_cents", inv.AmountInvestedCents)
	a.dm(log, r.UserID, fmt.Sprintf("You have successfully invested %s", usd(inv.AmountInvestedCents)))
}

func (a *Adapter) handleCommand(m *discordgo.Message) {
	cmd, ok := parseCommand(m.Content)
	if !ok {
		return
	}
	if devOnly[cmd.name] && !a.cfg.Dev {
		return
	}

	log := a.eventLog("command").With("command", cmd.name, "user_id", m.Author.ID)
	userID := m.Author.ID
	if _, _, err := a.engine.RegisterAccount(userID, a.cfg.InitialBalanceCents); err != nil {
		log.Warn("register account failed", "err", err)
		a.reply(log, m.ChannelID, errorText(err))
		return
	}

	var msg string
	switch cmd.name {
	case "help":
		msg = helpText(userID, a.cfg.Dev)
	case "balance":
		msg = a.balance(userID)
	case "portfolio":
		msg = a.portfolio(userID)
	case "val":
		msg = a.setDefault(userID, cmd.args)
	case "sell":
		msg = a.sell(userID, cmd.args)
	case "my_id":
		msg = userID
	case "bankrupt":
		msg = a.bankrupt(userID)
	case "add", "subtract":
		msg = a.adjust(userID, cmd.name == "subtract", cmd.args)
	case "shutdown":
		log.Warn("shutdown requested")
		a.reply(log, m.ChannelID, "Shutting down.")
		a.requestShutdown()
		return
	default:
		msg = "I don't know that command. Try `!help`."
	}
	log.Debug("command handled")
	a.reply(log, m.ChannelID, msg)
}

func (a *Adapter) balance(userID string) string {
	v, err := a.engine.Balance(userID)
	if err != nil {
		return errorText(err)
	}
	return balanceText(v)
}

func (a *Adapter) portfolio(userID string) string {
	p, err := a.engine.Portfolio(userID)
	if err != nil {
		return errorText(err)
	}
	return portfolioText(p)
}

func (a *Adapter) setDefault(userID string, args []string) string {
	cents, msg := amountArg(args)
	if msg != "" {
		return msg
	}
	if err := a.engine.SetDefaultInvestAmount(userID, cents); err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Default Investment Value changed to `%s`", usd(cents))
}

func (a *Adapter) sell(userID string, args []string) string {
	if len(args) != 1 {
		return "Please give a single post ID, or `all`, after the command."
	}
	if strings.EqualFold(args[0], "all") {
		l, err := a.engine.SellAll(userID)
		if err != nil {
			return errorText(err)
		}
		return liquidationText(l)
	}
	payout, err := a.engine.Sell(userID, args[0])
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Income from sale: `%s`", usd(payout))
}

func (a *Adapter) bankrupt(userID string) string {
	acct, err := a.engine.DeclareBankruptcy(userID, a.cfg.BankruptcyResetCents)
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("You have successfully declared bankruptcy. You have been granted a balance of %s.",
		usd(acct.BalanceCents))
}

func (a *Adapter) adjust(userID string, debit bool, args []string) string {
	cents, msg := amountArg(args)
	if msg != "" {
		return msg
	}
	if debit {
		cents = -cents
	}
	bal, err := a.engine.AdjustBalance(userID, cents)
	if err != nil {
		return errorText(err)
	}
	return fmt.Sprintf("Your new balance is `%s`", usd(bal))
}

// amountArg returns the single dollar argument in cents, or the reply to
// send when it is missing or malformed.
func amountArg(args []string) (int64, string) {
	if len(args) != 1 {
		return 0, "Please ensure there is only a single number argument after the command."
	}
	cents, err := market.ParseDollars(args[0])
	if errors.Is(err, market.ErrInvalidAmount) || errors.Is(err, market.ErrAmountOutOfRange) {
		return 0, errorText(err)
	}
	if err != nil {
		return 0, "Sorry, that wasn't a number."
	}
	return cents, ""
}

func (a *Adapter) reply(log *slog.Logger, channelID, content string) {
	if _, err := a.out.ChannelMessageSend(channelID, content); err != nil {
		log.Warn("send message failed", "channel_id", channelID, "err", err)
	}
}

func (a *Adapter) dm(log *slog.Logger, userID, content string) {
	ch, err := a.out.UserChannelCreate(userID)
	if err != nil {
		log.Warn("open dm failed", "user_id", userID, "err", err)
		return
	}
	a.reply(log, ch.ID, content)
}
