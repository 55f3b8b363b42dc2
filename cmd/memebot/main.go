package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memestonks/internal/api"
	"memestonks/internal/config"
	"memestonks/internal/discord"
	"memestonks/internal/market"
	"memestonks/internal/metrics"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "memebot",
		Short:        "Discord meme stock market bot",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

type runFlags struct {
	configPath    string
	token         string
	channel       string
	initBalance   int64
	initPost      int64
	defaultInvest int64
	dev           bool
	httpAddr      string
	logLevel      string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and run the market",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := cfg.Log.SlogLevel()
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printBanner(cmd.OutOrStdout(), cfg)
			return run(ctx, cfg, logger)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "path to a TOML config file")
	fl.StringVarP(&f.token, "token", "t", "", "discord bot token")
	fl.StringVarP(&f.channel, "channel", "c", "", "id of the channel designated for investing")
	fl.Int64Var(&f.initBalance, "init-balance", 0, "starting balance for new users, in dollars")
	fl.Int64Var(&f.initPost, "init-post", 0, "starting value of new posts, in dollars; higher makes returns lower")
	fl.Int64Var(&f.defaultInvest, "default-invest", 0, "default investment for new users, in dollars")
	fl.BoolVarP(&f.dev, "dev", "d", false, "enable developer commands")
	fl.StringVar(&f.httpAddr, "http-addr", "", "status server address; empty disables it")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, f runFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("token") {
		cfg.Discord.Token = f.token
	}
	if changed("channel") {
		cfg.Discord.ChannelID = f.channel
	}
	if changed("init-balance") {
		cfg.Market.InitialBalance = f.initBalance
	}
	if changed("init-post") {
		cfg.Market.ItemBaseValue = f.initPost
	}
	if changed("default-invest") {
		cfg.Market.DefaultInvest = f.defaultInvest
	}
	if changed("dev") {
		cfg.Dev = f.dev
	}
	if changed("http-addr") {
		cfg.HTTP.Addr = f.httpAddr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	items := market.NewItemLedger(decimal.NewFromFloat(cfg.Market.DownvoteDecay))
	accounts := market.NewAccountLedger(items, market.DollarsToCents(cfg.Market.DefaultInvest))
	engine := market.NewEngine(items, accounts, market.Options{
		SkimPercent: decimal.NewFromFloat(cfg.Market.SkimPercent),
		Recorder:    metrics.New(reg),
	}, logger)
	metrics.RegisterLedgerGauges(reg, engine.Stats)
	engine.Start()
	defer engine.Stop()

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discord.Intents

	adapter := discord.New(engine, session, discord.Config{
		ChannelID:            cfg.Discord.ChannelID,
		InitialBalanceCents:  market.DollarsToCents(cfg.Market.InitialBalance),
		ItemBaseValueCents:   market.DollarsToCents(cfg.Market.ItemBaseValue),
		BankruptcyResetCents: cfg.Market.BankruptcyResetCents(),
		Dev:                  cfg.Dev,
	}, logger)
	adapter.SetShutdown(cancel)
	adapter.Register(session)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer session.Close()
	logger.Info("discord session open", "channel_id", cfg.Discord.ChannelID, "dev", cfg.Dev)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Addr != "" {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.New(logger, engine, reg).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status server listening", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}
	if cfg.Log.ReportEvery > 0 {
		g.Go(func() error { return reportLoop(ctx, engine, cfg.Log.ReportEvery, logger) })
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}
