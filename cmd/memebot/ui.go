package main

import (
	"fmt"
	"io"

	"memestonks/internal/config"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printBanner(w io.Writer, cfg config.Config) {
	accent.Fprintln(w, "memebot "+version)
	neutral.Fprintf(w, "  market channel   %s\n", cfg.Discord.ChannelID)
	neutral.Fprintf(w, "  starting balance $%d\n", cfg.Market.InitialBalance)
	neutral.Fprintf(w, "  post value       $%d\n", cfg.Market.ItemBaseValue)
	if cfg.HTTP.Addr != "" {
		neutral.Fprintf(w, "  status server    %s\n", cfg.HTTP.Addr)
	}
	if cfg.Dev {
		warn.Fprintln(w, "  developer mode: !add, !subtract and !shutdown are enabled")
	}
	fmt.Fprintln(w)
}
