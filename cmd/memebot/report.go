package main

import (
	"context"
	"log/slog"
	"time"

	"memestonks/internal/market"
)

const reportTop = 3

type reporter interface {
	Stats() market.Stats
	Leaderboard(limit int) ([]market.LeaderboardRow, error)
}

// reportLoop logs a market summary every interval until ctx is done.
func reportLoop(ctx context.Context, m reporter, every time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	logger.Info("market report started", "every", every.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report(m, logger)
		}
	}
}

func report(m reporter, logger *slog.Logger) {
	stats := m.Stats()
	rows, err := m.Leaderboard(reportTop)
	if err != nil {
		logger.Error("market report failed", "err", err)
		return
	}
	logger.Info("market report",
		"items", stats.Items,
		"accounts", stats.Accounts,
		"running", stats.Running,
		slog.Any("leaders", rows),
	)
}
