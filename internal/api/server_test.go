package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"memestonks/internal/market"
	"memestonks/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *market.Engine
	srv    *httptest.Server
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	items := market.NewItemLedger(market.DefaultDownvoteDecay)
	accounts := market.NewAccountLedger(items, market.DefaultInvestCents)
	engine := market.NewEngine(items, accounts, market.Options{
		SkimPercent: market.DefaultSkimPercent,
		Recorder:    metrics.New(reg),
	}, logger)
	metrics.RegisterLedgerGauges(reg, engine.Stats)
	engine.Start()
	t.Cleanup(engine.Stop)

	_, err := engine.PostItem("100", "poster", market.DefaultItemBaseValueCents, market.DefaultInitialBalanceCents)
	require.NoError(t, err)
	_, _, err = engine.RegisterAccount("alice", market.DefaultInitialBalanceCents)
	require.NoError(t, err)
	_, err = engine.Invest("alice", "100", 5_000)
	require.NoError(t, err)

	srv := httptest.NewServer(New(logger, engine, reg).Handler())
	t.Cleanup(srv.Close)
	return fixture{engine: engine, srv: srv}
}

func get(t *testing.T, f fixture, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, get(t, f, "/healthz", &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["running"])
}

func TestAccountAndPortfolio(t *testing.T) {
	f := newFixture(t)

	var view market.AccountView
	require.Equal(t, http.StatusOK, get(t, f, "/v1/accounts/alice", &view))
	assert.Equal(t, int64(15_000), view.BalanceCents)
	assert.Equal(t, int64(5_000), view.OutstandingCents)

	var p market.Portfolio
	require.Equal(t, http.StatusOK, get(t, f, "/v1/accounts/alice/portfolio", &p))
	require.Len(t, p.Positions, 1)
	assert.Equal(t, "100", p.Positions[0].ItemID)
	assert.Equal(t, int64(5_000), p.Positions[0].CurrentWorthCents)

	var empty map[string]any
	require.Equal(t, http.StatusOK, get(t, f, "/v1/accounts/poster/portfolio", &empty))
	assert.Equal(t, []any{}, empty["positions"])

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, f, "/v1/accounts/ghost", &errBody))
	assert.Equal(t, "account not found", errBody["error"])
}

func TestItem(t *testing.T) {
	f := newFixture(t)

	var item market.Item
	require.Equal(t, http.StatusOK, get(t, f, "/v1/items/100", &item))
	assert.Equal(t, int64(105_000), item.CurrentValueCents)
	assert.Equal(t, "poster", item.PosterID)

	assert.Equal(t, http.StatusNotFound, get(t, f, "/v1/items/404", nil))
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Rows []market.LeaderboardRow `json:"rows"`
	}
	require.Equal(t, http.StatusOK, get(t, f, "/v1/leaderboard", &body))
	require.Len(t, body.Rows, 2)
	assert.Equal(t, "poster", body.Rows[0].AccountID)
	assert.Equal(t, int64(20_100), body.Rows[0].NetWorthCents)
	assert.Equal(t, int64(2), body.Rows[1].Rank)

	require.Equal(t, http.StatusOK, get(t, f, "/v1/leaderboard?limit=1", &body))
	assert.Len(t, body.Rows, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, f, "/v1/leaderboard?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, f, "/v1/leaderboard?limit=-1", nil))
}

func TestStoppedEngineStillServesReads(t *testing.T) {
	f := newFixture(t)
	f.engine.Stop()

	var body map[string]any
	assert.Equal(t, http.StatusOK, get(t, f, "/healthz", &body))
	assert.Equal(t, false, body["running"])
	assert.Equal(t, http.StatusOK, get(t, f, "/v1/accounts/alice", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.Contains(text, `memestonks_operations_total{operation="invest",outcome="ok"} 1`), text)
	assert.Contains(t, text, `memestonks_flow_cents_total{flow="referral"} 100`)
	assert.Contains(t, text, "memestonks_items 1")
	assert.Contains(t, text, "memestonks_accounts 2")
}
