// Package metrics exposes Prometheus collectors for the market engine.
package metrics

import (
	"errors"

	"memestonks/internal/market"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements market.Recorder.
type Metrics struct {
	operations *prometheus.CounterVec
	flows      *prometheus.CounterVec
}

// New registers the market collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memestonks_operations_total",
			Help: "Market engine operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		flows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memestonks_flow_cents_total",
			Help: "Cents moved by the market engine by flow kind",
		}, []string{"flow"}),
	}
}

// RegisterLedgerGauges exposes live item and account counts read from stats.
func RegisterLedgerGauges(reg prometheus.Registerer, stats func() market.Stats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "memestonks_items",
		Help: "Number of tracked items",
	}, func() float64 { return float64(stats().Items) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "memestonks_accounts",
		Help: "Number of registered accounts",
	}, func() float64 { return float64(stats().Accounts) })
}

func (m *Metrics) ObserveOperation(op string, err error) {
	m.operations.WithLabelValues(op, Outcome(err)).Inc()
}

func (m *Metrics) ObserveFlow(flow string, cents int64) {
	if cents <= 0 {
		return
	}
	m.flows.WithLabelValues(flow).Add(float64(cents))
}

// Outcome maps an engine error to a bounded label value.
func Outcome(err error) string {
	var liq *market.LiquidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &liq):
		return "partial"
	case errors.Is(err, market.ErrNotFound):
		return "not_found"
	case errors.Is(err, market.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, market.ErrDuplicateInvestment):
		return "duplicate_investment"
	case errors.Is(err, market.ErrNoSuchInvestment):
		return "no_such_investment"
	case errors.Is(err, market.ErrNoInvestments):
		return "no_investments"
	case errors.Is(err, market.ErrHasOutstandingInvestments):
		return "has_outstanding_investments"
	case errors.Is(err, market.ErrTooWealthy):
		return "too_wealthy"
	case errors.Is(err, market.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, market.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, market.ErrAmountOutOfRange):
		return "out_of_range"
	case errors.Is(err, market.ErrEngineStopped):
		return "stopped"
	default:
		return "error"
	}
}
