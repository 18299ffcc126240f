package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/models"
)

const (
	equityWindow    = 50
	decisionsWindow = 20
	metricsWindow   = 30
)

// TrendPoint is one charted trend sample.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Summary holds the values derived from the current snapshots. It is
// computed on demand and never triggers a fetch.
type Summary struct {
	OpenPositions  int                  `json:"open_positions"`
	UnrealizedPnl  decimal.Decimal      `json:"unrealized_pnl"`
	ClosedCount    int                  `json:"closed_count"`
	TradeCount     int                  `json:"trade_count"`
	DecisionCount  int                  `json:"decision_count"`
	MetricCount    int                  `json:"metric_count"`
	LastMetric     *models.Metric       `json:"last_metric,omitempty"`
	Equity         []models.EquityPoint `json:"equity"`
	Decisions      []models.Decision    `json:"decisions"`
	Trend          []TrendPoint         `json:"trend"`
	SelectedSymbol string               `json:"selected_symbol,omitempty"`
	Errors         map[string]string    `json:"errors"`
}

// Summarize derives a Summary from a registry snapshot.
func Summarize(states map[string]feed.FeedState) Summary {
	sum := Summary{
		UnrealizedPnl: decimal.Zero,
		Equity:        []models.EquityPoint{},
		Decisions:     []models.Decision{},
		Trend:         []TrendPoint{},
		Errors:        make(map[string]string),
	}

	for key, st := range states {
		if st.Err != nil {
			sum.Errors[key] = st.Err.Error()
		}
	}

	if positions, ok := feed.SnapshotAs[models.Positions](states[FeedPositions]); ok {
		sum.OpenPositions = len(positions)
		for _, p := range positions {
			sum.UnrealizedPnl = sum.UnrealizedPnl.Add(p.UnrealizedPnl)
		}
	}

	if closed, ok := feed.SnapshotAs[[]models.ClosedPosition](states[FeedClosedPositions]); ok {
		sum.ClosedCount = len(closed)
	}

	if decisions, ok := feed.SnapshotAs[[]models.Decision](states[FeedDecisions]); ok {
		sum.DecisionCount = len(decisions)
		sum.TradeCount = CountTrades(decisions)
		sum.Decisions = RecentDecisions(decisions, decisionsWindow)
	}

	if equity, ok := feed.SnapshotAs[[]models.EquityPoint](states[FeedEquity]); ok {
		sum.Equity = EquitySeries(equity, equityWindow)
	}

	if metrics, ok := feed.SnapshotAs[[]models.Metric](states[FeedMetrics]); ok {
		sum.MetricCount = len(metrics)
		if len(metrics) > 0 {
			last := metrics[len(metrics)-1]
			sum.LastMetric = &last
		}
		sum.Trend = TrendSeries(metrics, metricsWindow)
	}

	if st, ok := states[FeedHistory]; ok {
		sum.SelectedSymbol = st.ContextKey
	}

	return sum
}

// CountTrades counts BUY and SELL decisions, ignoring case.
func CountTrades(decisions []models.Decision) int {
	n := 0
	for _, d := range decisions {
		if d.IsTrade() {
			n++
		}
	}
	return n
}

// EquitySeries returns the equity points sorted by time ascending, keeping
// the last limit points.
func EquitySeries(points []models.EquityPoint, limit int) []models.EquityPoint {
	out := append([]models.EquityPoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp.Time)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// RecentDecisions returns decisions newest first, at most limit of them.
func RecentDecisions(decisions []models.Decision, limit int) []models.Decision {
	out := append([]models.Decision(nil), decisions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TrendSeries maps the last limit metrics to numeric trend points. Metrics
// without a numeric trend are skipped.
func TrendSeries(metrics []models.Metric, limit int) []TrendPoint {
	if limit > 0 && len(metrics) > limit {
		metrics = metrics[len(metrics)-limit:]
	}
	out := make([]TrendPoint, 0, len(metrics))
	for _, m := range metrics {
		v, ok := m.TrendValue()
		if !ok {
			continue
		}
		out = append(out, TrendPoint{Timestamp: m.Timestamp.Time, Value: v})
	}
	return out
}
