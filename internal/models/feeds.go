package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decision is one entry of the bot's decision log (GET /decisions).
type Decision struct {
	Timestamp Timestamp       `json:"timestamp"`
	Decision  string          `json:"decision"`
	Symbol    string          `json:"symbol,omitempty"`
	Price     *float64        `json:"price,omitempty"`
	Volume    *float64        `json:"volume,omitempty"`
	Strategy  string          `json:"strategy,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// IsTrade reports whether the decision opened or closed exposure.
func (d Decision) IsTrade() bool {
	switch strings.ToUpper(d.Decision) {
	case "BUY", "SELL":
		return true
	default:
		return false
	}
}

// EquityPoint is one sample of the equity curve (GET /equity).
type EquityPoint struct {
	Timestamp Timestamp       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Metric is one market-regime sample (GET /metrics). Trend arrives as either
// a label ("UP") or a number, so it is kept raw.
type Metric struct {
	Timestamp  Timestamp           `json:"timestamp"`
	Trend      json.RawMessage     `json:"trend,omitempty"`
	Volatility *float64            `json:"volatility,omitempty"`
	Tick       *float64            `json:"tick,omitempty"`
	Equity     decimal.NullDecimal `json:"equity"`
}

// TrendValue maps the trend to a number for charting: numeric values and
// numeric strings as-is, UP=1, DOWN=-1, SIDE/SIDEWAYS=0. Anything else has
// no numeric value.
func (m Metric) TrendValue() (float64, bool) {
	if len(m.Trend) == 0 || bytes.Equal(m.Trend, []byte("null")) {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(m.Trend, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(m.Trend, &s); err != nil {
		return 0, false
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f, true
	}
	switch s {
	case "UP":
		return 1, true
	case "DOWN":
		return -1, true
	case "SIDE", "SIDEWAYS":
		return 0, true
	}
	return 0, false
}

// StrategyStatus is the active strategy router state (GET /strategy).
type StrategyStatus struct {
	Strategy   string          `json:"strategy,omitempty"`
	Cooldown   json.RawMessage `json:"cooldown,omitempty"`
	Modes      json.RawMessage `json:"modes,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Strategies []string        `json:"strategies,omitempty"`
}

// Performance is the aggregate trading performance (GET /performance).
type Performance struct {
	PnL        decimal.NullDecimal `json:"pnl"`
	Winrate    *float64            `json:"winrate,omitempty"`
	Drawdown   *float64            `json:"drawdown,omitempty"`
	OpenTrades *int                `json:"open_trades,omitempty"`
	Trades     *int                `json:"trades,omitempty"`
	Sharpe     *float64            `json:"sharpe,omitempty"`
	Sortino    *float64            `json:"sortino,omitempty"`
}

// Status is the bot/API health summary (GET /status).
type Status struct {
	API          bool            `json:"api"`
	Bot          bool            `json:"bot"`
	Ticks        bool            `json:"ticks"`
	LastDecision json.RawMessage `json:"last_decision,omitempty"`
}
