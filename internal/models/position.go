package models

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// Position is one open position as reported by GET /positions. The API
// returns a mapping of symbol to details, so Symbol is filled from the key.
type Position struct {
	Symbol        string          `json:"symbol,omitempty"`
	Side          string          `json:"side,omitempty"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Amount        decimal.Decimal `json:"amount"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`

	// Raw keeps the position object exactly as the server sent it, including
	// fields this struct does not model.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw object.
func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Position(v)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Details returns the position object as JSON, preferring the server's
// original bytes.
func (p Position) Details() string {
	if len(p.Raw) > 0 {
		return string(p.Raw)
	}
	type plain Position
	b, err := json.Marshal(plain(p))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Positions maps symbol to position details.
type Positions map[string]Position

// UnmarshalJSON decodes the mapping and stamps each position with its symbol.
func (ps *Positions) UnmarshalJSON(data []byte) error {
	var m map[string]Position
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for sym, p := range m {
		p.Symbol = sym
		m[sym] = p
	}
	*ps = m
	return nil
}

// Symbols returns the position symbols in sorted order.
func (ps Positions) Symbols() []string {
	out := make([]string, 0, len(ps))
	for sym := range ps {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ClosedPosition is one entry of GET /positions/closed.
type ClosedPosition struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side,omitempty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Profit     decimal.Decimal `json:"profit"`
	Timestamp  Timestamp       `json:"timestamp"`
}

// HistoryPoint is one sample of GET /positions/{symbol}/history.
type HistoryPoint struct {
	Timestamp Timestamp       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// CloseResult is the response of POST /positions/{symbol}/close.
type CloseResult struct {
	Status string `json:"status,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Closed reports whether the server confirmed the close.
func (r CloseResult) Closed() bool {
	return r.Status == "closed"
}
