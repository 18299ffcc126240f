package dashboard

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/trogers1052/trading-dashboard/internal/models"
)

// ErrNoPositions is returned when no positions snapshot has been accepted yet.
var ErrNoPositions = errors.New("no positions snapshot available")

var csvHeader = []string{"symbol", "side", "details"}

// WritePositionsCSV writes one row per position, sorted by symbol. details is
// the position object as JSON.
func WritePositionsCSV(w io.Writer, positions models.Positions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, sym := range positions.Symbols() {
		p := positions[sym]
		if err := cw.Write([]string{sym, p.Side, p.Details()}); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", sym, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportPositionsCSV writes the current positions snapshot as CSV. It never
// fetches.
func (s *Session) ExportPositionsCSV(w io.Writer) error {
	positions, ok := s.CurrentPositions()
	if !ok {
		return ErrNoPositions
	}
	return WritePositionsCSV(w, positions)
}

// Summary derives the dashboard summary from the current snapshots.
func (s *Session) Summary() Summary {
	return Summarize(s.registry.Snapshot())
}
