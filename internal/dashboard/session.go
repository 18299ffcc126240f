// Package dashboard composes the feed registry, the transient alert and the
// one-shot actions of a trading dashboard session.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/models"
)

// Alert messages shown to the operator.
const (
	msgLargePnL       = "Uwaga: duży PnL na %s: %s"
	msgClosed         = "Pozycja %s zamknięta!"
	msgCloseRefused   = "Błąd zamykania"
	msgCloseTransport = "Błąd zamykania pozycji"
)

// Session is one dashboard session: the registered feeds, the alert slot and
// the rules that connect them.
type Session struct {
	registry     *feed.Registry
	alerts       *alert.Queue
	closer       PositionCloser
	pnlThreshold decimal.Decimal
	logger       *logrus.Entry

	mu              sync.Mutex
	lastPositionSeq uint64
}

// Options configures a Session.
type Options struct {
	Descriptors  []feed.Descriptor
	PnLThreshold decimal.Decimal
}

// NewSession registers every descriptor on registry and wires the large-PnL
// rule. Feeds are not started until Start.
func NewSession(registry *feed.Registry, alerts *alert.Queue, closer PositionCloser, opts Options, logger *logrus.Entry) (*Session, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{
		registry:     registry,
		alerts:       alerts,
		closer:       closer,
		pnlThreshold: opts.PnLThreshold,
		logger:       logger.WithField("component", "dashboard"),
	}

	for _, desc := range opts.Descriptors {
		if _, err := registry.Register(desc); err != nil {
			return nil, fmt.Errorf("failed to register feed %s: %w", desc.Key, err)
		}
	}
	registry.Subscribe(s.observe)
	return s, nil
}

// LargePnLMessage is the alert text for a position whose PnL crossed the
// threshold.
func LargePnLMessage(symbol string, pnl decimal.Decimal) string {
	return fmt.Sprintf(msgLargePnL, symbol, pnl.String())
}

// ClosedMessage is the alert text for a closed position.
func ClosedMessage(symbol string) string {
	return fmt.Sprintf(msgClosed, symbol)
}

// Registry returns the session's feed registry.
func (s *Session) Registry() *feed.Registry {
	return s.registry
}

// Alerts returns the session's alert queue.
func (s *Session) Alerts() *alert.Queue {
	return s.alerts
}

// Start begins polling every non-parameterized feed.
func (s *Session) Start() error {
	return s.registry.Start()
}

// Dispose stops all feeds and the pending alert expiry. Idempotent.
func (s *Session) Dispose() {
	s.registry.Dispose()
	s.alerts.Close()
}

// SelectSymbol points the history feed at symbol. Symbols keep the casing of
// the positions feed keys; only surrounding space is trimmed.
func (s *Session) SelectSymbol(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	h, err := s.registry.Handle(FeedHistory)
	if err != nil {
		return err
	}
	return h.SetContext(symbol)
}

// Refresh dispatches an immediate attempt for one feed.
func (s *Session) Refresh(key string) error {
	h, err := s.registry.Handle(key)
	if err != nil {
		return err
	}
	return h.Refresh()
}

// ClosePosition asks the bot to close symbol and reports the outcome through
// the alert queue. It never touches feed state; the positions feed picks up
// the change on its next poll.
func (s *Session) ClosePosition(ctx context.Context, symbol string) (models.CloseResult, error) {
	symbol = strings.TrimSpace(symbol)
	log := s.logger.WithField("symbol", symbol)
	if s.closer == nil {
		return models.CloseResult{}, errors.New("close action not configured")
	}

	result, err := s.closer.ClosePosition(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("close position request failed")
		s.alerts.PushKind(alert.KindActionError, msgCloseTransport)
		return result, err
	}

	if result.Closed() {
		log.Info("position closed")
		s.alerts.PushKind(alert.KindAction, ClosedMessage(symbol))
		return result, nil
	}

	reason := result.Error
	if reason == "" {
		reason = msgCloseRefused
	}
	log.WithField("reason", reason).Warn("close position refused")
	s.alerts.PushKind(alert.KindActionError, reason)
	return result, &feed.FetchError{Kind: feed.ActionError, Feed: "close_position", Err: errors.New(reason)}
}

// CurrentPositions returns the last accepted positions snapshot.
func (s *Session) CurrentPositions() (models.Positions, bool) {
	st, ok := s.registry.CurrentState(FeedPositions)
	if !ok {
		return nil, false
	}
	return feed.SnapshotAs[models.Positions](st)
}

// observe runs on the registry's notification goroutine.
func (s *Session) observe(st feed.FeedState) {
	if st.Key != FeedPositions {
		return
	}
	s.checkLargePnL(st)
}

// checkLargePnL alerts once per accepted positions snapshot for every symbol
// whose unrealized PnL exceeds the threshold. Dispatch notifications carry the
// previous sequence and are skipped.
func (s *Session) checkLargePnL(st feed.FeedState) {
	s.mu.Lock()
	if st.Sequence == 0 || st.Sequence == s.lastPositionSeq {
		s.mu.Unlock()
		return
	}
	s.lastPositionSeq = st.Sequence
	s.mu.Unlock()

	if st.Err != nil {
		return
	}
	positions, ok := feed.SnapshotAs[models.Positions](st)
	if !ok {
		return
	}
	for _, sym := range positions.Symbols() {
		pnl := positions[sym].UnrealizedPnl
		if pnl.GreaterThan(s.pnlThreshold) {
			s.alerts.PushKind(alert.KindLargePnL, LargePnLMessage(sym, pnl))
		}
	}
}
