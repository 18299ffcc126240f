package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink receives every FeedState change of a source, in order. It is called
// with the source lock held, so it must not block or call back into the source.
type Sink interface {
	Publish(state FeedState)
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(FeedState)

func (f SinkFunc) Publish(s FeedState) {
	f(s)
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the source logger.
func WithLogger(l *logrus.Entry) SourceOption {
	return func(s *Source) {
		s.logger = l
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) SourceOption {
	return func(s *Source) {
		s.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = now
	}
}

type sourcePhase int

const (
	phaseIdle sourcePhase = iota
	phasePolling
	phaseStopped
)

// Source is the polling data source of one feed: it owns the repeating fetch
// lifecycle and the feed's FeedState.
//
// Every tick dispatches a new attempt even if earlier ones are still in
// flight; the StaleDataGuard decides which resolution wins.
type Source struct {
	desc    Descriptor
	fetcher Fetcher
	sink    Sink
	metrics *Metrics
	logger  *logrus.Entry
	now     func() time.Time

	mu     sync.Mutex
	phase  sourcePhase
	guard  StaleDataGuard
	state  FeedState
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSource creates an idle source. sink may be nil.
func NewSource(desc Descriptor, fetcher Fetcher, sink Sink, opts ...SourceOption) *Source {
	s := &Source{
		desc:    desc,
		fetcher: fetcher,
		sink:    sink,
		now:     time.Now,
		state:   FeedState{Key: desc.Key},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s.logger = s.logger.WithField("feed", desc.Key)
	return s
}

// Key returns the feed key.
func (s *Source) Key() string {
	return s.desc.Key
}

// Descriptor returns the feed descriptor.
func (s *Source) Descriptor() Descriptor {
	return s.desc
}

// Start begins polling. The first attempt is dispatched before Start returns;
// later ones follow every interval. contextKey is required for parameterized
// feeds and ignored otherwise.
func (s *Source) Start(contextKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(contextKey)
}

func (s *Source) startLocked(contextKey string) error {
	switch s.phase {
	case phasePolling:
		return ErrAlreadyStarted
	case phaseStopped:
		return ErrStopped
	}
	if !s.desc.Parameterized() {
		contextKey = ""
	} else if contextKey == "" {
		return fmt.Errorf("feed %s: %w", s.desc.Key, ErrMissingContext)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.phase = phasePolling
	s.state.ContextKey = contextKey

	s.dispatchLocked()
	go s.run(s.ctx, s.done)

	s.logger.WithFields(logrus.Fields{
		"interval": s.desc.Interval,
		"context":  contextKey,
	}).Info("feed polling started")
	return nil
}

// SetContext switches a parameterized feed to a new context key. Attempts
// dispatched under the previous key are discarded even if they resolve later,
// the previous context's snapshot is cleared and a fresh attempt is issued at
// once. An idle source is started.
func (s *Source) SetContext(contextKey string) error {
	if !s.desc.Parameterized() {
		return fmt.Errorf("feed %s is not parameterized", s.desc.Key)
	}
	if contextKey == "" {
		return fmt.Errorf("feed %s: %w", s.desc.Key, ErrMissingContext)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case phaseIdle:
		return s.startLocked(contextKey)
	case phaseStopped:
		return ErrStopped
	}
	if contextKey == s.state.ContextKey {
		return nil
	}

	gen := s.guard.Advance()
	s.state.ContextKey = contextKey
	s.state.Generation = gen
	s.state.Snapshot = nil
	s.state.Err = nil
	s.state.ErrorKind = NoError
	s.state.LastAcceptedAt = time.Time{}

	s.logger.WithFields(logrus.Fields{
		"context":    contextKey,
		"generation": gen,
	}).Info("feed context changed")

	s.dispatchLocked()
	return nil
}

// Refresh dispatches one attempt now, outside the regular schedule.
func (s *Source) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case phaseIdle:
		return fmt.Errorf("feed %s not started", s.desc.Key)
	case phaseStopped:
		return ErrStopped
	}
	s.dispatchLocked()
	return nil
}

// Stop ends polling. After Stop returns, no attempt dispatched earlier can
// change FeedState, even if its response arrives later. In-flight requests
// have their context cancelled but are not awaited. Stop is idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.phase == phaseStopped {
		s.mu.Unlock()
		return
	}
	wasPolling := s.phase == phasePolling
	s.phase = phaseStopped
	s.guard.Stop()
	done := s.done
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.metrics.setLoading(s.desc.Key, false)
	if wasPolling {
		<-done
		s.logger.Info("feed polling stopped")
	}
}

// State returns a copy of the current FeedState.
func (s *Source) State() FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.desc.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.phase == phasePolling {
				s.dispatchLocked()
			}
			s.mu.Unlock()
		}
	}
}

// dispatchLocked tags a new attempt, marks the feed loading and launches the
// fetch. Caller holds s.mu.
func (s *Source) dispatchLocked() {
	attempt := s.guard.Dispatch(s.state.ContextKey, s.now())
	s.state.Loading = true
	s.publishLocked()
	s.metrics.setLoading(s.desc.Key, true)

	go s.resolve(s.ctx, attempt)
}

func (s *Source) resolve(ctx context.Context, attempt Attempt) {
	snapshot, err := s.fetcher.Fetch(ctx, s.desc, attempt.ContextKey)
	took := s.now().Sub(attempt.DispatchedAt)

	s.mu.Lock()
	defer s.mu.Unlock()

	verdict := s.guard.Admit(attempt)
	if verdict != Accept {
		s.metrics.observeAttempt(s.desc.Key, OutcomeDiscarded, took)
		s.logger.WithFields(logrus.Fields{
			"sequence":   attempt.Sequence,
			"generation": attempt.Generation,
			"reason":     verdict.String(),
		}).Debug("discarding stale attempt")
		return
	}

	s.state.Loading = false
	s.state.Sequence = attempt.Sequence
	s.state.Generation = attempt.Generation
	if err != nil {
		// Keep the last good snapshot visible; only flag the error
		s.state.Err = err
		s.state.ErrorKind = KindOf(err)
		s.metrics.observeAttempt(s.desc.Key, OutcomeErrored, took)
		s.logger.WithFields(logrus.Fields{
			"sequence": attempt.Sequence,
			"kind":     s.state.ErrorKind.String(),
		}).WithError(err).Warn("feed fetch failed")
	} else {
		s.state.Snapshot = snapshot
		s.state.Err = nil
		s.state.ErrorKind = NoError
		s.state.LastAcceptedAt = s.now()
		s.metrics.observeAttempt(s.desc.Key, OutcomeAccepted, took)
	}
	s.metrics.setLoading(s.desc.Key, false)
	s.publishLocked()
}

func (s *Source) publishLocked() {
	if s.sink != nil {
		s.sink.Publish(s.state)
	}
}
