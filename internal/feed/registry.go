package feed

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Observer is notified after every FeedState change. Observers run on the
// registry's notification goroutine, one change at a time and in the order
// the changes were published; they may call back into the registry.
type Observer func(FeedState)

// Registry owns the polling sources of one dashboard session and exposes an
// always-current, read-only view of every feed's state. Each feed has its own
// error slot; a failing feed never affects another.
type Registry struct {
	fetcher Fetcher
	metrics *Metrics
	logger  *logrus.Entry

	mu        sync.RWMutex
	sources   map[string]*Source
	order     []string
	states    map[string]FeedState
	observers []Observer
	disposed  bool

	qmu      sync.Mutex
	queue    []FeedState
	wake     chan struct{}
	quit     chan struct{}
	loopDone chan struct{}
	once     sync.Once
}

// NewRegistry creates an empty registry. metrics and logger may be nil.
func NewRegistry(fetcher Fetcher, metrics *Metrics, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		fetcher:  fetcher,
		metrics:  metrics,
		logger:   logger.WithField("component", "feed_registry"),
		sources:  make(map[string]*Source),
		states:   make(map[string]FeedState),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go r.notifyLoop()
	return r
}

// Handle is a consumer's grip on one registered feed.
type Handle struct {
	registry *Registry
	source   *Source
}

// Key returns the feed key.
func (h *Handle) Key() string {
	return h.source.Key()
}

// Start begins polling the feed. See Source.Start.
func (h *Handle) Start(contextKey string) error {
	return h.source.Start(contextKey)
}

// SetContext switches a parameterized feed's context. See Source.SetContext.
func (h *Handle) SetContext(contextKey string) error {
	return h.source.SetContext(contextKey)
}

// Refresh dispatches an extra attempt now.
func (h *Handle) Refresh() error {
	return h.source.Refresh()
}

// Stop stops this feed only.
func (h *Handle) Stop() {
	h.source.Stop()
}

// State returns the feed's current state.
func (h *Handle) State() FeedState {
	st, _ := h.registry.CurrentState(h.source.Key())
	return st
}

// Register creates an idle source for desc.
func (r *Registry) Register(desc Descriptor) (*Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return nil, ErrDisposed
	}
	if _, exists := r.sources[desc.Key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFeed, desc.Key)
	}

	src := NewSource(desc, r.fetcher, SinkFunc(r.publish),
		WithLogger(r.logger.WithField("component", "feed_source")),
		WithMetrics(r.metrics),
	)
	r.sources[desc.Key] = src
	r.order = append(r.order, desc.Key)
	r.states[desc.Key] = FeedState{Key: desc.Key}

	return &Handle{registry: r, source: src}, nil
}

// Handle returns the handle of a registered feed.
func (r *Registry) Handle(key string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, key)
	}
	return &Handle{registry: r, source: src}, nil
}

// Start starts every registered feed that needs no context key. Parameterized
// feeds start on their first SetContext.
func (r *Registry) Start() error {
	r.mu.RLock()
	if r.disposed {
		r.mu.RUnlock()
		return ErrDisposed
	}
	sources := make([]*Source, 0, len(r.order))
	for _, key := range r.order {
		sources = append(sources, r.sources[key])
	}
	r.mu.RUnlock()

	for _, src := range sources {
		if src.Descriptor().Parameterized() {
			continue
		}
		if err := src.Start(""); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			return fmt.Errorf("failed to start feed %s: %w", src.Key(), err)
		}
	}
	r.logger.WithField("feeds", len(sources)).Info("feed registry started")
	return nil
}

// Subscribe adds an observer for every subsequent FeedState change.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// CurrentState returns the latest state of a feed.
func (r *Registry) CurrentState(key string) (FeedState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[key]
	return st, ok
}

// Snapshot returns a copy of every feed's state keyed by feed key.
func (r *Registry) Snapshot() map[string]FeedState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]FeedState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Errors returns the error of every feed whose latest attempt failed.
func (r *Registry) Errors() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]error)
	for k, v := range r.states {
		if v.Err != nil {
			out[k] = v.Err
		}
	}
	return out
}

// Keys returns registered feed keys sorted alphabetically.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := append([]string(nil), r.order...)
	sort.Strings(keys)
	return keys
}

// Dispose stops every source and the notification loop. Safe to call more
// than once, but not from an Observer.
func (r *Registry) Dispose() {
	r.once.Do(func() {
		r.mu.Lock()
		r.disposed = true
		sources := make([]*Source, 0, len(r.sources))
		for _, src := range r.sources {
			sources = append(sources, src)
		}
		r.mu.Unlock()

		for _, src := range sources {
			src.Stop()
		}

		close(r.quit)
		<-r.loopDone
		r.logger.Info("feed registry disposed")
	})
}

// publish is the Sink of every source. It runs under the source lock, so it
// only records the state and queues the notification.
func (r *Registry) publish(st FeedState) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.states[st.Key] = st
	r.mu.Unlock()

	r.qmu.Lock()
	r.queue = append(r.queue, st)
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) notifyLoop() {
	defer close(r.loopDone)

	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.quit:
			r.drain()
			return
		}
	}
}

func (r *Registry) drain() {
	for {
		r.qmu.Lock()
		pending := r.queue
		r.queue = nil
		r.qmu.Unlock()

		if len(pending) == 0 {
			return
		}

		r.mu.RLock()
		observers := append([]Observer(nil), r.observers...)
		r.mu.RUnlock()

		for _, st := range pending {
			for _, o := range observers {
				o(st)
			}
		}
	}
}
