package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/feed"
)

// Channel and key names of the dashboard fan-out.
const (
	FeedChannelPrefix = "dashboard:feed:"
	AlertsChannel     = "dashboard:alerts"
	latestKeySuffix   = ":latest"
)

// FeedChannel returns the channel a feed's state changes are published on.
func FeedChannel(key string) string {
	return FeedChannelPrefix + key
}

// Store is the subset of Client the publisher needs.
type Store interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	SetJSON(ctx context.Context, key string, message interface{}, ttl time.Duration) error
}

// AlertMessage is the payload published on AlertsChannel.
type AlertMessage struct {
	Alert  alert.Alert `json:"alert"`
	Active bool        `json:"active"`
}

type outbound struct {
	channel string
	latest  string // also stored under this key when set
	payload interface{}
}

// Publisher mirrors feed states and alerts to Redis so other processes can
// follow the dashboard. Publishing is asynchronous: observers only enqueue,
// and a full buffer drops the change rather than stalling the feeds.
type Publisher struct {
	store     Store
	logger    *logrus.Entry
	timeout   time.Duration
	latestTTL time.Duration
	queue     chan outbound
	done      chan struct{}
}

// NewPublisher creates a publisher with room for buffer pending changes.
func NewPublisher(store Store, buffer int, logger *logrus.Entry) *Publisher {
	if buffer < 1 {
		buffer = 256
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Publisher{
		store:     store,
		logger:    logger.WithField("component", "redis_publisher"),
		timeout:   2 * time.Second,
		latestTTL: 10 * time.Minute,
		queue:     make(chan outbound, buffer),
		done:      make(chan struct{}),
	}
}

// OnFeedState is a feed.Observer.
func (p *Publisher) OnFeedState(st feed.FeedState) {
	channel := FeedChannel(st.Key)
	p.enqueue(outbound{channel: channel, latest: channel + latestKeySuffix, payload: st})
}

// OnAlert is an alert.Listener.
func (p *Publisher) OnAlert(a alert.Alert, active bool) {
	p.enqueue(outbound{channel: AlertsChannel, payload: AlertMessage{Alert: a, Active: active}})
}

func (p *Publisher) enqueue(msg outbound) {
	select {
	case p.queue <- msg:
	default:
		p.logger.WithField("channel", msg.channel).Warn("redis publish buffer full, dropping update")
	}
}

// Run publishes queued changes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	p.logger.Info("redis publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("redis publisher shutting down")
			return
		case msg := <-p.queue:
			if err := p.publish(ctx, msg); err != nil {
				p.logger.WithError(err).WithField("channel", msg.channel).Warn("redis publish failed")
			}
		}
	}
}

// Done is closed once Run has returned.
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

func (p *Publisher) publish(ctx context.Context, msg outbound) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.store.Publish(ctx, msg.channel, msg.payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.channel, err)
	}
	if msg.latest != "" {
		if err := p.store.SetJSON(ctx, msg.latest, msg.payload, p.latestTTL); err != nil {
			return fmt.Errorf("failed to store %s: %w", msg.latest, err)
		}
	}
	return nil
}
