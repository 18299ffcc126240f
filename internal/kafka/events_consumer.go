package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/dashboard"
)

// Event types published by the trading bot.
const (
	EventPositionClosed   = "POSITION_CLOSED"
	EventLargePnL         = "LARGE_PNL"
	EventPositionsUpdated = "POSITIONS_UPDATED"
)

// AlertPusher receives alerts raised by bot events.
type AlertPusher interface {
	PushKind(kind alert.Kind, message string) alert.Alert
}

// FeedRefresher triggers an out-of-schedule poll of a feed.
type FeedRefresher interface {
	Refresh(key string) error
}

// TradingEvent represents a trading bot event from Kafka
type TradingEvent struct {
	EventType string           `json:"event_type"`
	Source    string           `json:"source"`
	Timestamp string           `json:"timestamp"`
	Data      TradingEventData `json:"data"`
}

// TradingEventData holds the data for different trading event types
type TradingEventData struct {
	Symbol        string              `json:"symbol,omitempty"`
	UnrealizedPnl decimal.NullDecimal `json:"unrealized_pnl"`
	Message       string              `json:"message,omitempty"`
}

// EventsConsumer turns bot events into dashboard alerts and early refreshes
type EventsConsumer struct {
	reader    *kafka.Reader
	alerts    AlertPusher
	refresher FeedRefresher
	logger    *logrus.Entry
}

// NewEventsConsumer creates a new Kafka consumer for trading events
func NewEventsConsumer(brokers []string, topic, groupID string, alerts AlertPusher, refresher FeedRefresher, logger *logrus.Entry) *EventsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-events",
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset, // Only live events matter to a dashboard
		CommitInterval: time.Second,
	})

	return newEventsConsumer(reader, alerts, refresher, logger)
}

func newEventsConsumer(reader *kafka.Reader, alerts AlertPusher, refresher FeedRefresher, logger *logrus.Entry) *EventsConsumer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EventsConsumer{
		reader:    reader,
		alerts:    alerts,
		refresher: refresher,
		logger:    logger.WithField("component", "events_consumer"),
	}
}

// Start begins consuming messages from Kafka
func (c *EventsConsumer) Start(ctx context.Context) error {
	c.logger.WithField("topic", c.reader.Config().Topic).Info("starting trading events consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("trading events consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				c.logger.WithError(err).Warn("error reading trading event")
				continue
			}

			if err := c.processMessage(msg); err != nil {
				c.logger.WithError(err).Warn("error processing trading event")
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *EventsConsumer) processMessage(msg kafka.Message) error {
	c.logger.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       string(msg.Key),
	}).Debug("received trading event")

	var event TradingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal trading event: %w", err)
	}

	switch event.EventType {
	case EventPositionClosed:
		return c.handlePositionClosed(event)

	case EventLargePnL:
		return c.handleLargePnL(event)

	case EventPositionsUpdated:
		return c.refresh(dashboard.FeedPositions)

	default:
		c.logger.WithField("event_type", event.EventType).Debug("ignoring unknown trading event type")
		return nil
	}
}

// handlePositionClosed announces the close and refreshes both position feeds
func (c *EventsConsumer) handlePositionClosed(event TradingEvent) error {
	symbol := strings.ToUpper(event.Data.Symbol)
	if symbol == "" {
		return errors.New("position closed event without symbol")
	}

	c.alerts.PushKind(alert.KindAction, dashboard.ClosedMessage(symbol))

	return errors.Join(
		c.refresh(dashboard.FeedPositions),
		c.refresh(dashboard.FeedClosedPositions),
	)
}

// handleLargePnL relays a threshold breach the bot observed itself
func (c *EventsConsumer) handleLargePnL(event TradingEvent) error {
	symbol := strings.ToUpper(event.Data.Symbol)
	if symbol == "" {
		return errors.New("large pnl event without symbol")
	}

	message := event.Data.Message
	if message == "" {
		if !event.Data.UnrealizedPnl.Valid {
			return fmt.Errorf("large pnl event for %s without pnl", symbol)
		}
		message = dashboard.LargePnLMessage(symbol, event.Data.UnrealizedPnl.Decimal)
	}

	c.alerts.PushKind(alert.KindLargePnL, message)
	return nil
}

func (c *EventsConsumer) refresh(key string) error {
	if c.refresher == nil {
		return nil
	}
	if err := c.refresher.Refresh(key); err != nil {
		return fmt.Errorf("failed to refresh %s: %w", key, err)
	}
	return nil
}

// Close closes the Kafka consumer
func (c *EventsConsumer) Close() error {
	return c.reader.Close()
}
