package dashboard

import (
	"fmt"

	"github.com/trogers1052/trading-dashboard/internal/config"
	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/models"
)

// Feed keys of the dashboard session.
const (
	FeedPositions       = "positions"
	FeedClosedPositions = "closed_positions"
	FeedHistory         = "history"
	FeedEquity          = "equity"
	FeedDecisions       = "decisions"
	FeedStatus          = "status"
	FeedStrategy        = "strategy"
	FeedPerformance     = "performance"
	FeedMetrics         = "metrics"
)

// Catalog returns the descriptors of every dashboard feed. Position-related
// feeds poll on the fast interval, everything else on the slow one.
func Catalog(cfg config.FeedsConfig) []feed.Descriptor {
	limit := cfg.DecisionsLimit
	if limit <= 0 {
		limit = 20
	}

	return []feed.Descriptor{
		{
			Key:      FeedPositions,
			Path:     "/positions",
			Interval: cfg.FastInterval,
			Decode:   feed.JSONDecoder[models.Positions](feed.ObjectShape),
		},
		{
			Key:      FeedClosedPositions,
			Path:     "/positions/closed",
			Interval: cfg.FastInterval,
			Decode:   feed.JSONDecoder[[]models.ClosedPosition](feed.ArrayShape),
		},
		{
			Key:      FeedHistory,
			Path:     "/positions/" + feed.ContextPlaceholder + "/history",
			Interval: cfg.FastInterval,
			Decode:   feed.JSONDecoder[[]models.HistoryPoint](feed.ArrayShape),
		},
		{
			Key:      FeedEquity,
			Path:     "/equity",
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[[]models.EquityPoint](feed.ArrayShape),
		},
		{
			Key:      FeedDecisions,
			Path:     fmt.Sprintf("/decisions?limit=%d", limit),
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[[]models.Decision](feed.ArrayShape),
		},
		{
			Key:      FeedStatus,
			Path:     "/status",
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[models.Status](feed.ObjectShape),
		},
		{
			Key:      FeedStrategy,
			Path:     "/strategy",
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[models.StrategyStatus](feed.ObjectShape),
		},
		{
			Key:      FeedPerformance,
			Path:     "/performance",
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[models.Performance](feed.ObjectShape),
		},
		{
			Key:      FeedMetrics,
			Path:     "/metrics",
			Interval: cfg.SlowInterval,
			Decode:   feed.JSONDecoder[[]models.Metric](feed.ArrayShape),
		},
	}
}
