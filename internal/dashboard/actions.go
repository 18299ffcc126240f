package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/models"
)

// PositionCloser performs the close-position action against the bot.
type PositionCloser interface {
	ClosePosition(ctx context.Context, symbol string) (models.CloseResult, error)
}

// APIActions sends one-shot actions through the feed fetcher's HTTP client.
type APIActions struct {
	fetcher *feed.HTTPFetcher
}

// NewAPIActions creates an action client sharing the fetcher's transport and
// rate limit.
func NewAPIActions(fetcher *feed.HTTPFetcher) *APIActions {
	return &APIActions{fetcher: fetcher}
}

// ClosePosition calls POST /positions/{symbol}/close. The body is decoded
// whatever the status code; the bot reports refusals as {"error": "..."}.
func (a *APIActions) ClosePosition(ctx context.Context, symbol string) (models.CloseResult, error) {
	resp, err := a.fetcher.Post(ctx, "/positions/"+url.PathEscape(symbol)+"/close")
	if err != nil {
		return models.CloseResult{}, &feed.FetchError{Kind: feed.NetworkError, Feed: "close_position", Err: err}
	}

	var result models.CloseResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return models.CloseResult{}, &feed.FetchError{
			Kind:       feed.NetworkError,
			Feed:       "close_position",
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("failed to decode close response: %w", err),
		}
	}
	return result, nil
}
