// Package pricing serves the upstream market item list through the cache.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/market-gateway/pkg/cache"
	"github.com/Sternrassler/market-gateway/pkg/fetch"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultTTL is how long an item list stays cached.
const DefaultTTL = 5 * time.Minute

// MarketItem is the gateway's view of one upstream item.
type MarketItem struct {
	MarketHashName string              `json:"marketHashName"`
	SuggestedPrice decimal.NullDecimal `json:"suggestedPrice"`
	// MinPrice is null when the item has no listings.
	MinPrice decimal.NullDecimal `json:"minPrice"`
}

// upstreamItem is the subset of the upstream item the gateway reads.
type upstreamItem struct {
	MarketHashName string              `json:"market_hash_name"`
	SuggestedPrice decimal.NullDecimal `json:"suggested_price"`
	MinPrice       decimal.NullDecimal `json:"min_price"`
}

// Fetcher performs upstream GET requests. *fetch.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Config holds the service configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. https://api.skinport.com/v1
	BaseURL string

	// TTL of cached item lists
	TTL time.Duration
}

// Service answers item list queries.
type Service struct {
	fetcher Fetcher
	aside   *cache.Aside
	config  Config
	logger  zerolog.Logger
}

// NewService creates a pricing service.
func NewService(fetcher Fetcher, aside *cache.Aside, cfg Config, logger zerolog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Service{
		fetcher: fetcher,
		aside:   aside,
		config:  cfg,
		logger:  logger.With().Str("component", "pricing").Logger(),
	}
}

// GetMarketItems returns the item list for q, from cache when possible.
// Upstream failures match fetch.ErrUpstreamFetchFailed and are not cached.
func (s *Service) GetMarketItems(ctx context.Context, q Query) ([]MarketItem, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	return cache.GetOrSet(ctx, s.aside, q.Key(), s.config.TTL, func(ctx context.Context) ([]MarketItem, error) {
		return s.fetchItems(ctx, q)
	})
}

func (s *Service) fetchItems(ctx context.Context, q Query) ([]MarketItem, error) {
	start := time.Now()

	body, err := s.fetcher.Get(ctx, s.config.BaseURL+"/items", q.params())
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}

	var raw []upstreamItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode items: %v", fetch.ErrUpstreamFetchFailed, err)
	}

	items := make([]MarketItem, 0, len(raw))
	for _, it := range raw {
		items = append(items, MarketItem{
			MarketHashName: it.MarketHashName,
			SuggestedPrice: it.SuggestedPrice,
			MinPrice:       it.MinPrice,
		})
	}

	s.logger.Info().
		Int("app_id", q.AppID).
		Str("currency", q.Currency).
		Int("tradable", q.Tradable).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetched item list from upstream")

	return items, nil
}
