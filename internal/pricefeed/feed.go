package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/rs/zerolog"
)

const simplePricePath = "/simple/price"

// Options parameterise the collateral price feed.
type Options struct {
	BaseURL         string
	AssetID         string
	VsCurrency      string
	RefreshInterval time.Duration
	RequestTimeout  time.Duration
	FallbackPrice   float64
	UserAgent       string
}

// Quote is a point-in-time observation of the collateral USD price. Stale
// quotes are still served: price is always available to callers.
type Quote struct {
	ValueUSD   float64
	ObservedAt time.Time
	Stale      bool
}

// Feed polls a CoinGecko-style price API on its own timer and caches the most
// recent quote. Single writer (the refresh loop), many readers; readers never
// block on an in-flight fetch and never see an error.
type Feed struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu    sync.RWMutex
	quote Quote
}

// New constructs a Feed seeded with the configured fallback price, marked
// stale until the first successful fetch.
func New(opts Options, logger zerolog.Logger) *Feed {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.AssetID == "" {
		opts.AssetID = "weth"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	if opts.FallbackPrice <= 0 {
		opts.FallbackPrice = 2400.0
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "price_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		quote: Quote{
			ValueUSD:   opts.FallbackPrice,
			ObservedAt: time.Now().UTC(),
			Stale:      true,
		},
	}
}

// CurrentPrice returns the latest cached USD price and whether it came from a
// live fetch. A stale value is usable; computation must never block on price.
func (f *Feed) CurrentPrice() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quote.ValueUSD, !f.quote.Stale
}

// Current returns the full cached quote.
func (f *Feed) Current() Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.quote
}

// Run refreshes the cached quote on the configured interval until ctx is
// cancelled. An immediate fetch runs before the first tick.
func (f *Feed) Run(ctx context.Context) error {
	f.refresh(ctx)

	ticker := time.NewTicker(f.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.refresh(ctx)
		}
	}
}

func (f *Feed) refresh(ctx context.Context) {
	quote, err := f.fetchOnce(ctx)
	if err != nil {
		f.markStale()
		f.logger.Warn().Err(err).Msg("price fetch failed, serving last known value")
		return
	}

	f.mu.Lock()
	f.quote = quote
	f.mu.Unlock()

	f.logger.Debug().Float64("price_usd", quote.ValueUSD).Time("observed_at", quote.ObservedAt).Msg("price refreshed")
}

// markStale keeps the previous value but flags it so callers can surface age.
func (f *Feed) markStale() {
	f.mu.Lock()
	f.quote.Stale = true
	f.mu.Unlock()
}

func (f *Feed) fetchOnce(ctx context.Context) (Quote, error) {
	query := url.Values{}
	query.Set("ids", f.opts.AssetID)
	query.Set("vs_currencies", f.opts.VsCurrency)
	query.Set("include_last_updated_at", "true")

	endpoint := f.baseURL + simplePricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price api status %d", resp.StatusCode)
	}

	var payload map[string]struct {
		USD           float64 `json:"usd"`
		LastUpdatedAt int64   `json:"last_updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, err
	}

	entry, ok := payload[f.opts.AssetID]
	if !ok || entry.USD <= 0 {
		return Quote{}, fmt.Errorf("price api returned no usable %s price", f.opts.AssetID)
	}

	observed := time.Now().UTC()
	if entry.LastUpdatedAt > 0 {
		observed = time.Unix(entry.LastUpdatedAt, 0).UTC()
	}

	return Quote{ValueUSD: entry.USD, ObservedAt: observed}, nil
}
