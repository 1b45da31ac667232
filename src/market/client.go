package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pxchart/src/builder"
	"pxchart/src/reqcache"
	"pxchart/src/utils"
)

const (
	DefaultMarketsTTL = 3 * time.Minute
	DefaultSeriesTTL  = time.Minute
)

// Snapshot is one row of the market list
type Snapshot struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	TotalVolume              float64 `json:"total_volume"`
	MarketCap                float64 `json:"market_cap"`
	MarketCapRank            int     `json:"market_cap_rank"`
}

type priceSeriesResponse struct {
	Prices [][]float64 `json:"prices"`
}

type ClientConfig struct {
	BaseURL    string
	Currency   string
	MarketsTTL time.Duration
	SeriesTTL  time.Duration
	// PerPage is the number of rows requested for the market list
	PerPage int
	// RateCapacity and RatePerSec configure the request token bucket
	RateCapacity int
	RatePerSec   float64
}

// Client talks to the market-data REST provider. All responses go
// through the shared request cache so that chart sessions asking for the
// same resource share one request.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	cache  *reqcache.Cache
	bucket *utils.TokenBucket
}

func NewClient(cfg ClientConfig, cache *reqcache.Cache, hc *http.Client) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.MarketsTTL <= 0 {
		cfg.MarketsTTL = DefaultMarketsTTL
	}
	if cfg.SeriesTTL <= 0 {
		cfg.SeriesTTL = DefaultSeriesTTL
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = 5
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 0.5
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if cache == nil {
		cache = reqcache.New()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   hc,
		cache:  cache,
		bucket: utils.NewTokenBucket(cfg.RateCapacity, cfg.RatePerSec),
	}
}

// Markets returns the market snapshot list, cached for MarketsTTL
func (c *Client) Markets(ctx context.Context) ([]Snapshot, error) {
	return reqcache.Get(ctx, c.cache, "markets:"+c.cfg.Currency, c.cfg.MarketsTTL,
		func(ctx context.Context) ([]Snapshot, error) {
			q := url.Values{}
			q.Set("vs_currency", c.cfg.Currency)
			q.Set("order", "market_cap_desc")
			q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
			q.Set("page", "1")
			var rows []Snapshot
			if err := c.getJSON(ctx, "/coins/markets", q, &rows); err != nil {
				return nil, err
			}
			return rows, nil
		})
}

// ResolveID maps a ticker symbol or id to the provider id. If the market
// list is unavailable the lower-case symbol is used as id.
func (c *Client) ResolveID(ctx context.Context, symbol string) string {
	rows, err := c.Markets(ctx)
	if err == nil {
		for _, r := range rows {
			if strings.EqualFold(r.ID, symbol) || strings.EqualFold(r.Symbol, symbol) {
				return r.ID
			}
		}
	}
	return strings.ToLower(symbol)
}

// PriceSeries returns the raw [ts, price] series over the last days
func (c *Client) PriceSeries(ctx context.Context, id string, days int) ([]utils.PricePoint, error) {
	key := fmt.Sprintf("prices:%s:%d", id, days)
	return reqcache.Get(ctx, c.cache, key, c.cfg.SeriesTTL,
		func(ctx context.Context) ([]utils.PricePoint, error) {
			q := url.Values{}
			q.Set("vs_currency", c.cfg.Currency)
			q.Set("days", strconv.Itoa(days))
			var resp priceSeriesResponse
			if err := c.getJSON(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", q, &resp); err != nil {
				return nil, err
			}
			return builder.PointsFromTuples(resp.Prices), nil
		})
}

// NativeCandles returns provider candles; days is snapped to AllowedDays
func (c *Client) NativeCandles(ctx context.Context, id string, days int) ([]utils.Candle, error) {
	days = SnapDays(days)
	key := fmt.Sprintf("ohlc:%s:%d", id, days)
	return reqcache.Get(ctx, c.cache, key, c.cfg.SeriesTTL,
		func(ctx context.Context) ([]utils.Candle, error) {
			q := url.Values{}
			q.Set("vs_currency", c.cfg.Currency)
			q.Set("days", strconv.Itoa(days))
			var rows [][]float64
			if err := c.getJSON(ctx, "/coins/"+url.PathEscape(id)+"/ohlc", q, &rows); err != nil {
				return nil, err
			}
			return builder.CandlesFromTuples(rows), nil
		})
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.bucket.Wait(ctx, 250*time.Millisecond, "market api"); err != nil {
		return err
	}
	endpt := c.cfg.BaseURL + path
	if len(q) > 0 {
		endpt += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpt, nil)
	if err != nil {
		return fmt.Errorf("building request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to make GET request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status code %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from %s: %w", path, err)
	}
	return nil
}
