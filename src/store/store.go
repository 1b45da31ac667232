package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"pxchart/src/utils"
)

const (
	keyPrefix        = "px:"
	DefaultRetention = 182 * 24 * time.Hour
)

// Store keeps streamed ticks in RedisTimeSeries, one series per symbol
type Store struct {
	client      rueidis.Client
	retentionMs int64
}

func New(addr, pw string, retention time.Duration) (*Store, error) {
	client, err := rueidis.NewClient(
		rueidis.ClientOption{InitAddress: []string{addr}, Password: pw})
	if err != nil {
		return nil, fmt.Errorf("redis connection %w", err)
	}
	return NewWithClient(client, retention), nil
}

func NewWithClient(client rueidis.Client, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{client: client, retentionMs: retention.Milliseconds()}
}

func (s *Store) Close() {
	s.client.Close()
}

func key(sym string) string {
	return keyPrefix + strings.ToUpper(sym)
}

// CreateIfNotExists creates the time series for sym
func (s *Store) CreateIfNotExists(ctx context.Context, sym string) error {
	k := key(sym)
	exists, err := s.client.Do(ctx, s.client.B().Exists().Key(k).Build()).AsBool()
	if err != nil {
		return fmt.Errorf("redis query failed: %w", err)
	}
	if exists {
		return nil
	}
	slog.Info("adding time series", "symbol", sym)
	cmd := s.client.B().TsCreate().Key(k).
		Retention(s.retentionMs).
		DuplicatePolicyLast().
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("could not create time-series %s: %w", k, err)
	}
	return nil
}

func (s *Store) AddPriceObs(ctx context.Context, sym string, price float64, timestampMs int64) error {
	ts := strconv.FormatInt(timestampMs, 10)
	resp := s.client.Do(ctx, s.client.B().TsAdd().Key(key(sym)).Timestamp(ts).Value(price).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("add price obs %s: %w", sym, err)
	}
	return nil
}

// Last returns the most recent observation for sym
func (s *Store) Last(ctx context.Context, sym string) (utils.PricePoint, error) {
	res, err := s.client.Do(ctx, s.client.B().TsGet().Key(key(sym)).Build()).ToArray()
	if err != nil {
		return utils.PricePoint{}, fmt.Errorf("ts.get %s: %w", sym, err)
	}
	if len(res) < 2 {
		return utils.PricePoint{}, fmt.Errorf("no observation for %s", sym)
	}
	ts, err := res[0].AsInt64()
	if err != nil {
		return utils.PricePoint{}, fmt.Errorf("ts.get %s timestamp: %w", sym, err)
	}
	px, err := res[1].AsFloat64()
	if err != nil {
		return utils.PricePoint{}, fmt.Errorf("ts.get %s value: %w", sym, err)
	}
	return utils.PricePoint{TsMs: ts, Price: px}, nil
}

// PricePoints returns raw observations in [fromTsMs, toTsMs]. It
// satisfies market.History.
func (s *Store) PricePoints(ctx context.Context, sym string, fromTsMs, toTsMs int64) ([]utils.PricePoint, error) {
	cmd := s.client.B().TsRange().Key(key(sym)).
		Fromtimestamp(strconv.FormatInt(fromTsMs, 10)).Totimestamp(strconv.FormatInt(toTsMs, 10)).
		Build()
	return s.tsRange(ctx, cmd)
}

// Ohlc builds candles of resolSec seconds from the stored observations
// using server-side first/max/min/last aggregation. Empty buckets are
// filled with flat candles at the previous close.
func (s *Store) Ohlc(ctx context.Context, sym string, fromTsMs, toTsMs int64, resolSec uint32) ([]utils.Candle, error) {
	bucket := int64(resolSec) * 1000
	if bucket <= 0 {
		return nil, fmt.Errorf("invalid resolution %d", resolSec)
	}
	aggregations := []string{"first", "max", "min", "last"}
	series := make([][]utils.PricePoint, len(aggregations))
	for j, a := range aggregations {
		data, err := s.rangeAggr(ctx, sym, fromTsMs, toTsMs, bucket, a)
		if err != nil {
			return nil, err
		}
		series[j] = data
	}
	return assembleOhlc(series[0], series[1], series[2], series[3], bucket), nil
}

func (s *Store) rangeAggr(ctx context.Context, sym string, fromTs, toTs, bucketDur int64, aggr string) ([]utils.PricePoint, error) {
	fromTs = fromTs / bucketDur * bucketDur
	rng := s.client.B().TsRange().Key(key(sym)).
		Fromtimestamp(strconv.FormatInt(fromTs, 10)).Totimestamp(strconv.FormatInt(toTs, 10)).
		Align("-")
	var cmd rueidis.Completed
	switch aggr {
	case "first":
		cmd = rng.AggregationFirst().Bucketduration(bucketDur).Build()
	case "max":
		cmd = rng.AggregationMax().Bucketduration(bucketDur).Build()
	case "min":
		cmd = rng.AggregationMin().Bucketduration(bucketDur).Build()
	case "last":
		cmd = rng.AggregationLast().Bucketduration(bucketDur).Build()
	default:
		return nil, fmt.Errorf("invalid aggr type %s", aggr)
	}
	return s.tsRange(ctx, cmd)
}

func (s *Store) tsRange(ctx context.Context, cmd rueidis.Completed) ([]utils.PricePoint, error) {
	raw, err := s.client.Do(ctx, cmd).ToAny()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return []utils.PricePoint{}, nil
		}
		return nil, fmt.Errorf("ts.range: %w", err)
	}
	return parseTsRange(raw), nil
}

// parseTsRange converts a TS.RANGE reply into price points. Malformed
// rows are skipped.
func parseTsRange(data any) []utils.PricePoint {
	rows, ok := data.([]any)
	if !ok {
		return []utils.PricePoint{}
	}
	points := make([]utils.PricePoint, 0, len(rows))
	for _, row := range rows {
		inner, ok := row.([]any)
		if !ok || len(inner) != 2 {
			continue
		}
		ts, ok := inner[0].(int64)
		if !ok {
			continue
		}
		var px float64
		switch v := inner[1].(type) {
		case float64:
			px = v
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				continue
			}
			px = f
		default:
			continue
		}
		points = append(points, utils.PricePoint{TsMs: ts, Price: px})
	}
	return points
}

// assembleOhlc zips per-bucket aggregations into candles and inserts
// flat candles for missing buckets
func assembleOhlc(first, high, low, last []utils.PricePoint, bucket int64) []utils.Candle {
	n := min(len(first), len(high), len(low), len(last))
	candles := make([]utils.Candle, 0, n)
	var tOld int64
	for k := 0; k < n; k++ {
		c := utils.Candle{
			TsMs: first[k].TsMs,
			Time: utils.ConvertTimestampToISO8601(first[k].TsMs),
			O:    first[k].Price,
			H:    high[k].Price,
			L:    low[k].Price,
			C:    last[k].Price,
		}
		if k > 0 {
			prevClose := candles[len(candles)-1].C
			for ts := tOld + bucket; ts < c.TsMs; ts += bucket {
				candles = append(candles, utils.Candle{
					TsMs: ts,
					Time: utils.ConvertTimestampToISO8601(ts),
					O:    prevClose,
					H:    prevClose,
					L:    prevClose,
					C:    prevClose,
				})
			}
		}
		tOld = c.TsMs
		candles = append(candles, c)
	}
	return candles
}
