package builder

import (
	"math"

	"pxchart/src/utils"
)

// MinNativeCandles is the smallest native candle response we accept.
// Anything shorter is replaced by candles built from the price series.
const MinNativeCandles = 10

// Aggregate downsamples points into roughly target candles. Points are
// split into contiguous buckets of max(1, len/target) points; the last
// bucket may be shorter. Each candle takes its timestamp from the last
// point of the bucket.
func Aggregate(points []utils.PricePoint, target int) []utils.Candle {
	if len(points) == 0 {
		return []utils.Candle{}
	}
	bucketSize := 1
	if target > 0 {
		bucketSize = max(1, len(points)/target)
	}
	candles := make([]utils.Candle, 0, (len(points)+bucketSize-1)/bucketSize)
	for start := 0; start < len(points); start += bucketSize {
		end := min(start+bucketSize, len(points))
		candles = append(candles, bucketToCandle(points[start:end]))
	}
	return candles
}

func bucketToCandle(bucket []utils.PricePoint) utils.Candle {
	first := bucket[0]
	last := bucket[len(bucket)-1]
	c := utils.Candle{
		TsMs: last.TsMs,
		Time: utils.ConvertTimestampToISO8601(last.TsMs),
		O:    first.Price,
		H:    first.Price,
		L:    first.Price,
		C:    last.Price,
	}
	for _, p := range bucket[1:] {
		c.H = math.Max(c.H, p.Price)
		c.L = math.Min(c.L, p.Price)
	}
	return c
}

// CandlesFromTuples converts the provider's [ts, open, high, low, close]
// rows into candles. Rows with fewer than five fields are dropped and high/low
// are widened so that low <= min(open, close) and high >= max(open, close).
func CandlesFromTuples(rows [][]float64) []utils.Candle {
	candles := make([]utils.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		ts := int64(r[0])
		c := utils.Candle{
			TsMs: ts,
			Time: utils.ConvertTimestampToISO8601(ts),
			O:    r[1],
			H:    math.Max(r[2], math.Max(r[1], r[4])),
			L:    math.Min(r[3], math.Min(r[1], r[4])),
			C:    r[4],
		}
		candles = append(candles, c)
	}
	return candles
}

// PointsFromTuples converts [ts, price] rows into price points,
// dropping malformed rows
func PointsFromTuples(rows [][]float64) []utils.PricePoint {
	points := make([]utils.PricePoint, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		points = append(points, utils.PricePoint{TsMs: int64(r[0]), Price: r[1]})
	}
	return points
}
