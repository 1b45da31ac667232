package utils

import (
	"strings"
	"time"
)

// PricePoint is one raw price observation, timestamp in ms
type PricePoint struct {
	TsMs  int64   `json:"ts"`
	Price float64 `json:"price"`
}

// Candle is an OHLC summary over a bucket of price points.
// TsMs is the timestamp of the last observation in the bucket
type Candle struct {
	TsMs int64   `json:"tsMs"`
	Time string  `json:"time"`
	O    float64 `json:"open"`
	H    float64 `json:"high"`
	L    float64 `json:"low"`
	C    float64 `json:"close"`
}

// IsUp reports whether the candle closed at or above its open
func (c Candle) IsUp() bool {
	return c.C >= c.O
}

// SeriesKey identifies a series by symbol and resolution window (e.g. BTC:7D)
type SeriesKey struct {
	Symbol string
	Window string
}

func (k SeriesKey) String() string {
	return strings.ToUpper(k.Symbol) + ":" + strings.ToUpper(k.Window)
}

// Series is an immutable snapshot of chart data. A new load produces a
// new Series; existing ones are never patched.
type Series struct {
	Key     SeriesKey
	Candles []Candle
	Points  []PricePoint
}

// Len returns the number of chartable elements. Candles take precedence
// over raw points.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	if len(s.Candles) > 0 {
		return len(s.Candles)
	}
	return len(s.Points)
}

// IsEmpty is true when neither candles nor points are available
func (s *Series) IsEmpty() bool {
	return s.Len() == 0
}

func ConvertTimestampToISO8601(timestampMs int64) string {
	timestamp := time.Unix(0, timestampMs*int64(time.Millisecond))
	iso8601 := timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	return iso8601
}
