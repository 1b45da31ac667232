package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pxchart/src/builder"
	"pxchart/src/utils"
)

// ErrNoData means every source came back empty or failed
var ErrNoData = errors.New("no chart data available")

// Source is the REST side of the loader, implemented by Client
type Source interface {
	ResolveID(ctx context.Context, symbol string) string
	NativeCandles(ctx context.Context, id string, days int) ([]utils.Candle, error)
	PriceSeries(ctx context.Context, id string, days int) ([]utils.PricePoint, error)
}

// History is a local record of streamed ticks used as the last fallback
type History interface {
	PricePoints(ctx context.Context, symbol string, fromTsMs, toTsMs int64) ([]utils.PricePoint, error)
}

// Loader produces chart series for a symbol and window
type Loader struct {
	src     Source
	hist    History
	windows Windows
	now     func() time.Time
}

// NewLoader creates a loader; hist may be nil
func NewLoader(src Source, hist History, windows Windows) *Loader {
	return &Loader{src: src, hist: hist, windows: windows, now: time.Now}
}

func (l *Loader) Windows() Windows {
	return l.windows
}

// Load fetches native candles and falls back to candles aggregated from
// the price series, then from recorded ticks. Short or empty responses
// are not errors. A cancelled ctx is returned as ctx.Err() unwrapped.
func (l *Loader) Load(ctx context.Context, symbol, window string) (utils.Series, error) {
	w, ok := l.windows.Get(window)
	if !ok {
		return utils.Series{}, fmt.Errorf("unknown window %q", window)
	}
	key := utils.SeriesKey{Symbol: symbol, Window: w.Name}
	id := l.src.ResolveID(ctx, symbol)

	candles, err := l.src.NativeCandles(ctx, id, w.Days)
	if ctx.Err() != nil {
		return utils.Series{}, ctx.Err()
	}
	if err != nil {
		slog.Info("native candles unavailable", "series", key.String(), "error", err)
	}
	if len(candles) >= builder.MinNativeCandles {
		return utils.Series{Key: key, Candles: candles}, nil
	}

	points, err := l.src.PriceSeries(ctx, id, w.Days)
	if ctx.Err() != nil {
		return utils.Series{}, ctx.Err()
	}
	if err != nil {
		slog.Info("price series unavailable", "series", key.String(), "error", err)
	}
	if len(points) > 0 {
		return seriesFromPoints(key, points, w.TargetCandles), nil
	}

	if l.hist != nil {
		to := l.now()
		from := to.Add(-time.Duration(w.Days) * 24 * time.Hour)
		points, err = l.hist.PricePoints(ctx, symbol, from.UnixMilli(), to.UnixMilli())
		if ctx.Err() != nil {
			return utils.Series{}, ctx.Err()
		}
		if err != nil {
			slog.Info("recorded ticks unavailable", "series", key.String(), "error", err)
		}
		if len(points) > 0 {
			return seriesFromPoints(key, points, w.TargetCandles), nil
		}
	}
	return utils.Series{Key: key}, fmt.Errorf("%s: %w", key.String(), ErrNoData)
}

func seriesFromPoints(key utils.SeriesKey, points []utils.PricePoint, target int) utils.Series {
	return utils.Series{Key: key, Candles: builder.Aggregate(points, target), Points: points}
}
