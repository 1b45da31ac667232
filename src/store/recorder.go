package store

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"pxchart/src/pricefeed"
)

type tickWriter interface {
	CreateIfNotExists(ctx context.Context, sym string) error
	AddPriceObs(ctx context.Context, sym string, price float64, timestampMs int64) error
}

type notifier interface {
	Publish(ctx context.Context, symbols []string) error
}

// Recorder persists feed ticks and announces the changed symbols. OnTick
// only enqueues; Run does the redis work so the feed's read loop is never
// blocked. Ticks are dropped when the queue is full.
type Recorder struct {
	w        tickWriter
	n        notifier
	ticks    chan pricefeed.Tick
	interval time.Duration
	created  map[string]bool
}

// NewRecorder creates a recorder. n may be nil. Changed symbols are
// published at most once per interval.
func NewRecorder(w tickWriter, n notifier, queue int, interval time.Duration) *Recorder {
	if queue <= 0 {
		queue = 1024
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Recorder{
		w:        w,
		n:        n,
		ticks:    make(chan pricefeed.Tick, queue),
		interval: interval,
		created:  make(map[string]bool),
	}
}

func (r *Recorder) OnTick(t pricefeed.Tick) {
	select {
	case r.ticks <- t:
	default:
		slog.Info("recorder queue full, dropping tick", "symbol", t.Symbol)
	}
}

// Run consumes ticks until ctx is done
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	changed := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-r.ticks:
			if err := r.record(ctx, t); err != nil {
				slog.Error("recording tick failed", "symbol", t.Symbol, "error", err)
				continue
			}
			changed[t.Symbol] = struct{}{}
		case <-ticker.C:
			if len(changed) == 0 || r.n == nil {
				continue
			}
			syms := make([]string, 0, len(changed))
			for s := range changed {
				syms = append(syms, s)
			}
			slices.Sort(syms)
			clear(changed)
			if err := r.n.Publish(ctx, syms); err != nil {
				slog.Error("publishing price update failed", "error", err)
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, t pricefeed.Tick) error {
	if !r.created[t.Symbol] {
		if err := r.w.CreateIfNotExists(ctx, t.Symbol); err != nil {
			return err
		}
		r.created[t.Symbol] = true
	}
	return r.w.AddPriceObs(ctx, t.Symbol, t.Price, t.TsMs)
}
