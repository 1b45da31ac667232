package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"pxchart/src/pricefeed"
	"pxchart/src/utils"
)

const DefaultResubscribeDelay = 2 * time.Second

type lastReader interface {
	Last(ctx context.Context, sym string) (utils.PricePoint, error)
}

// Follower turns px_update announcements from a recorder into ticks. It
// lets chart servers share one upstream feed through redis instead of
// each opening their own connection.
type Follower struct {
	last  lastReader
	board *pricefeed.Board
	// receive blocks on the px_update subscription and calls fn per message
	receive func(ctx context.Context, fn func(msg string)) error
	delay   time.Duration

	mu   sync.Mutex
	subs map[string]map[uuid.UUID]func(pricefeed.Tick)
}

// NewFollower creates a follower reading prices from s. A dropped
// subscription is restarted after delay.
func NewFollower(s *Store, board *pricefeed.Board, delay time.Duration) *Follower {
	f := newFollower(s, board, delay)
	f.receive = func(ctx context.Context, fn func(msg string)) error {
		cmd := s.client.B().Subscribe().Channel(PriceUpdateChannel).Build()
		return s.client.Receive(ctx, cmd, func(msg rueidis.PubSubMessage) {
			fn(msg.Message)
		})
	}
	return f
}

func newFollower(last lastReader, board *pricefeed.Board, delay time.Duration) *Follower {
	if board == nil {
		board = pricefeed.NewBoard()
	}
	if delay <= 0 {
		delay = DefaultResubscribeDelay
	}
	return &Follower{
		last:  last,
		board: board,
		delay: delay,
		subs:  make(map[string]map[uuid.UUID]func(pricefeed.Tick)),
	}
}

func (f *Follower) Subscribe(symbol string, cb func(pricefeed.Tick)) *pricefeed.Subscription {
	sub := &pricefeed.Subscription{ID: uuid.New(), Symbol: strings.ToUpper(symbol)}
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[sub.Symbol]
	if !ok {
		set = make(map[uuid.UUID]func(pricefeed.Tick))
		f.subs[sub.Symbol] = set
	}
	set[sub.ID] = cb
	return sub
}

func (f *Follower) Unsubscribe(sub *pricefeed.Subscription) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.Symbol]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(f.subs, sub.Symbol)
		}
	}
}

// Run listens on the price update channel until ctx is done. A dropped
// subscription is logged and restarted after the resubscribe delay.
func (f *Follower) Run(ctx context.Context) error {
	for {
		err := f.receive(ctx, func(msg string) {
			f.handle(ctx, msg)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("px_update subscription ended, resubscribing", "error", err, "delay", f.delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
}

func (f *Follower) handle(ctx context.Context, msg string) {
	for _, sym := range strings.Split(msg, ";") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		p, err := f.last.Last(ctx, sym)
		if err != nil {
			slog.Info("px_update without price", "symbol", sym, "error", err)
			continue
		}
		t := pricefeed.Tick{Symbol: sym, Price: p.Price, TsMs: p.TsMs}
		f.board.Set(t)
		f.mu.Lock()
		cbs := make([]func(pricefeed.Tick), 0, len(f.subs[sym]))
		for _, cb := range f.subs[sym] {
			cbs = append(cbs, cb)
		}
		f.mu.Unlock()
		for _, cb := range cbs {
			if cb != nil {
				cb(t)
			}
		}
	}
}
