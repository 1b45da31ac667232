package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pxchart/src/chart"
	"pxchart/src/interaction"
	"pxchart/src/market"
	"pxchart/src/pricefeed"
	"pxchart/src/utils"
)

func candleSeries(n int) utils.Series {
	c := make([]utils.Candle, n)
	for k := range c {
		px := 100 + float64(k%7)
		c[k] = utils.Candle{TsMs: int64(k) * 60_000, O: px, H: px + 2, L: px - 2, C: px + 1}
	}
	return utils.Series{Candles: c}
}

// gateLoader serves canned series; loads for gated symbols wait for release
type gateLoader struct {
	mu        sync.Mutex
	data      map[string]utils.Series
	errs      map[string]error
	gates     map[string]chan struct{}
	ctxErrs   map[string]error
	ignoreCtx bool
}

func newGateLoader() *gateLoader {
	return &gateLoader{
		data:    make(map[string]utils.Series),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		ctxErrs: make(map[string]error),
	}
}

func (l *gateLoader) Load(ctx context.Context, symbol, window string) (utils.Series, error) {
	l.mu.Lock()
	gate := l.gates[symbol]
	l.mu.Unlock()
	if gate != nil {
		if l.ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
			}
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctxErrs[symbol] = ctx.Err()
	if ctx.Err() != nil && !l.ignoreCtx {
		return utils.Series{}, ctx.Err()
	}
	return l.data[symbol], l.errs[symbol]
}

func (l *gateLoader) set(symbol string, s utils.Series, err error) {
	l.mu.Lock()
	l.data[symbol] = s
	l.errs[symbol] = err
	l.mu.Unlock()
}

func (l *gateLoader) gate(symbol string) chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	l.gates[symbol] = ch
	l.mu.Unlock()
	return ch
}

func (l *gateLoader) ctxErr(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctxErrs[symbol]
}

type recordingSink struct {
	mu       sync.Mutex
	frames   []Frame
	statuses chan Status
}

func newRecordingSink() *recordingSink {
	return &recordingSink{statuses: make(chan Status, 64)}
}

func (r *recordingSink) OnFrame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recordingSink) OnStatus(st Status) {
	r.statuses <- st
}

func (r *recordingSink) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSink) lastFrame() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func (r *recordingSink) waitState(t *testing.T, key string, st State) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.statuses:
			if s.State == st && s.Key.String() == key {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s to become %s", key, st)
		}
	}
}

type fakeFeed struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*pricefeed.Subscription
	cbs  map[uuid.UUID]func(pricefeed.Tick)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[uuid.UUID]*pricefeed.Subscription), cbs: make(map[uuid.UUID]func(pricefeed.Tick))}
}

func (f *fakeFeed) Subscribe(symbol string, cb func(pricefeed.Tick)) *pricefeed.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &pricefeed.Subscription{ID: uuid.New(), Symbol: symbol}
	f.subs[sub.ID] = sub
	f.cbs[sub.ID] = cb
	return sub
}

func (f *fakeFeed) Unsubscribe(sub *pricefeed.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub.ID)
	delete(f.cbs, sub.ID)
}

func (f *fakeFeed) push(t pricefeed.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		if sub.Symbol == t.Symbol {
			f.cbs[id](t)
		}
	}
}

func (f *fakeFeed) symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.subs {
		out = append(out, s.Symbol)
	}
	return out
}

type harness struct {
	s      *Session
	sink   *recordingSink
	frames chan time.Time
	cancel context.CancelFunc
	exited chan error
}

func start(t *testing.T, loader Loader, feed Feed, board *pricefeed.Board) *harness {
	h := &harness{sink: newRecordingSink(), frames: make(chan time.Time), exited: make(chan error, 1)}
	h.s = New(Config{Width: 200, Height: 100}, loader, feed, board, h.sink)
	h.s.frameC = h.frames
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.exited <- h.s.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

// frame fires one frame tick and waits until it has been handled
func (h *harness) frame(t *testing.T) {
	t.Helper()
	h.frames <- time.Now()
	if err := h.s.do(func() {}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) view(t *testing.T) View {
	t.Helper()
	v, err := h.s.View()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestSelectLoadsAndRenders(t *testing.T) {
	l := newGateLoader()
	l.set("BTC", candleSeries(200), nil)
	h := start(t, l, nil, nil)

	if err := h.s.Select("btc", "7d"); err != nil {
		t.Fatal(err)
	}
	h.sink.waitState(t, "BTC:7D", StateReady)
	v := h.view(t)
	if v.Len != 200 || v.Key.String() != "BTC:7D" || v.Viewport.Offset != 0 {
		t.Fatalf("unexpected view %+v", v)
	}
	h.frame(t)
	if h.sink.frameCount() != 1 {
		t.Fatalf("expected one frame, got %d", h.sink.frameCount())
	}
	f := h.sink.lastFrame()
	if f.Key.String() != "BTC:7D" || f.Image.Bounds().Dx() != 200 {
		t.Errorf("unexpected frame %+v", f)
	}
	h.frame(t)
	if h.sink.frameCount() != 1 {
		t.Errorf("clean frame must not redraw")
	}
}

func TestInputCoalescesIntoOneFrame(t *testing.T) {
	l := newGateLoader()
	l.set("BTC", candleSeries(300), nil)
	h := start(t, l, nil, nil)
	h.s.Select("BTC", "1D")
	h.sink.waitState(t, "BTC:1D", StateReady)
	h.frame(t)

	for k := 0; k < 5; k++ {
		h.s.Input(interaction.Wheel{DeltaY: -1})
	}
	h.s.Input(interaction.PointerDown{X: 150})
	h.s.Input(interaction.PointerMove{X: 50})
	h.s.Input(interaction.PointerUp{})
	h.s.SetMode(chart.ModeLine)
	h.frame(t)

	if h.sink.frameCount() != 2 {
		t.Fatalf("expected mutations to coalesce into one redraw, got %d frames", h.sink.frameCount())
	}
	f := h.sink.lastFrame()
	// 100px drag over a 184px drawable width showing 60 candles
	if f.Viewport.VisibleCount != 60 || f.Viewport.Offset != 32 || f.Mode != chart.ModeLine {
		t.Errorf("frame does not reflect all mutations: %+v mode %s", f.Viewport, f.Mode)
	}
}

func TestStaleResultIgnored(t *testing.T) {
	l := newGateLoader()
	l.ignoreCtx = true
	l.set("BTC", candleSeries(50), nil)
	l.set("ETH", candleSeries(80), nil)
	btc := l.gate("BTC")
	eth := l.gate("ETH")
	h := start(t, l, nil, nil)

	h.s.Select("BTC", "7D")
	h.s.Select("ETH", "7D")
	close(eth)
	h.sink.waitState(t, "ETH:7D", StateReady)
	close(btc)

	deadline := time.Now().Add(3 * time.Second)
	for {
		var stale int
		h.s.do(func() { stale = h.s.stale })
		if stale == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale result never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	v := h.view(t)
	if v.Key.String() != "ETH:7D" || v.Len != 80 {
		t.Errorf("late BTC result overwrote the ETH series: %+v", v)
	}
	if !errors.Is(l.ctxErr("BTC"), context.Canceled) {
		t.Errorf("superseded load should have been cancelled, ctx err %v", l.ctxErr("BTC"))
	}
}

func TestSelectCancelsPreviousLoad(t *testing.T) {
	l := newGateLoader()
	l.set("ETH", candleSeries(30), nil)
	l.gate("BTC")
	h := start(t, l, nil, nil)

	h.s.Select("BTC", "1D")
	h.s.Select("ETH", "1D")
	h.sink.waitState(t, "ETH:1D", StateReady)
	deadline := time.Now().Add(3 * time.Second)
	for !errors.Is(l.ctxErr("BTC"), context.Canceled) {
		if time.Now().After(deadline) {
			t.Fatal("previous load not cancelled")
		}
		time.Sleep(time.Millisecond)
	}
	if v := h.view(t); v.State != StateReady || v.Len != 30 {
		t.Errorf("cancellation must not disturb the new series: %+v", v)
	}
}

func TestNoDataShowsEmpty(t *testing.T) {
	l := newGateLoader()
	l.set("XYZ", utils.Series{}, fmt.Errorf("XYZ:1D: %w", market.ErrNoData))
	h := start(t, l, nil, nil)
	h.s.Select("XYZ", "1D")
	h.sink.waitState(t, "XYZ:1D", StateEmpty)
	h.frame(t)
	if h.sink.frameCount() != 1 {
		t.Errorf("empty state should still draw a frame")
	}
	if v := h.view(t); v.Len != 0 || v.State != StateEmpty {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestErrorKeepsLastGoodSeries(t *testing.T) {
	l := newGateLoader()
	l.set("BTC", candleSeries(120), nil)
	h := start(t, l, nil, nil)
	h.s.Select("BTC", "7D")
	h.sink.waitState(t, "BTC:7D", StateReady)

	l.set("BTC", utils.Series{}, errors.New("http 502"))
	h.s.Select("BTC", "7D")
	h.sink.waitState(t, "BTC:7D", StateLoading)
	h.sink.waitState(t, "BTC:7D", StateReady)
	if v := h.view(t); v.Len != 120 {
		t.Errorf("failed reload replaced the series: %+v", v)
	}
}

func TestZoomPersistsAcrossSymbolSwitch(t *testing.T) {
	l := newGateLoader()
	l.set("BTC", candleSeries(400), nil)
	l.set("ETH", candleSeries(400), nil)
	h := start(t, l, nil, nil)
	h.s.Select("BTC", "7D")
	h.sink.waitState(t, "BTC:7D", StateReady)
	h.s.Input(interaction.Wheel{DeltaY: -1})
	h.s.Input(interaction.Wheel{DeltaY: -1})
	h.s.Input(interaction.PointerDown{X: 190})
	h.s.Input(interaction.PointerMove{X: 10})
	if v := h.view(t); v.Viewport.Offset == 0 {
		t.Fatalf("drag should have moved the viewport")
	}
	h.s.Select("ETH", "7D")
	v := h.view(t)
	if v.Viewport.Offset != 0 || v.Viewport.VisibleCount != 84 {
		t.Errorf("expected offset reset with zoom kept, got %+v", v.Viewport)
	}
}

func TestFeedTickSchedulesRedraw(t *testing.T) {
	l := newGateLoader()
	l.set("BTC", candleSeries(40), nil)
	l.set("ETH", candleSeries(40), nil)
	feed := newFakeFeed()
	board := pricefeed.NewBoard()
	h := start(t, l, feed, board)
	h.s.Select("BTC", "1D")
	h.sink.waitState(t, "BTC:1D", StateReady)
	h.frame(t)

	board.Set(pricefeed.Tick{Symbol: "BTC", Price: 64000})
	feed.push(pricefeed.Tick{Symbol: "BTC", Price: 64000})
	h.frame(t)
	if h.sink.frameCount() != 2 {
		t.Fatalf("tick should schedule one redraw, got %d frames", h.sink.frameCount())
	}
	if f := h.sink.lastFrame(); f.Last == nil || f.Last.Price != 64000 {
		t.Errorf("frame should carry the last price")
	}

	h.s.Select("ETH", "1D")
	if syms := feed.symbols(); len(syms) != 1 || syms[0] != "ETH" {
		t.Errorf("expected only ETH subscribed, got %v", syms)
	}
	h.cancel()
	<-h.exited
	if syms := feed.symbols(); len(syms) != 0 {
		t.Errorf("closing the session must unsubscribe, got %v", syms)
	}
}

func TestClosedSession(t *testing.T) {
	h := start(t, newGateLoader(), nil, nil)
	h.cancel()
	if err := <-h.exited; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected exit %v", err)
	}
	if err := h.s.Select("BTC", "1D"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNewSeriesStartsAtOffsetZero(t *testing.T) {
	l := newGateLoader()
	l.set("AAA", candleSeries(400), nil)
	l.set("BBB", candleSeries(400), nil)
	h := start(t, l, nil, nil)
	h.s.Select("AAA", "1D")
	h.sink.waitState(t, "AAA:1D", StateReady)

	gate := l.gate("BBB")
	h.s.Select("BBB", "1D")
	h.sink.waitState(t, "BBB:1D", StateLoading)
	// drag over the old series while the new one loads
	h.s.Input(interaction.PointerDown{X: 180})
	h.s.Input(interaction.PointerMove{X: 20})
	h.s.Input(interaction.PointerUp{})
	if v := h.view(t); v.Viewport.Offset == 0 {
		t.Fatalf("drag should have moved the old series, got %+v", v.Viewport)
	}
	close(gate)
	h.sink.waitState(t, "BBB:1D", StateReady)
	v := h.view(t)
	if v.Key.String() != "BBB:1D" || v.Viewport.Offset != 0 || v.Viewport.VisibleCount != 100 {
		t.Errorf("new series must start at offset 0, got %+v", v)
	}
}
