package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultTickType       = "price"
	DefaultReconnectDelay = 2 * time.Second
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// TickSink receives every accepted tick, e.g. to persist it
type TickSink interface {
	OnTick(t Tick)
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	ID     uuid.UUID
	Symbol string
	cb     func(Tick)
}

type Config struct {
	URL string
	// TickType is the message type that carries prices
	TickType       string
	ReconnectDelay time.Duration
	Sink           TickSink
	Dialer         *websocket.Dialer
}

// Feed owns a single push connection shared by all subscriptions.
// The connection is opened with the first subscription and closed when
// the last one is removed. Connection errors are logged and followed by a
// reconnect after a fixed delay; they are never returned to subscribers.
type Feed struct {
	cfg   Config
	board *Board
	state atomic.Int32

	mu     sync.Mutex
	subs   map[string]map[uuid.UUID]*Subscription // symbol -> subscriptions
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	// generation of the current connection loop; state writes from an
	// older loop are discarded
	gen uint64

	writeMu sync.Mutex
}

type feedMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// New creates a feed that publishes into board. A nil board gets a
// private one.
func New(cfg Config, board *Board) *Feed {
	if cfg.TickType == "" {
		cfg.TickType = DefaultTickType
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if board == nil {
		board = NewBoard()
	}
	return &Feed{
		cfg:   cfg,
		board: board,
		subs:  make(map[string]map[uuid.UUID]*Subscription),
	}
}

func (f *Feed) Board() *Board {
	return f.board
}

func (f *Feed) State() State {
	return State(f.state.Load())
}

func (f *Feed) setState(gen uint64, s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen == f.gen {
		f.state.Store(int32(s))
	}
}

// Symbols returns the currently subscribed symbols, sorted
func (f *Feed) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbolsLocked()
}

func (f *Feed) symbolsLocked() []string {
	syms := make([]string, 0, len(f.subs))
	for s := range f.subs {
		syms = append(syms, s)
	}
	slices.Sort(syms)
	return syms
}

// Subscribe registers cb for ticks of symbol. cb runs on the feed's read
// goroutine and must not block.
func (f *Feed) Subscribe(symbol string, cb func(Tick)) *Subscription {
	sym := strings.ToUpper(symbol)
	sub := &Subscription{ID: uuid.New(), Symbol: sym, cb: cb}

	f.mu.Lock()
	first := len(f.subs) == 0
	set, known := f.subs[sym]
	if !known {
		set = make(map[uuid.UUID]*Subscription)
		f.subs[sym] = set
	}
	set[sub.ID] = sub
	conn := f.conn
	if first {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.done = make(chan struct{})
		f.gen++
		go f.run(ctx, f.gen, f.done)
	}
	f.mu.Unlock()

	if !known && conn != nil {
		if err := f.sendSubscribe(conn, []string{sym}); err != nil {
			slog.Info("price feed subscribe failed", "symbol", sym, "error", err)
		}
	}
	return sub
}

// Unsubscribe removes sub. Removing the last subscription closes the
// connection.
func (f *Feed) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[sub.Symbol]
	if !ok {
		return
	}
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(f.subs, sub.Symbol)
	}
	if len(f.subs) == 0 && f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

// Close drops all subscriptions and waits for the connection loop to exit
func (f *Feed) Close() {
	f.mu.Lock()
	clear(f.subs)
	done := f.done
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run keeps the connection alive until ctx is cancelled
func (f *Feed) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		timeStart := time.Now()
		err := f.connect(ctx, gen)
		f.setState(gen, Disconnected)
		if ctx.Err() != nil {
			slog.Info("price feed closed")
			return
		}
		slog.Info("price feed disconnected", "after", time.Since(timeStart), "error", err, "retry", f.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// connect dials, subscribes all current symbols and reads until the
// connection fails or ctx is cancelled
func (f *Feed) connect(ctx context.Context, gen uint64) error {
	f.setState(gen, Connecting)
	c, _, err := f.cfg.Dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		c.Close()
		return ctx.Err()
	}
	f.conn = c
	syms := f.symbolsLocked()
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.conn == c {
			f.conn = nil
		}
		f.mu.Unlock()
		c.Close()
	}()
	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	f.setState(gen, Connected)
	slog.Info("price feed connected", "url", f.cfg.URL, "symbols", len(syms))
	if len(syms) > 0 {
		if err := f.sendSubscribe(c, syms); err != nil {
			return err
		}
	}
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := f.handleMessage(msg); err != nil {
			slog.Info("price feed message dropped", "error", err)
		}
	}
}

func (f *Feed) sendSubscribe(c *websocket.Conn, syms []string) error {
	msg, err := json.Marshal(subscribeMessage{Type: "subscribe", Symbols: syms})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe message: %w", err)
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to write subscribe message: %w", err)
	}
	return nil
}

// handleMessage updates the board and dispatches price ticks. Messages
// of other types are ignored.
func (f *Feed) handleMessage(raw []byte) error {
	var m feedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	if m.Type != f.cfg.TickType || m.Symbol == "" {
		return nil
	}
	t := Tick{Symbol: strings.ToUpper(m.Symbol), Price: m.Price, TsMs: time.Now().UnixMilli()}
	f.board.Set(t)
	if f.cfg.Sink != nil {
		f.cfg.Sink.OnTick(t)
	}
	f.mu.Lock()
	cbs := make([]func(Tick), 0, len(f.subs[t.Symbol]))
	for _, s := range f.subs[t.Symbol] {
		cbs = append(cbs, s.cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(t)
		}
	}
	return nil
}
