package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pxchart/src/chart"
	"pxchart/src/interaction"
	"pxchart/src/market"
	"pxchart/src/pricefeed"
	"pxchart/src/utils"
	"pxchart/src/viewport"
)

var ErrClosed = errors.New("session closed")

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateEmpty   State = "empty"
)

// Status is reported to the sink whenever the series state changes
type Status struct {
	Key   utils.SeriesKey `json:"-"`
	State State           `json:"state"`
	Len   int             `json:"len"`
}

// Frame is one rendered chart image
type Frame struct {
	Seq      uint64
	Key      utils.SeriesKey
	Viewport viewport.Viewport
	Mode     chart.Mode
	Last     *pricefeed.Tick
	Image    *chart.Raster
}

// Sink receives the session output. Both methods run on the session
// goroutine and must not block.
type Sink interface {
	OnFrame(f Frame)
	OnStatus(st Status)
}

type Loader interface {
	Load(ctx context.Context, symbol, window string) (utils.Series, error)
}

// Feed is the live price source a session subscribes to
type Feed interface {
	Subscribe(symbol string, cb func(pricefeed.Tick)) *pricefeed.Subscription
	Unsubscribe(sub *pricefeed.Subscription)
}

type Config struct {
	Width   int
	Height  int
	FPS     int
	Visible int
	// ZoomStep is the visible-count change per wheel notch
	ZoomStep int
	Limits   viewport.Limits
	Theme    chart.Theme
	Mode     chart.Mode
	// RefreshInterval reloads the current series periodically; 0 disables
	RefreshInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Width:    800,
		Height:   400,
		FPS:      30,
		Visible:  viewport.DefaultVisible,
		ZoomStep: interaction.DefaultZoomStep,
		Limits:   viewport.DefaultLimits(),
		Theme:    chart.DefaultTheme,
	}
}

type loadResult struct {
	token  uint64
	key    utils.SeriesKey
	series utils.Series
	err    error
}

// Session is one interactive chart. All chart state is owned by the
// goroutine running Run; the exported methods post work to it. A load
// result is applied only if its request token is still current, so the
// last requested series always wins.
type Session struct {
	ID     uuid.UUID
	cfg    Config
	loader Loader
	feed   Feed
	board  *pricefeed.Board
	sink   Sink

	cmds    chan func()
	results chan loadResult
	done    chan struct{}
	// set by feed callbacks, consumed on the next frame
	tickDirty atomic.Bool
	// replaced in tests
	frameC <-chan time.Time

	// loop state
	ctx        context.Context
	vp         *viewport.Controller
	ic         *interaction.Controller
	series     utils.Series
	key        utils.SeriesKey
	window     string
	mode       chart.Mode
	width      int
	height     int
	state      State
	token      uint64
	cancelLoad context.CancelFunc
	sub        *pricefeed.Subscription
	dirty      bool
	seq        uint64
	stale      int
}

// New creates a session. feed and board may be nil.
func New(cfg Config, loader Loader, feed Feed, board *pricefeed.Board, sink Sink) *Session {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Visible <= 0 {
		cfg.Visible = def.Visible
	}
	if cfg.Theme == (chart.Theme{}) {
		cfg.Theme = def.Theme
	}
	vp := viewport.New(cfg.Visible, cfg.Limits)
	s := &Session{
		ID:      uuid.New(),
		cfg:     cfg,
		loader:  loader,
		feed:    feed,
		board:   board,
		sink:    sink,
		cmds:    make(chan func()),
		results: make(chan loadResult),
		done:    make(chan struct{}),
		vp:      vp,
		mode:    cfg.Mode,
		width:   cfg.Width,
		height:  cfg.Height,
		state:   StateIdle,
	}
	s.ic = interaction.New(vp, cfg.ZoomStep, float64(s.drawableWidth()))
	return s
}

// Run is the session event loop. It returns when ctx is done.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)
	defer s.teardown()

	frames := s.frameC
	if frames == nil {
		ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
		defer ticker.Stop()
		frames = ticker.C
	}
	var refresh <-chan time.Time
	if s.cfg.RefreshInterval > 0 {
		t := time.NewTicker(s.cfg.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.cmds:
			fn()
		case res := <-s.results:
			s.apply(res)
		case <-refresh:
			if s.key.Symbol != "" && s.cancelLoad == nil {
				s.load()
			}
		case <-frames:
			if s.tickDirty.Swap(false) {
				s.dirty = true
			}
			if s.dirty {
				s.draw()
			}
		}
	}
}

func (s *Session) teardown() {
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	if s.sub != nil && s.feed != nil {
		s.feed.Unsubscribe(s.sub)
		s.sub = nil
	}
}

// do runs fn on the loop and waits for it
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// Select switches the chart to symbol and window. Any load still running
// for the previous selection is cancelled and its result discarded. The
// zoom level is kept, the pan position is reset.
func (s *Session) Select(symbol, window string) error {
	return s.do(func() {
		key := utils.SeriesKey{Symbol: strings.ToUpper(symbol), Window: strings.ToUpper(window)}
		if key != s.key {
			s.vp.Reset()
			s.dirty = true
		}
		s.key = key
		s.window = window
		s.subscribe(key.Symbol)
		s.load()
	})
}

// Input applies a pointer or wheel event
func (s *Session) Input(ev interaction.Event) error {
	return s.do(func() {
		if s.ic.Handle(ev) {
			s.dirty = true
		}
	})
}

func (s *Session) SetMode(m chart.Mode) error {
	return s.do(func() {
		if s.mode != m {
			s.mode = m
			s.dirty = true
		}
	})
}

func (s *Session) Resize(w, h int) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	return s.do(func() {
		if w == s.width && h == s.height {
			return
		}
		s.width, s.height = w, h
		s.ic.SetWidth(float64(s.drawableWidth()))
		s.dirty = true
	})
}

// View is a snapshot of the session state
type View struct {
	Key      utils.SeriesKey
	State    State
	Len      int
	Viewport viewport.Viewport
	Mode     chart.Mode
}

func (s *Session) View() (View, error) {
	var v View
	err := s.do(func() {
		v = View{Key: s.series.Key, State: s.state, Len: s.series.Len(), Viewport: s.vp.Viewport(), Mode: s.mode}
	})
	return v, err
}

func (s *Session) drawableWidth() int {
	return max(1, s.width-2*s.cfg.Theme.Padding)
}

func (s *Session) subscribe(symbol string) {
	if s.feed == nil {
		return
	}
	if s.sub != nil {
		if s.sub.Symbol == symbol {
			return
		}
		s.feed.Unsubscribe(s.sub)
	}
	s.sub = s.feed.Subscribe(symbol, func(pricefeed.Tick) {
		s.tickDirty.Store(true)
	})
}

// load starts a fetch for the current key under a new request token
func (s *Session) load() {
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	s.token++
	token, key, window := s.token, s.key, s.window
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelLoad = cancel
	s.setState(StateLoading)
	go func() {
		series, err := s.loader.Load(ctx, key.Symbol, window)
		select {
		case s.results <- loadResult{token: token, key: key, series: series, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Session) apply(res loadResult) {
	if res.token != s.token {
		s.stale++
		return
	}
	s.cancelLoad()
	s.cancelLoad = nil
	if res.err != nil && errors.Is(res.err, context.Canceled) {
		return
	}
	if res.err == nil && !res.series.IsEmpty() {
		if res.key != s.series.Key {
			// pans made while the previous series was still shown do not
			// carry over
			s.vp.Reset()
		}
		res.series.Key = res.key
		s.series = res.series
		s.vp.SetSeriesLen(s.series.Len())
		s.dirty = true
		s.setState(StateReady)
		return
	}
	if res.err != nil && !errors.Is(res.err, market.ErrNoData) {
		slog.Error("loading series failed", "session", s.ID, "series", res.key.String(), "error", res.err)
	}
	if s.series.Key == res.key && !s.series.IsEmpty() {
		// keep showing the last good series
		s.setState(StateReady)
		return
	}
	s.series = utils.Series{Key: res.key}
	s.vp.SetSeriesLen(0)
	s.dirty = true
	s.setState(StateEmpty)
}

func (s *Session) setState(st State) {
	s.state = st
	if s.sink != nil {
		s.sink.OnStatus(Status{Key: s.key, State: st, Len: s.series.Len()})
	}
}

func (s *Session) draw() {
	s.dirty = false
	r := chart.NewRaster(s.width, s.height)
	chart.RenderTheme(r, s.series, s.vp.Viewport(), s.mode, s.cfg.Theme)
	s.seq++
	f := Frame{Seq: s.seq, Key: s.series.Key, Viewport: s.vp.Viewport(), Mode: s.mode, Image: r}
	if s.board != nil && s.key.Symbol != "" {
		if t, ok := s.board.Get(s.key.Symbol); ok {
			f.Last = &t
		}
	}
	if s.sink != nil {
		s.sink.OnFrame(f)
	}
}
