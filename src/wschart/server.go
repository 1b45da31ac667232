package wschart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pxchart/src/market"
	"pxchart/src/pricefeed"
	"pxchart/src/session"
	"pxchart/src/utils"
)

type MarketLister interface {
	Markets(ctx context.Context) ([]market.Snapshot, error)
}

// SeriesLoader loads chart series and knows the selectable windows
type SeriesLoader interface {
	session.Loader
	Windows() market.Windows
}

// CandleHistory builds candles from recorded ticks
type CandleHistory interface {
	Ohlc(ctx context.Context, sym string, fromTsMs, toTsMs int64, resolSec uint32) ([]utils.Candle, error)
}

type Deps struct {
	Markets MarketLister
	Loader  SeriesLoader
	// Candles may be nil, /api/ohlc then answers 503
	Candles CandleHistory
	// Feed may be nil, sessions then redraw only on input and loads
	Feed    session.Feed
	Board   *pricefeed.Board
	Session session.Config
	// SendQueue is the per-client outbound buffer
	SendQueue int
}

// ChartServer serves the chart REST endpoints and one interactive chart
// session per websocket client
type ChartServer struct {
	addr     string
	deps     Deps
	upgrader websocket.Upgrader
	engine   *gin.Engine

	mu      sync.Mutex
	clients map[string]*Client
	ctx     context.Context
}

func NewChartServer(addr string, deps Deps) *ChartServer {
	if deps.Board == nil {
		deps.Board = pricefeed.NewBoard()
	}
	if deps.SendQueue < 4 {
		deps.SendQueue = 16
	}
	s := &ChartServer{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		engine:  gin.New(),
		clients: make(map[string]*Client),
		ctx:     context.Background(),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *ChartServer) setupRoutes() {
	s.engine.GET("/api/markets", s.getMarkets)
	s.engine.GET("/api/prices", s.getPrices)
	s.engine.GET("/api/windows", s.getWindows)
	s.engine.GET("/api/chart.png", s.getChartPNG)
	s.engine.GET("/api/ohlc", s.getOhlc)
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/ws", s.handleWs)
}

func (s *ChartServer) Handler() http.Handler {
	return s.engine
}

// NumClients returns the number of connected websocket clients
func (s *ChartServer) NumClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run serves until ctx is cancelled or the listener fails
func (s *ChartServer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}
	errChan := make(chan error, 1)
	go func() {
		slog.Info("Listening on " + s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	select {
	case <-ctx.Done():
		slog.Info("Context canceled; shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

func (s *ChartServer) handleWs(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Info("upgrade:" + err.Error())
		return
	}
	defer conn.Close()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	client := &Client{
		ID:      uuid.New().String(),
		conn:    conn,
		send:    make(chan outbound, s.deps.SendQueue),
		windows: s.windowSupported,
	}
	client.session = session.New(s.deps.Session, s.deps.Loader, s.deps.Feed, s.deps.Board, client)
	s.addClient(client)
	defer s.removeClient(client.ID)
	slog.Info("Server: new client connected", "id", client.ID)

	go client.session.Run(ctx)
	done := make(chan struct{})
	go client.writePump(done)
	client.readPump(done)
	slog.Info("Server: client disconnected", "id", client.ID)
}

func (s *ChartServer) windowSupported(name string) bool {
	_, ok := s.deps.Loader.Windows().Get(name)
	return ok
}

func (s *ChartServer) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()
}

func (s *ChartServer) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}
