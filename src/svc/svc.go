package svc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"pxchart/config"
	"pxchart/env"
	"pxchart/src/chart"
	"pxchart/src/market"
	"pxchart/src/pricefeed"
	"pxchart/src/reqcache"
	"pxchart/src/session"
	"pxchart/src/store"
	"pxchart/src/viewport"
	"pxchart/src/wschart"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	})))
}

// RunChartServer serves the REST endpoints and interactive chart sessions.
// Live prices come from PRICE_FEED_WS if set, otherwise from the recorder's
// redis announcements. Recorded ticks are the last history fallback.
func RunChartServer() {
	err := loadEnv(nil)
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	c, err := loadConfig()
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	windows, err := marketWindows(c)
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	sessCfg, err := sessionConfig(c)
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := market.NewClient(market.ClientConfig{
		BaseURL:      viper.GetString(env.MARKET_API_URL),
		Currency:     c.Market.Currency,
		MarketsTTL:   c.Market.MarketsTTL,
		SeriesTTL:    c.Market.SeriesTTL,
		PerPage:      c.Market.PerPage,
		RateCapacity: c.Market.RateCapacity,
		RatePerSec:   c.Market.RatePerSec,
	}, reqcache.New(), &http.Client{Timeout: c.Market.Timeout})

	board := pricefeed.NewBoard()
	g, gctx := errgroup.WithContext(ctx)

	var hist market.History
	var candles wschart.CandleHistory
	var feed session.Feed
	st, err := store.New(viper.GetString(env.REDIS_ADDR), viper.GetString(env.REDIS_PW), c.Recorder.Retention)
	if err != nil {
		slog.Warn("redis unavailable, running without recorded history", "error", err)
	} else {
		defer st.Close()
		hist = st
		candles = st
	}

	switch {
	case viper.GetString(env.PRICE_FEED_WS) != "":
		f := pricefeed.New(pricefeed.Config{
			URL:            viper.GetString(env.PRICE_FEED_WS),
			TickType:       c.Feed.TickType,
			ReconnectDelay: c.Feed.ReconnectDelay,
		}, board)
		defer f.Close()
		feed = f
	case st != nil:
		f := store.NewFollower(st, board, c.Feed.ReconnectDelay)
		g.Go(func() error {
			return ignoreCanceled(f.Run(gctx))
		})
		feed = f
	default:
		slog.Warn("no live price source configured")
	}

	srv := wschart.NewChartServer(viper.GetString(env.WS_ADDR), wschart.Deps{
		Markets: client,
		Loader:  market.NewLoader(client, hist, windows),
		Candles: candles,
		Feed:    feed,
		Board:   board,
		Session: sessCfg,
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		slog.Error("chart server terminated", "error", err)
	}
}

// RunFeedRecorder streams the configured symbols into redis and announces
// updates for chart servers following the store
func RunFeedRecorder() {
	err := loadEnv([]string{
		env.PRICE_FEED_WS,
	})
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	c, err := loadConfig()
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	if len(c.Recorder.Symbols) == 0 {
		fmt.Println("no recorder symbols configured, quitting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, pw := viper.GetString(env.REDIS_ADDR), viper.GetString(env.REDIS_PW)
	st, err := store.New(addr, pw, c.Recorder.Retention)
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	defer st.Close()
	pub := store.NewPublisher(addr, pw)
	defer pub.Close()

	rec := store.NewRecorder(st, pub, c.Recorder.Queue, c.Recorder.PublishInterval)
	feed := pricefeed.New(pricefeed.Config{
		URL:            viper.GetString(env.PRICE_FEED_WS),
		TickType:       c.Feed.TickType,
		ReconnectDelay: c.Feed.ReconnectDelay,
		Sink:           rec,
	}, pricefeed.NewBoard())
	defer feed.Close()
	for _, sym := range c.Recorder.Symbols {
		feed.Subscribe(sym, nil)
	}
	slog.Info("recording symbols", "symbols", feed.Symbols())

	if err := ignoreCanceled(rec.Run(ctx)); err != nil {
		slog.Error("recorder terminated", "error", err)
	}
}

func loadConfig() (*config.ChartConfig, error) {
	return config.LoadChartConfig(viper.GetString(env.CONFIG_PATH))
}

func marketWindows(c *config.ChartConfig) (market.Windows, error) {
	ws := make([]market.Window, 0, len(c.Windows))
	for _, w := range c.Windows {
		ws = append(ws, market.Window{Name: w.Name, Days: w.Days, TargetCandles: w.TargetCandles})
	}
	return market.NewWindows(ws)
}

func sessionConfig(c *config.ChartConfig) (session.Config, error) {
	mode, err := chart.ParseMode(c.Render.Mode)
	if err != nil {
		return session.Config{}, err
	}
	cfg := session.DefaultConfig()
	cfg.Width = c.Render.Width
	cfg.Height = c.Render.Height
	cfg.FPS = c.Render.FPS
	cfg.Mode = mode
	cfg.RefreshInterval = c.Render.RefreshInterval
	cfg.Visible = c.Viewport.Visible
	cfg.ZoomStep = c.Viewport.ZoomStep
	cfg.Limits = viewport.Limits{Min: c.Viewport.MinVisible, Max: c.Viewport.MaxVisible}
	return cfg, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadEnv(requiredEnvs []string) error {
	viper.SetConfigFile(".env")
	if err := viper.ReadInConfig(); err != nil {
		slog.Error("could not load .env file" + err.Error())
	}

	viper.AutomaticEnv()

	viper.SetDefault(env.MARKET_API_URL, "https://api.coingecko.com/api/v3")
	viper.SetDefault(env.REDIS_ADDR, "localhost:6379")
	viper.SetDefault(env.WS_ADDR, "localhost:8080")
	for _, e := range requiredEnvs {
		if !viper.IsSet(e) {
			return errors.New("required environment variable not set " + e)
		}
	}

	return nil
}
