package svc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pxchart/config"
	"pxchart/src/chart"
)

func TestSessionConfigFromEmbedded(t *testing.T) {
	c, err := config.LoadChartConfig("")
	if err != nil {
		t.Fatal(err)
	}
	c.Render.Mode = "line"
	cfg, err := sessionConfig(c)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != chart.ModeLine || cfg.FPS != 30 || cfg.Visible != 100 {
		t.Errorf("unexpected session config %+v", cfg)
	}
	if cfg.Limits.Min != 5 || cfg.Limits.Max != 500 || cfg.ZoomStep != 8 {
		t.Errorf("unexpected viewport limits %+v step %d", cfg.Limits, cfg.ZoomStep)
	}
}

func TestMarketWindows(t *testing.T) {
	c, err := config.LoadChartConfig("")
	if err != nil {
		t.Fatal(err)
	}
	ws, err := marketWindows(c)
	if err != nil {
		t.Fatal(err)
	}
	w, ok := ws.Get("30d")
	if !ok || w.Days != 30 || w.TargetCandles != 120 {
		t.Errorf("unexpected 30D window %+v %v", w, ok)
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if ignoreCanceled(fmt.Errorf("run: %w", context.Canceled)) != nil {
		t.Errorf("wrapped cancellation should be ignored")
	}
	boom := errors.New("boom")
	if !errors.Is(ignoreCanceled(boom), boom) {
		t.Errorf("other errors must pass through")
	}
}
