package chart

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"pxchart/src/utils"
	"pxchart/src/viewport"
)

var testTheme = Theme{
	Background: color.RGBA{A: 0xff},
	Grid:       color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff},
	Up:         color.RGBA{G: 0xff, A: 0xff},
	Down:       color.RGBA{R: 0xff, A: 0xff},
	Line:       color.RGBA{B: 0xff, A: 0xff},
	Padding:    0,
}

func at(r *Raster, x, y int) color.RGBA {
	return r.Image().RGBAAt(x, y)
}

func pointSeries(prices ...float64) utils.Series {
	pts := make([]utils.PricePoint, len(prices))
	for k, p := range prices {
		pts[k] = utils.PricePoint{TsMs: int64(k * 1000), Price: p}
	}
	return utils.Series{Key: utils.SeriesKey{Symbol: "BTC", Window: "1D"}, Points: pts}
}

func TestRenderCandleColours(t *testing.T) {
	series := utils.Series{Candles: []utils.Candle{
		{TsMs: 1, O: 10, C: 20, H: 25, L: 5},
		{TsMs: 2, O: 20, C: 10, H: 25, L: 5},
	}}
	r := NewRaster(100, 100)
	RenderTheme(r, series, viewport.Viewport{VisibleCount: 10}, ModeCandle, testTheme)
	if at(r, 5, 50) != testTheme.Up {
		t.Errorf("expected up colour for rising candle, got %v", at(r, 5, 50))
	}
	if at(r, 15, 50) != testTheme.Down {
		t.Errorf("expected down colour for falling candle, got %v", at(r, 15, 50))
	}
	// wick spans high to low, high of the visible range is the top row
	if at(r, 5, 0) != testTheme.Up || at(r, 5, 99) != testTheme.Up {
		t.Errorf("wick should reach the full height")
	}
	if at(r, 50, 50) != testTheme.Background {
		t.Errorf("slots beyond the data must stay background")
	}
}

func TestRenderEmptySliceDrawsOnlyGrid(t *testing.T) {
	cases := []struct {
		name   string
		series utils.Series
		vp     viewport.Viewport
	}{
		{"empty series", utils.Series{}, viewport.Viewport{VisibleCount: 50}},
		{"offset past end", pointSeries(1, 2, 3), viewport.Viewport{VisibleCount: 5, Offset: 10}},
	}
	for _, tc := range cases {
		r := NewRaster(100, 100)
		RenderTheme(r, tc.series, tc.vp, ModeLine, testTheme)
		for y := 0; y < 100; y++ {
			want := testTheme.Background
			if y == 0 || y == 24 || y == 49 || y == 74 || y == 99 {
				want = testTheme.Grid
			}
			if got := at(r, 37, y); got != want {
				t.Fatalf("%s: row %d: got %v want %v", tc.name, y, got, want)
			}
		}
	}
}

func TestRenderScalesToVisibleSlice(t *testing.T) {
	// the spike at index 0 is outside the viewport and must not squash the scale
	series := pointSeries(1000, 1, 2, 3, 4, 5)
	r := NewRaster(100, 100)
	RenderTheme(r, series, viewport.Viewport{VisibleCount: 5, Offset: 1}, ModeLine, testTheme)
	if at(r, 10, 99) != testTheme.Line {
		t.Errorf("lowest visible price should sit on the bottom row")
	}
	if at(r, 90, 0) != testTheme.Line {
		t.Errorf("highest visible price should sit on the top row")
	}
}

func TestRenderFlatSeries(t *testing.T) {
	r := NewRaster(60, 40)
	RenderTheme(r, pointSeries(7, 7, 7, 7), viewport.Viewport{VisibleCount: 4}, ModeLine, testTheme)
	if at(r, 30, 0) != testTheme.Line {
		t.Errorf("flat series should draw a straight line, got %v", at(r, 30, 0))
	}
}

func TestRenderLineFromCandleCloses(t *testing.T) {
	series := utils.Series{Candles: []utils.Candle{
		{O: 1, C: 1, H: 50, L: 0},
		{O: 1, C: 2, H: 50, L: 0},
	}}
	r := NewRaster(100, 100)
	RenderTheme(r, series, viewport.Viewport{VisibleCount: 2}, ModeLine, testTheme)
	// closes 1 and 2: first close on the bottom row, second on the top
	if at(r, 25, 99) != testTheme.Line || at(r, 75, 0) != testTheme.Line {
		t.Errorf("line mode should connect candle closes")
	}
}

func TestRenderPure(t *testing.T) {
	series := pointSeries(5, 9, 3, 8, 1, 7, 2, 6)
	vp := viewport.Viewport{VisibleCount: 6, Offset: 1}
	for _, mode := range []Mode{ModeCandle, ModeLine} {
		a, b := NewRaster(120, 80), NewRaster(120, 80)
		Render(a, series, vp, mode)
		Render(b, series, vp, mode)
		if !bytes.Equal(a.Image().Pix, b.Image().Pix) {
			t.Errorf("mode %s: identical arguments produced different pixels", mode)
		}
	}
}

func TestRenderTinySurface(t *testing.T) {
	r := NewRaster(4, 4)
	Render(r, pointSeries(1, 2, 3), viewport.Viewport{VisibleCount: 5}, ModeLine)
	Render(NewRaster(0, 0), pointSeries(1), viewport.Viewport{VisibleCount: 5}, ModeCandle)
}

func TestRasterPNG(t *testing.T) {
	r := NewRaster(32, 16)
	Render(r, pointSeries(1, 3, 2), viewport.Viewport{VisibleCount: 5}, ModeLine)
	data, err := r.PNG()
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("LINE"); err != nil || m != ModeLine {
		t.Errorf("expected line mode")
	}
	if m, err := ParseMode(""); err != nil || m != ModeCandle {
		t.Errorf("expected candle default")
	}
	if _, err := ParseMode("area"); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}
