package chart

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"pxchart/src/utils"
	"pxchart/src/viewport"
)

// GridLines is the number of horizontal reference lines
const GridLines = 5

// body width as a share of the candle slot
const bodyRatio = 0.7

type Mode int

const (
	ModeCandle Mode = iota
	ModeLine
)

func (m Mode) String() string {
	if m == ModeLine {
		return "line"
	}
	return "candle"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "candle", "candles":
		return ModeCandle, nil
	case "line":
		return ModeLine, nil
	}
	return ModeCandle, fmt.Errorf("unknown chart mode %q", s)
}

// Render draws series into s using the default theme
func Render(s Surface, series utils.Series, vp viewport.Viewport, mode Mode) {
	RenderTheme(s, series, vp, mode, DefaultTheme)
}

// RenderTheme redraws the full frame: background, grid and the visible
// slice of series. It keeps no state between calls.
// Candle mode needs candles; a series of raw points is drawn as a line.
func RenderTheme(s Surface, series utils.Series, vp viewport.Viewport, mode Mode, th Theme) {
	b := s.Bounds()
	fillRect(s, b, th.Background)
	area := b.Inset(th.Padding)
	if area.Empty() {
		return
	}
	drawGrid(s, area, th.Grid)

	from, to := viewport.VisibleRange(vp, series.Len())
	if from >= to {
		return
	}
	slot := float64(area.Dx()) / float64(max(vp.VisibleCount, 1))
	if len(series.Candles) > 0 && mode == ModeCandle {
		visible := series.Candles[from:to]
		lo, hi := candleRange(visible)
		drawCandles(s, area, visible, slot, yScale(area, lo, hi), th)
		return
	}
	values := lineValues(series, from, to)
	lo, hi := valueRange(values)
	drawLine(s, area, values, slot, yScale(area, lo, hi), th.Line)
}

// lineValues returns the visible closes, or prices when no candles exist
func lineValues(series utils.Series, from, to int) []float64 {
	values := make([]float64, 0, to-from)
	if len(series.Candles) > 0 {
		for _, c := range series.Candles[from:to] {
			values = append(values, c.C)
		}
		return values
	}
	for _, p := range series.Points[from:to] {
		values = append(values, p.Price)
	}
	return values
}

func candleRange(candles []utils.Candle) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.L)
		hi = math.Max(hi, c.H)
	}
	return lo, hi
}

func valueRange(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// yScale maps a price to a pixel row inside area, hi at the top
func yScale(area image.Rectangle, lo, hi float64) func(float64) int {
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}
	h := float64(area.Dy() - 1)
	return func(px float64) int {
		return area.Min.Y + int(math.Round((hi-px)/rng*h))
	}
}

func drawGrid(s Surface, area image.Rectangle, c color.Color) {
	h := area.Dy() - 1
	for k := 0; k < GridLines; k++ {
		y := area.Min.Y + k*h/(GridLines-1)
		for x := area.Min.X; x < area.Max.X; x++ {
			s.Set(x, y, c)
		}
	}
}

func drawCandles(s Surface, area image.Rectangle, candles []utils.Candle, slot float64, y func(float64) int, th Theme) {
	half := max(0.5, slot*bodyRatio/2)
	for k, c := range candles {
		col := th.Down
		if c.IsUp() {
			col = th.Up
		}
		cx := float64(area.Min.X) + (float64(k)+0.5)*slot
		x := int(cx)
		// wick
		fillRect(s, image.Rect(x, y(c.H), x+1, y(c.L)+1), col)
		// body
		top, bottom := y(math.Max(c.O, c.C)), y(math.Min(c.O, c.C))
		x0 := int(math.Round(cx - half))
		x1 := max(int(math.Round(cx+half)), x0+1)
		fillRect(s, image.Rect(x0, top, x1, bottom+1).Intersect(area), col)
	}
}

func drawLine(s Surface, area image.Rectangle, values []float64, slot float64, y func(float64) int, c color.Color) {
	xOf := func(k int) int {
		return area.Min.X + int((float64(k)+0.5)*slot)
	}
	if len(values) == 1 {
		s.Set(xOf(0), y(values[0]), c)
		return
	}
	for k := 1; k < len(values); k++ {
		segment(s, xOf(k-1), y(values[k-1]), xOf(k), y(values[k]), c)
	}
}

// segment draws a straight line with Bresenham's algorithm
func segment(s Surface, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		s.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func fillRect(s Surface, r image.Rectangle, c color.Color) {
	if rs, ok := s.(*Raster); ok && r.Eq(rs.Bounds()) {
		rs.Fill(c)
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s.Set(x, y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
