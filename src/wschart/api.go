package wschart

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pxchart/src/chart"
	"pxchart/src/market"
	"pxchart/src/viewport"
)

func (s *ChartServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.NumClients()})
}

func (s *ChartServer) getMarkets(c *gin.Context) {
	rows, err := s.deps.Markets.Markets(c.Request.Context())
	if err != nil {
		slog.Error("market list failed", "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "market data unavailable"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *ChartServer) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Board.Snapshot())
}

func (s *ChartServer) getWindows(c *gin.Context) {
	ws := make([]market.Window, 0)
	for _, w := range s.deps.Loader.Windows() {
		ws = append(ws, w)
	}
	slices.SortFunc(ws, func(a, b market.Window) int { return a.Days - b.Days })
	c.JSON(http.StatusOK, ws)
}

// getChartPNG renders a freshly loaded series with the default viewport
func (s *ChartServer) getChartPNG(c *gin.Context) {
	symbol := c.Query("symbol")
	window := c.DefaultQuery("window", "1D")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "usage: symbol=<sym>&window=<window>"})
		return
	}
	if !s.windowSupported(window) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "window not supported"})
		return
	}
	mode, err := chart.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	w, h := s.deps.Session.Width, s.deps.Session.Height
	if w <= 0 || h <= 0 {
		w, h = 800, 400
	}
	if w, err = dimension(c.Query("w"), w); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid width"})
		return
	}
	if h, err = dimension(c.Query("h"), h); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid height"})
		return
	}

	series, err := s.deps.Loader.Load(c.Request.Context(), symbol, window)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, market.ErrNoData):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no data for " + symbol})
		default:
			slog.Error("chart load failed", "symbol", symbol, "window", window, "error", err)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "market data unavailable"})
		}
		return
	}
	visible := s.deps.Session.Visible
	if visible <= 0 {
		visible = viewport.DefaultVisible
	}
	vp := viewport.New(visible, s.deps.Session.Limits)
	vp.SetSeriesLen(series.Len())
	r := chart.NewRaster(w, h)
	theme := s.deps.Session.Theme
	if theme == (chart.Theme{}) {
		theme = chart.DefaultTheme
	}
	chart.RenderTheme(r, series, vp.Viewport(), mode, theme)
	png, err := r.PNG()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// getOhlc serves candles built from recorded ticks:
// symbol=<sym>&resol=<sec>&from=<ms>&to=<ms>, defaulting to one day of
// one minute candles
func (s *ChartServer) getOhlc(c *gin.Context) {
	if s.deps.Candles == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no recorded history"})
		return
	}
	symbol := strings.ToUpper(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "usage: symbol=<sym>&resol=<sec>&from=<ms>&to=<ms>"})
		return
	}
	resol, err := strconv.ParseUint(c.DefaultQuery("resol", "60"), 10, 32)
	if err != nil || resol == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid resolution"})
		return
	}
	to, err := int64Query(c, "to", time.Now().UnixMilli())
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to"})
		return
	}
	from, err := int64Query(c, "from", to-24*time.Hour.Milliseconds())
	if err != nil || from > to {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from"})
		return
	}
	if (to-from)/(int64(resol)*1000) > maxOhlcCandles {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "range too large for resolution"})
		return
	}
	candles, err := s.deps.Candles.Ohlc(c.Request.Context(), symbol, from, to, uint32(resol))
	if err != nil {
		slog.Error("ohlc query failed", "symbol", symbol, "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, candles)
}

func int64Query(c *gin.Context, name string, def int64) (int64, error) {
	q := c.Query(name)
	if q == "" {
		return def, nil
	}
	return strconv.ParseInt(q, 10, 64)
}

func dimension(q string, def int) (int, error) {
	if q == "" {
		return def, nil
	}
	v, err := strconv.Atoi(q)
	if err != nil || v <= 0 || v > maxDimension {
		return 0, errors.New("invalid dimension")
	}
	return v, nil
}
