package wschart

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pxchart/src/chart"
	"pxchart/src/interaction"
	"pxchart/src/session"
)

const (
	// time to read the next client's pong message
	pongWait = 60 * time.Second
	// time period to send pings to client
	pingPeriod = (pongWait * 9) / 10
	// time allowed to write a message to client
	writeWait = 10 * time.Second
	// max message size allowed
	maxMessageSize = 512
	// largest accepted chart dimension in pixels
	maxDimension = 4096
	// upper bound of candles returned by /api/ohlc
	maxOhlcCandles = 10000
)

type outbound struct {
	kind int
	data []byte
}

// Client is one websocket connection and the chart session it drives.
// It is the session's sink: output is queued without blocking and
// frames are dropped for clients that do not keep up.
type Client struct {
	ID      string
	conn    *websocket.Conn
	send    chan outbound
	session *session.Session
	windows func(string) bool
}

func (c *Client) enqueue(kind int, data []byte) bool {
	select {
	case c.send <- outbound{kind: kind, data: data}:
		return true
	default:
		return false
	}
}

func (c *Client) OnStatus(st session.Status) {
	c.enqueue(websocket.TextMessage, response("status", st.Key.String(), StatusData{State: string(st.State), Len: st.Len}))
}

func (c *Client) OnFrame(f session.Frame) {
	png, err := f.Image.PNG()
	if err != nil {
		slog.Error("encoding frame", "client", c.ID, "error", err)
		return
	}
	// header and image need two free slots or the frame is skipped
	if cap(c.send)-len(c.send) < 2 {
		return
	}
	meta := FrameData{Seq: f.Seq, Viewport: f.Viewport, Mode: f.Mode.String(), Last: f.Last}
	if c.enqueue(websocket.TextMessage, response("frame", f.Key.String(), meta)) {
		c.enqueue(websocket.BinaryMessage, png)
	}
}

// handleRequest applies one client message to the session
func (c *Client) handleRequest(message []byte) {
	var data ClientMessage
	if err := json.Unmarshal(message, &data); err != nil {
		c.enqueue(websocket.TextMessage, errorResponse("error", "", "invalid message"))
		return
	}
	reqType := strings.TrimSpace(strings.ToLower(data.Type))
	var err error
	switch reqType {
	case "select":
		topic := strings.ToUpper(data.Symbol + ":" + data.Window)
		if data.Symbol == "" {
			c.enqueue(websocket.TextMessage, errorResponse(reqType, topic, "usage: symbol and window"))
			return
		}
		if !c.windows(data.Window) {
			c.enqueue(websocket.TextMessage, errorResponse(reqType, topic, "window not supported"))
			return
		}
		err = c.session.Select(data.Symbol, data.Window)
	case "mode":
		m, perr := chart.ParseMode(data.Mode)
		if perr != nil {
			c.enqueue(websocket.TextMessage, errorResponse(reqType, data.Mode, perr.Error()))
			return
		}
		err = c.session.SetMode(m)
	case "resize":
		if data.W <= 0 || data.H <= 0 || data.W > maxDimension || data.H > maxDimension {
			c.enqueue(websocket.TextMessage, errorResponse(reqType, "", "invalid size"))
			return
		}
		err = c.session.Resize(data.W, data.H)
	case "wheel":
		err = c.session.Input(interaction.Wheel{DeltaY: data.DeltaY})
	case "down":
		err = c.session.Input(interaction.PointerDown{X: data.X})
	case "move":
		err = c.session.Input(interaction.PointerMove{X: data.X})
	case "up":
		err = c.session.Input(interaction.PointerUp{})
	default:
		c.enqueue(websocket.TextMessage, errorResponse(reqType, "", "unknown message type"))
		return
	}
	if err != nil {
		slog.Info("session rejected request", "client", c.ID, "type", reqType, "error", err)
	}
}

// readPump processes incoming messages until the connection fails
func (c *Client) readPump(done chan<- struct{}) {
	defer close(done)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleRequest(msg)
	}
}

// writePump sends queued messages and pings to the client
func (c *Client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			if err != nil {
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
