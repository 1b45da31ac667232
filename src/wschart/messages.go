package wschart

import (
	"encoding/json"
	"log/slog"

	"pxchart/src/pricefeed"
	"pxchart/src/viewport"
)

// ClientMessage is a request from a chart client. Which fields are used
// depends on Type: select (Symbol, Window), mode (Mode), resize (W, H),
// wheel (DeltaY), down/move (X), up.
type ClientMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol,omitempty"`
	Window string  `json:"window,omitempty"`
	Mode   string  `json:"mode,omitempty"`
	W      int     `json:"w,omitempty"`
	H      int     `json:"h,omitempty"`
	X      float64 `json:"x,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`
}

type ServerResponse struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusData struct {
	State string `json:"state"`
	Len   int    `json:"len"`
}

// FrameData announces the binary PNG message that follows it
type FrameData struct {
	Seq      uint64            `json:"seq"`
	Viewport viewport.Viewport `json:"viewport"`
	Mode     string            `json:"mode"`
	Last     *pricefeed.Tick   `json:"last,omitempty"`
}

func response(typ, topic string, data any) []byte {
	jsonData, err := json.Marshal(ServerResponse{Type: typ, Topic: topic, Data: data})
	if err != nil {
		slog.Error("forming response", "type", typ, "error", err)
	}
	return jsonData
}

func errorResponse(reqType string, reqTopic string, msg string) []byte {
	return response(reqType, reqTopic, ErrorResponse{Error: msg})
}
