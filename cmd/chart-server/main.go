package main

import (
	"log/slog"

	"pxchart/src/svc"
)

// Injected via -ldflags -X
var VERSION = "chart-server-development"

func main() {
	slog.Info("starting service",
		slog.String("name", "pxchart-server"),
		slog.String("version", VERSION),
	)
	svc.RunChartServer()
}
