package main

import (
	"log/slog"

	"pxchart/src/svc"
)

// Injected via -ldflags -X
var VERSION = "feed-recorder-development"

func main() {
	slog.Info("starting service",
		slog.String("name", "pxchart-feed-recorder"),
		slog.String("version", VERSION),
	)
	svc.RunFeedRecorder()
}
