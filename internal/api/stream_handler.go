package api

import (
	"bufio"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const streamHeartbeat = 15 * time.Second

// EventSource hands out lifecycle event feeds. events.Hub satisfies it.
type EventSource interface {
	Listen() (<-chan []byte, func())
}

type StreamHandler struct {
	source    EventSource
	heartbeat time.Duration
}

func NewStreamHandler(source EventSource) *StreamHandler {
	return &StreamHandler{source: source, heartbeat: streamHeartbeat}
}

// StreamSessions writes lifecycle events as server-sent events until the
// client goes away or the feed is closed. Events are best effort: nothing is
// replayed on reconnect.
func (h *StreamHandler) StreamSessions(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	feed, stop := h.source.Listen()
	heartbeat := h.heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer stop()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case data, open := <-feed:
				if !open {
					return
				}
				fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				slog.Debug("Session stream client disconnected", slog.Any("error", err))
				return
			}
		}
	}))

	return nil
}
