package http

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"subscan/core/port/in"
	"subscan/pkg/response"
)

// SSEHandler streams a scan session's event log to the browser. Because a
// session's chunks may be processed by any worker process, there is no
// in-memory fan-out to subscribe to; instead this handler polls
// ScanService.Stream (which reads Store.PollEventsAfter) on an interval and
// forwards any new rows as SSE frames, closing once a terminal event
// (done/error) is seen.
type SSEHandler struct {
	scan         in.ScanService
	log          zerolog.Logger
	pollInterval time.Duration
	pingInterval time.Duration
}

func NewSSEHandler(scan in.ScanService, log zerolog.Logger, pollInterval, pingInterval time.Duration) *SSEHandler {
	return &SSEHandler{
		scan:         scan,
		log:          log.With().Str("handler", "sse").Logger(),
		pollInterval: pollInterval,
		pingInterval: pingInterval,
	}
}

func (h *SSEHandler) Register(app fiber.Router) {
	app.Get("/gmail/scan/stream", h.Stream)
}

func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}
	sessionID := c.Query("sessionId")
	afterID := int64(c.QueryInt("afterId", 0))

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := c.Context()
		pollTicker := time.NewTicker(h.pollInterval)
		pingTicker := time.NewTicker(h.pingInterval)
		defer pollTicker.Stop()
		defer pingTicker.Stop()

		w.WriteString("event: connected\n")
		w.WriteString("data: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-pollTicker.C:
				events, err := h.scan.Stream(ctx, sessionID, userID, afterID)
				if err != nil {
					h.log.Debug().Err(err).Str("session_id", sessionID).Msg("stream poll failed")
					writeSSEError(w, err.Error())
					w.Flush()
					return
				}
				for _, ev := range events {
					writeSSEEvent(w, string(ev.Type), ev.Payload)
					afterID = ev.ID
					if ev.Type == "done" || ev.Type == "error" {
						w.Flush()
						return
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-pingTicker.C:
				w.WriteString("event: ping\ndata: {}\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}

func writeSSEEvent(w *bufio.Writer, eventType string, payload []byte) {
	w.WriteString("event: ")
	w.WriteString(eventType)
	w.WriteString("\n")
	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
}

func writeSSEError(w *bufio.Writer, msg string) {
	w.WriteString("event: error\n")
	w.WriteString("data: {\"error\":\"")
	w.WriteString(msg)
	w.WriteString("\"}\n\n")
}
