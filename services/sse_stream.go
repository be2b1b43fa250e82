package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"twinlink/logger"
	"twinlink/realtime"
)

// EventStream serves a user's realtime events as server-sent events.
type EventStream struct {
	hub       *realtime.Hub
	keepalive time.Duration
	log       *logger.Logger
}

func NewEventStream(hub *realtime.Hub, keepalive time.Duration, log *logger.Logger) *EventStream {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &EventStream{hub: hub, keepalive: keepalive, log: log.With("service", "EventStream")}
}

// Stream expects the authenticated user id in c.Locals("user_id").
func (s *EventStream) Stream(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	sub, unsubscribe := s.hub.Subscribe(userID)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		ticker := time.NewTicker(s.keepalive)
		defer ticker.Stop()

		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					s.log.Debug("sse client gone", "userID", userID, "error", err)
					return
				}
			case <-ticker.C:
				_, _ = w.WriteString(": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, ev realtime.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	return w.Flush()
}
