package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// eventStream writes server-sent events to the browser. Headers are only sent with
// the first event so that failures before any output can still use a JSON error body.
type eventStream struct {
	c              echo.Context
	flusher        http.Flusher
	conversationID string
	started        bool
}

func newEventStream(c echo.Context, conversationID string) (*eventStream, error) {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return nil, requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}
	return &eventStream{c: c, flusher: flusher, conversationID: conversationID}, nil
}

func (s *eventStream) start() error {
	header := s.c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	s.c.Response().WriteHeader(http.StatusOK)
	s.started = true

	return s.write("conversation", map[string]string{"conversation_id": s.conversationID})
}

func (s *eventStream) send(event string, payload any) error {
	if !s.started {
		if err := s.start(); err != nil {
			return err
		}
	}
	return s.write(event, payload)
}

func (s *eventStream) write(event string, payload any) error {
	if err := writeSSEEvent(s.c.Response(), event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
