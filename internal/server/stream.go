package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"epitelos/internal/runner"
)

// handleResponseStream delivers state snapshots over Server-Sent Events.
// Each event carries the full visible text so far, not a delta, so the
// UI simply replaces its rendered text on every event. The stream is
// sent the current snapshot first, then every update until the run
// reaches a terminal status or the client disconnects.
func (s *Server) handleResponseStream(c echo.Context) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	updates, unsubscribe := s.orch.Subscribe()
	defer unsubscribe()

	if err := writeSSEEvent(writer, "state", s.orch.Snapshot()); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case state := <-updates:
			if err := writeSSEEvent(writer, "state", state); err != nil {
				slog.Error("failed to write SSE event", "err", err)
				return nil
			}
			flusher.Flush()
			// Updates are only published for running and terminal states;
			// a terminal snapshot ends the stream.
			if state.Status != runner.StatusRunning {
				return nil
			}
		}
	}
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
