package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents streams task completion events as server-sent events.
// The stream stays open until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		WriteError(w, http.StatusServiceUnavailable, "event stream not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.broadcaster.Subscribe()
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "event stream closed")
		return
	}
	defer s.broadcaster.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}

			payload, err := json.Marshal(map[string]string{
				"task_id": event.TaskId,
				"kind":    string(event.Kind),
				"state":   event.State.String(),
				"result":  event.Result,
				"error":   event.Error,
				"at":      event.At.Format("2006-01-02T15:04:05.000Z07:00"),
			})
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
